package verification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// EmailRequester requests email deliverability verification.
type EmailRequester interface {
	RequestEmailVerification(ctx context.Context, answerID uuid.UUID) error
}

// FileRequester requests file recency verification.
type FileRequester interface {
	RequestFileVerification(ctx context.Context, answerID uuid.UUID, fileType string) error
}

// Composite joins the two concrete verifiers into one Gateway. An unset
// requester acknowledges requests without acting on them: the evidence stays
// pending until an operator or webhook resolves it, which matches the
// gateway failure semantics. This also lets the wiring construct the
// Composite before the verifiers exist and bind them afterwards.
type Composite struct {
	Email  EmailRequester
	File   FileRequester
	Logger *slog.Logger
}

func (c *Composite) RequestEmailVerification(ctx context.Context, answerID uuid.UUID) error {
	if c.Email == nil {
		if c.Logger != nil {
			c.Logger.Info("email verification requested without configured verifier",
				"answer_id", answerID.String())
		}
		return nil
	}
	return c.Email.RequestEmailVerification(ctx, answerID)
}

func (c *Composite) RequestFileVerification(ctx context.Context, answerID uuid.UUID, fileType string) error {
	if c.File == nil {
		if c.Logger != nil {
			c.Logger.Info("file verification requested without configured verifier",
				"answer_id", answerID.String(), "file_type", fileType)
		}
		return nil
	}
	return c.File.RequestFileVerification(ctx, answerID, fileType)
}
