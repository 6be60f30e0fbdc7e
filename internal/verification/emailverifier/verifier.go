// Package emailverifier sends a deliverability probe through an external
// mail API. The probe itself carries no verdict: delivery or bounce events
// arrive later through the provider's webhook and are applied to the answer
// store there. Until then the email evidence stays pending.
package emailverifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/platform/config"
)

// AnswerStore is the slice of the answer store the verifier needs.
type AnswerStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Answer, error)
}

// Verifier sends verification probes. A send failure leaves the email
// pending; the core never times pending evidence out on its own.
type Verifier struct {
	answers AnswerStore
	cfg     config.Mail
	client  *http.Client
	logger  *slog.Logger
}

func New(answers AnswerStore, cfg config.Mail, logger *slog.Logger) *Verifier {
	return &Verifier{
		answers: answers,
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// RequestEmailVerification sends the probe in the background. Invoking it
// again for the same answer just sends another probe; the version guard on
// verdict application keeps duplicates harmless.
func (v *Verifier) RequestEmailVerification(ctx context.Context, answerID uuid.UUID) error {
	go func() {
		if err := v.send(context.Background(), answerID); err != nil {
			v.logger.Error("email verification probe failed",
				"answer_id", answerID.String(),
				"error", err.Error(),
			)
		}
	}()
	return nil
}

func (v *Verifier) send(ctx context.Context, answerID uuid.UUID) error {
	answer, err := v.answers.Get(ctx, answerID)
	if err != nil {
		return err
	}
	if answer.EmailStatus != models.EmailStatusPending {
		return nil
	}
	if !models.EmailFormatValid(answer.Email) {
		// Format-invalid emails never reach this point via the service;
		// guard anyway rather than probe a garbage address.
		return fmt.Errorf("email %q is not well-formed", answer.Email)
	}

	payload, err := json.Marshal(sendRequest{
		From:    v.cfg.FromEmail,
		To:      answer.Email,
		Subject: "Verificación de Email - CoreCompliance",
		HTML:    "<p>Este es un email de verificación de CoreCompliance.</p>",
	})
	if err != nil {
		return fmt.Errorf("marshal probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.APIURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("send probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send probe: mail API returned %d", resp.StatusCode)
	}

	v.logger.Info("email verification probe sent",
		"answer_id", answerID.String(),
		"status_code", resp.StatusCode,
	)
	return nil
}
