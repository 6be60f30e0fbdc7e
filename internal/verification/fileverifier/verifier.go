// Package fileverifier checks that a tabular evidence file proves recent
// activity. It scans the file's date column, takes the most recent entry, and
// compares its age against the rule's recency window.
package fileverifier

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/catalog"
	"corecompliance/pkg/platform/sentinel"
)

// graceMultiplier widens the recency window before a file is declared very
// outdated: content older than the window but within graceMultiplier times
// the window is merely outdated.
const graceMultiplier = 2

// daysPerMonth converts a day difference into months.
const daysPerMonth = 30.44

// FileStore opens evidence content by locator. Physical storage is an
// external concern; the verifier only reads.
type FileStore interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// AnswerStore is the slice of the answer store the verifier needs.
type AnswerStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Answer, error)
	ApplyFileVerdict(ctx context.Context, id uuid.UUID, fileType string, version int, status models.FileVerificationStatus, message string) error
}

// RuleCatalog resolves the recency window declared for the evidence.
type RuleCatalog interface {
	FindRule(ctx context.Context, ruleID uuid.UUID) (catalog.Rule, error)
}

// Notifier re-triggers reconciliation once a verdict is applied.
type Notifier interface {
	MarkDirty(answerID uuid.UUID)
}

// Verifier derives file recency verdicts. Safe to invoke before the upload
// has fully settled in external storage: an unreadable file yields an error
// verdict, never corrupted state.
type Verifier struct {
	answers AnswerStore
	rules   RuleCatalog
	files   FileStore
	loop    Notifier
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

func New(answers AnswerStore, rules RuleCatalog, files FileStore, loop Notifier, logger *slog.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		answers: answers,
		rules:   rules,
		files:   files,
		loop:    loop,
		logger:  logger,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequestFileVerification verifies synchronously in a background goroutine
// and applies the verdict through the version-guarded store. Verdicts for
// superseded evidence are discarded silently.
func (v *Verifier) RequestFileVerification(ctx context.Context, answerID uuid.UUID, fileType string) error {
	go func() {
		// Detach from the request context: the caller does not wait.
		if err := v.verify(context.Background(), answerID, fileType); err != nil {
			v.logger.Error("file verification failed",
				"answer_id", answerID.String(),
				"file_type", fileType,
				"error", err.Error(),
			)
		}
	}()
	return nil
}

func (v *Verifier) verify(ctx context.Context, answerID uuid.UUID, fileType string) error {
	answer, err := v.answers.Get(ctx, answerID)
	if err != nil {
		return err
	}
	evidence, ok := answer.FileByType(fileType)
	if !ok {
		return fmt.Errorf("no evidence of type %q on answer %s: %w", fileType, answerID, sentinel.ErrNotFound)
	}
	if evidence.VerificationStatus != models.FileVerificationPending {
		// Already resolved or never requested; invoking twice is harmless.
		return nil
	}

	rule, err := v.rules.FindRule(ctx, answer.RuleID)
	if err != nil {
		return err
	}
	req, ok := rule.RequirementFor(fileType)
	if !ok || req.RecencyMonths == 0 {
		return fmt.Errorf("file type %q carries no recency window: %w", fileType, sentinel.ErrInvalidState)
	}

	status, message := v.inspect(ctx, evidence.Locator, req.RecencyMonths)

	err = v.answers.ApplyFileVerdict(ctx, answerID, fileType, evidence.Version, status, message)
	if errors.Is(err, sentinel.ErrSuperseded) {
		// The file was replaced while we were reading it; the verdict
		// belongs to evidence that no longer exists.
		return nil
	}
	if err != nil {
		return err
	}
	v.loop.MarkDirty(answerID)
	return nil
}

// inspect reads the file and produces a verdict. All failure modes collapse
// into an error verdict with a human-readable message; the verifier never
// leaves evidence pending on its own account.
func (v *Verifier) inspect(ctx context.Context, locator string, windowMonths int) (models.FileVerificationStatus, string) {
	rc, err := v.files.Open(ctx, locator)
	if err != nil {
		return models.FileVerificationError, "no se pudo leer el archivo"
	}
	defer rc.Close()

	latest, err := latestDate(rc)
	if err != nil {
		return models.FileVerificationError, err.Error()
	}

	months := v.clock().Sub(latest).Hours() / 24 / daysPerMonth
	detail := fmt.Sprintf("última fecha: %s, diferencia: %d meses", latest.Format("2006-01-02"), int(months))
	switch {
	case months < float64(windowMonths):
		return models.FileVerificationUpToDate, "Registros al día (" + detail + ")"
	case months < float64(graceMultiplier*windowMonths):
		return models.FileVerificationOutdated, fmt.Sprintf("Registros con >%d meses de antigüedad (%s)", windowMonths, detail)
	default:
		return models.FileVerificationVeryOutdated, "Registros no están al día (" + detail + ")"
	}
}

// dateLayouts are tried in order for each cell of the date column.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// latestDate parses CSV content and returns the maximum value of the date
// column (header "fecha" or "date", case-insensitive).
func latestDate(r io.Reader) (time.Time, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return time.Time{}, errors.New("no se pudo leer el archivo")
	}
	col := -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "fecha", "date":
			col = i
		}
	}
	if col == -1 {
		return time.Time{}, errors.New("no se encontró columna 'fecha' en el archivo")
	}

	var latest time.Time
	found := false
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return time.Time{}, errors.New("no se pudo leer el archivo")
		}
		if col >= len(record) {
			continue
		}
		t, ok := parseDate(record[col])
		if !ok {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return time.Time{}, errors.New("no se encontraron fechas válidas en el archivo")
	}
	return latest, nil
}

func parseDate(cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
