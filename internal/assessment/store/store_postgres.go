package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"corecompliance/internal/assessment/models"
	"corecompliance/pkg/platform/sentinel"
)

// PostgresStore persists answers and their file evidence in PostgreSQL.
//
// Schema:
//
//	answers(id, rule_id, subject, status, override, notes, name, email,
//	        email_status, email_version, phone, last_updated,
//	        UNIQUE (rule_id, subject))
//	answer_files(answer_id, file_type, locator, version,
//	             verification_status, verification_message, uploaded_at,
//	             PRIMARY KEY (answer_id, file_type))
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

const answerColumns = `id, rule_id, subject, status, override, notes, name, email,
	email_status, email_version, phone, last_updated`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Answer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+answerColumns+` FROM answers WHERE id = $1`, id)
	answer, err := scanAnswer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("get answer %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get answer %s: %w", id, err)
	}
	if err := s.attachFiles(ctx, answer); err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *PostgresStore) FindByRule(ctx context.Context, subject string, ruleID uuid.UUID) (*models.Answer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE rule_id = $1 AND subject = $2`, ruleID, subject)
	answer, err := scanAnswer(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("find answer for rule %s: %w", ruleID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find answer for rule %s: %w", ruleID, err)
	}
	if err := s.attachFiles(ctx, answer); err != nil {
		return nil, err
	}
	return answer, nil
}

// Create persists the answer and its file evidence in one transaction.
func (s *PostgresStore) Create(ctx context.Context, answer *models.Answer) error {
	answer.ID = uuid.New()
	answer.LastUpdated = s.clock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO answers (id, rule_id, subject, status, override, notes, name, email,
			                     email_status, email_version, phone, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, answer.ID, answer.RuleID, answer.Subject, answer.Status, overrideParam(answer.Override),
			answer.Notes, answer.Name, answer.Email, answer.EmailStatus, answer.EmailVersion,
			answer.Phone, answer.LastUpdated)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return fmt.Errorf("create answer for rule %s: %w", answer.RuleID, sentinel.ErrConflict)
			}
			return fmt.Errorf("create answer: %w", err)
		}
		return s.syncFiles(ctx, tx, answer)
	})
}

func (s *PostgresStore) UpdateEvidence(ctx context.Context, answer *models.Answer) error {
	answer.LastUpdated = s.clock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE answers
			SET override = $2, notes = $3, name = $4, email = $5,
			    email_status = $6, email_version = $7, phone = $8, last_updated = $9
			WHERE id = $1
		`, answer.ID, overrideParam(answer.Override), answer.Notes, answer.Name, answer.Email,
			answer.EmailStatus, answer.EmailVersion, answer.Phone, answer.LastUpdated)
		if err != nil {
			return fmt.Errorf("update answer %s: %w", answer.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update answer %s: %w", answer.ID, sentinel.ErrNotFound)
		}
		return s.syncFiles(ctx, tx, answer)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE answers SET status = $2, last_updated = $3 WHERE id = $1`,
		id, status, s.clock())
	if err != nil {
		return fmt.Errorf("update status for answer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update status for answer %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkEmailPending(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE answers SET email_status = $2, last_updated = $3 WHERE id = $1`,
		id, models.EmailStatusPending, s.clock())
	if err != nil {
		return fmt.Errorf("mark email pending for answer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark email pending for answer %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkFilePending(ctx context.Context, id uuid.UUID, fileType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE answer_files SET verification_status = $3
		WHERE answer_id = $1 AND file_type = $2
	`, id, fileType, models.FileVerificationPending)
	if err != nil {
		return fmt.Errorf("mark file pending for answer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark file pending for answer %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// ApplyEmailVerdict applies a terminal email verdict guarded by the evidence
// version. Zero rows affected means the evidence was replaced (or resolved)
// since the verification was requested.
func (s *PostgresStore) ApplyEmailVerdict(ctx context.Context, id uuid.UUID, version int, status models.EmailStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("apply email verdict: %q is not terminal: %w", status, sentinel.ErrInvalidState)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE answers SET email_status = $2, last_updated = $3
		WHERE id = $1 AND email_version = $4 AND email_status = $5
	`, id, status, s.clock(), version, models.EmailStatusPending)
	if err != nil {
		return fmt.Errorf("apply email verdict for answer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("apply email verdict for answer %s: %w", id, sentinel.ErrSuperseded)
	}
	return nil
}

func (s *PostgresStore) ApplyFileVerdict(ctx context.Context, id uuid.UUID, fileType string, version int, status models.FileVerificationStatus, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("apply file verdict: %q is not terminal: %w", status, sentinel.ErrInvalidState)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE answer_files SET verification_status = $4, verification_message = $5
		WHERE answer_id = $1 AND file_type = $2 AND version = $3
		  AND verification_status = $6
	`, id, fileType, version, status, message, models.FileVerificationPending)
	if err != nil {
		return fmt.Errorf("apply file verdict for answer %s file %s: %w", id, fileType, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("apply file verdict for answer %s file %s: %w", id, fileType, sentinel.ErrSuperseded)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string) ([]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE subject = $1 ORDER BY id`, subject)
	if err != nil {
		return nil, fmt.Errorf("list answers for subject: %w", err)
	}
	return s.collect(ctx, rows, "list answers for subject")
}

func (s *PostgresStore) ListByEmail(ctx context.Context, email string) ([]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("list answers by email: %w", err)
	}
	return s.collect(ctx, rows, "list answers by email")
}

func (s *PostgresStore) ListPendingVerification(ctx context.Context) ([]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+answerColumns+` FROM answers a
		WHERE a.email_status = $1
		   OR EXISTS (
			SELECT 1 FROM answer_files f
			WHERE f.answer_id = a.id AND f.verification_status = $2
		   )
	`, models.EmailStatusPending, models.FileVerificationPending)
	if err != nil {
		return nil, fmt.Errorf("list pending verification: %w", err)
	}
	return s.collect(ctx, rows, "list pending verification")
}

func (s *PostgresStore) collect(ctx context.Context, rows *sql.Rows, op string) ([]*models.Answer, error) {
	defer rows.Close()
	var out []*models.Answer
	for rows.Next() {
		answer, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, answer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, answer := range out {
		if err := s.attachFiles(ctx, answer); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// syncFiles reconciles the answer_files rows with the in-memory evidence
// set: upsert what is present, delete what was removed.
func (s *PostgresStore) syncFiles(ctx context.Context, tx *sql.Tx, answer *models.Answer) error {
	types := make([]string, 0, len(answer.Files))
	for _, f := range answer.Files {
		types = append(types, f.FileType)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO answer_files (answer_id, file_type, locator, version,
			                          verification_status, verification_message, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (answer_id, file_type) DO UPDATE SET
				locator = EXCLUDED.locator,
				version = EXCLUDED.version,
				verification_status = EXCLUDED.verification_status,
				verification_message = EXCLUDED.verification_message,
				uploaded_at = EXCLUDED.uploaded_at
		`, answer.ID, f.FileType, f.Locator, f.Version, f.VerificationStatus,
			f.VerificationMessage, f.UploadedAt)
		if err != nil {
			return fmt.Errorf("upsert file %s for answer %s: %w", f.FileType, answer.ID, err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM answer_files
		WHERE answer_id = $1 AND file_type <> ALL($2::text[])
	`, answer.ID, pq.Array(types))
	if err != nil {
		return fmt.Errorf("prune files for answer %s: %w", answer.ID, err)
	}
	return nil
}

func (s *PostgresStore) attachFiles(ctx context.Context, answer *models.Answer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_type, locator, version, verification_status, verification_message, uploaded_at
		FROM answer_files
		WHERE answer_id = $1
		ORDER BY file_type
	`, answer.ID)
	if err != nil {
		return fmt.Errorf("load files for answer %s: %w", answer.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f models.FileEvidence
		if err := rows.Scan(&f.FileType, &f.Locator, &f.Version, &f.VerificationStatus,
			&f.VerificationMessage, &f.UploadedAt); err != nil {
			return fmt.Errorf("scan file for answer %s: %w", answer.ID, err)
		}
		answer.Files = append(answer.Files, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load files for answer %s: %w", answer.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnswer(row rowScanner) (*models.Answer, error) {
	var (
		answer   models.Answer
		override sql.NullString
	)
	err := row.Scan(&answer.ID, &answer.RuleID, &answer.Subject, &answer.Status, &override,
		&answer.Notes, &answer.Name, &answer.Email, &answer.EmailStatus, &answer.EmailVersion,
		&answer.Phone, &answer.LastUpdated)
	if err != nil {
		return nil, err
	}
	if override.Valid {
		v := models.Status(override.String)
		answer.Override = &v
	}
	return &answer, nil
}

func overrideParam(o *models.Status) any {
	if o == nil {
		return nil
	}
	return string(*o)
}
