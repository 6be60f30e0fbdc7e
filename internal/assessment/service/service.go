package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/catalog"
	"corecompliance/internal/verification"
	dErrors "corecompliance/pkg/domain-errors"
	"corecompliance/pkg/platform/sentinel"
)

// Catalog is the read-only rule catalog the service evaluates against.
type Catalog interface {
	ListDomains(ctx context.Context) ([]catalog.Domain, error)
	FindRule(ctx context.Context, ruleID uuid.UUID) (catalog.Rule, error)
	CountRules(ctx context.Context) (int, error)
}

// AnswerStore persists evidence and derived statuses.
type AnswerStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Answer, error)
	FindByRule(ctx context.Context, subject string, ruleID uuid.UUID) (*models.Answer, error)
	Create(ctx context.Context, answer *models.Answer) error
	UpdateEvidence(ctx context.Context, answer *models.Answer) error
	MarkEmailPending(ctx context.Context, id uuid.UUID) error
	MarkFilePending(ctx context.Context, id uuid.UUID, fileType string) error
	ApplyEmailVerdict(ctx context.Context, id uuid.UUID, version int, status models.EmailStatus) error
	ListBySubject(ctx context.Context, subject string) ([]*models.Answer, error)
	ListByEmail(ctx context.Context, email string) ([]*models.Answer, error)
}

// EvidenceFiles stores uploaded evidence content and hands back the locator
// answers reference it by.
type EvidenceFiles interface {
	Put(ctx context.Context, name string, content io.Reader) (string, error)
}

// Reconciler is the trigger surface of the reconciliation loop.
type Reconciler interface {
	MarkDirty(answerID uuid.UUID)
	ScheduleFileVerification(answerID uuid.UUID, fileType string)
}

// StatsCache caches the dashboard aggregate per subject. Implementations may
// be absent; the service recomputes on miss.
type StatsCache interface {
	Get(ctx context.Context, subject string) (Stats, bool)
	Set(ctx context.Context, subject string, stats Stats)
	Invalidate(ctx context.Context, subject string)
}

// Service orchestrates evidence submission and evaluation reads. It keeps
// orchestration out of handlers and the derivation engine pure.
type Service struct {
	catalog Catalog
	answers AnswerStore
	files   EvidenceFiles
	loop    Reconciler
	gateway verification.Gateway
	stats   StatsCache
	logger  *slog.Logger
}

func NewService(cat Catalog, answers AnswerStore, files EvidenceFiles, loop Reconciler, gateway verification.Gateway, stats StatsCache, logger *slog.Logger) *Service {
	return &Service{
		catalog: cat,
		answers: answers,
		files:   files,
		loop:    loop,
		gateway: gateway,
		stats:   stats,
		logger:  logger,
	}
}

// EvidenceChanges is a partial update: nil pointers mean "no change". A nil
// map value under Files removes that evidence item. The derived status is
// deliberately absent: it cannot be written directly while derivation is
// active, and manual judgement travels through Override.
type EvidenceChanges struct {
	Notes    *string
	Name     *string
	Email    *string
	Phone    *string
	Override *string
	Files    map[string]*FileUpload
}

// FileUpload references evidence content already placed in external storage.
type FileUpload struct {
	Locator string
}

// EvaluatedRule pairs a rule with the subject's answer, if any.
type EvaluatedRule struct {
	catalog.Rule
	Answer *models.Answer `json:"user_answer"`
}

// EvaluatedDomain is a domain with its rules resolved for one subject.
type EvaluatedDomain struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Rules       []EvaluatedRule `json:"rules"`
}

// Stats is the dashboard aggregate. Compliant counts answers whose effective
// status is COMPLIANT; the percentage is rounded to one decimal.
type Stats struct {
	Compliant  int     `json:"compliant"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// LoadEvaluation returns the ordered catalog with the subject's answers
// embedded per rule.
func (s *Service) LoadEvaluation(ctx context.Context, subject string) ([]EvaluatedDomain, error) {
	domains, err := s.catalog.ListDomains(ctx)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load catalog")
	}
	answers, err := s.answers.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load answers")
	}
	byRule := make(map[uuid.UUID]*models.Answer, len(answers))
	for _, a := range answers {
		byRule[a.RuleID] = a
	}

	out := make([]EvaluatedDomain, 0, len(domains))
	for _, d := range domains {
		ed := EvaluatedDomain{ID: d.ID, Name: d.Name, Description: d.Description}
		for _, r := range d.Rules {
			ed.Rules = append(ed.Rules, EvaluatedRule{Rule: r, Answer: byRule[r.ID]})
		}
		out = append(out, ed)
	}
	return out, nil
}

// SubmitEvidence applies a partial evidence update against one rule,
// creating the subject's answer on first submission. Volatile evidence that
// entered pending (a well-formed email value, a dated file upload) is handed
// to the verification gateway after the save. The write never touches the
// derived status; it marks the answer dirty so the reconciliation loop
// recomputes it.
func (s *Service) SubmitEvidence(ctx context.Context, subject string, ruleID uuid.UUID, changes EvidenceChanges) (*models.Answer, error) {
	rule, err := s.catalog.FindRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
		}
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load rule")
	}

	answer, err := s.answers.FindByRule(ctx, subject, ruleID)
	created := false
	if errors.Is(err, sentinel.ErrNotFound) {
		answer = &models.Answer{
			RuleID:      ruleID,
			Subject:     subject,
			Status:      models.StatusNotEvaluated,
			EmailStatus: models.EmailStatusNone,
		}
		created = true
	} else if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load answer")
	}

	pending, err := s.applyChanges(answer, rule, changes)
	if err != nil {
		return nil, err
	}

	if created {
		err = s.answers.Create(ctx, answer)
	} else {
		err = s.answers.UpdateEvidence(ctx, answer)
	}
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, "failed to save answer")
	}

	s.loop.MarkDirty(answer.ID)
	for _, fileType := range pending.files {
		s.loop.ScheduleFileVerification(answer.ID, fileType)
	}
	if pending.email {
		if err := s.gateway.RequestEmailVerification(ctx, answer.ID); err != nil {
			// The evidence stays pending; the user may re-request.
			s.logger.Error("email verification request failed",
				"answer_id", answer.ID.String(),
				"error", err.Error(),
			)
		}
	}
	s.stats.Invalidate(ctx, subject)

	return s.answers.Get(ctx, answer.ID)
}

// pendingVerifications lists the evidence a submission pushed into pending,
// so the save can hand it to the verifiers afterwards.
type pendingVerifications struct {
	files []string
	email bool
}

func (s *Service) applyChanges(answer *models.Answer, rule catalog.Rule, changes EvidenceChanges) (pendingVerifications, error) {
	var pending pendingVerifications
	if changes.Notes != nil {
		answer.Notes = *changes.Notes
	}
	if changes.Name != nil {
		answer.Name = *changes.Name
	}
	if changes.Email != nil {
		email := models.NormalizeEmail(*changes.Email)
		if email != answer.Email {
			answer.Email = email
			answer.EmailVersion++
			// A changed value invalidates any prior (or in-flight) verdict.
			// Well-formed values enter verification immediately; malformed
			// ones stay unverified until corrected.
			answer.EmailStatus = models.EmailStatusNone
			if models.EmailFormatValid(email) {
				answer.EmailStatus = models.EmailStatusPending
				pending.email = true
			}
		}
	}
	if changes.Phone != nil {
		answer.Phone = models.NormalizePhone(*changes.Phone)
	}
	if changes.Override != nil {
		if *changes.Override == "" {
			answer.Override = nil
		} else {
			status := models.Status(*changes.Override)
			if !status.Valid() {
				return pending, dErrors.New(dErrors.CodeBadRequest, "invalid override status")
			}
			answer.Override = &status
		}
	}
	for fileType, upload := range changes.Files {
		if upload == nil {
			s.removeFile(answer, fileType)
			continue
		}
		if s.replaceFile(answer, rule, fileType, upload.Locator) {
			pending.files = append(pending.files, fileType)
		}
	}
	return pending, nil
}

func (s *Service) removeFile(answer *models.Answer, fileType string) {
	for i, f := range answer.Files {
		if f.FileType == fileType {
			answer.Files = append(answer.Files[:i], answer.Files[i+1:]...)
			return
		}
	}
}

// replaceFile swaps the evidence item for a file type, bumping its version
// so verdicts for the replaced file can be recognized and discarded. Returns
// whether the new evidence enters pending (recency window declared).
func (s *Service) replaceFile(answer *models.Answer, rule catalog.Rule, fileType, locator string) bool {
	version := 1
	if existing, ok := answer.FileByType(fileType); ok {
		version = existing.Version + 1
		s.removeFile(answer, fileType)
	}

	status := models.FileVerificationNone
	req, declared := rule.RequirementFor(fileType)
	needsVerification := declared && req.RecencyMonths > 0
	if needsVerification {
		status = models.FileVerificationPending
	}

	answer.Files = append(answer.Files, models.FileEvidence{
		FileType:           fileType,
		Locator:            locator,
		Version:            version,
		VerificationStatus: status,
		UploadedAt:         time.Now(),
	})
	sortFiles(answer.Files)
	return needsVerification
}

func sortFiles(files []models.FileEvidence) {
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j].FileType < files[j-1].FileType; j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}
}

// StoreEvidenceFile persists uploaded content and returns the locator to
// submit as file evidence. Storage and submission are separate steps: the
// answer only references content that already landed.
func (s *Service) StoreEvidenceFile(ctx context.Context, name string, content io.Reader) (string, error) {
	locator, err := s.files.Put(ctx, name, content)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInternal, "failed to store evidence file")
	}
	return locator, nil
}

// RequestEmailVerification marks the answer's email pending and asks the
// gateway to probe it. Malformed emails are rejected before any request goes
// out; they can never contribute a verdict.
func (s *Service) RequestEmailVerification(ctx context.Context, subject string, answerID uuid.UUID) error {
	answer, err := s.getOwned(ctx, subject, answerID)
	if err != nil {
		return err
	}
	if answer.Email == "" {
		return dErrors.New(dErrors.CodeBadRequest, "no email associated with this answer")
	}
	if !models.EmailFormatValid(answer.Email) {
		return dErrors.New(dErrors.CodeBadRequest, "email is not well-formed")
	}

	if err := s.answers.MarkEmailPending(ctx, answerID); err != nil {
		return dErrors.New(dErrors.CodeInternal, "failed to mark email pending")
	}
	s.loop.MarkDirty(answerID)

	if err := s.gateway.RequestEmailVerification(ctx, answerID); err != nil {
		// The evidence stays pending; the user may re-request.
		s.logger.Error("email verification request failed",
			"answer_id", answerID.String(),
			"error", err.Error(),
		)
	}
	return nil
}

// RequestFileVerification re-requests recency verification for one evidence
// file. Only dated requirements verify; presence-only files have nothing to
// check.
func (s *Service) RequestFileVerification(ctx context.Context, subject string, answerID uuid.UUID, fileType string) error {
	answer, err := s.getOwned(ctx, subject, answerID)
	if err != nil {
		return err
	}
	rule, err := s.catalog.FindRule(ctx, answer.RuleID)
	if err != nil {
		return dErrors.New(dErrors.CodeInternal, "failed to load rule")
	}
	req, ok := rule.RequirementFor(fileType)
	if !ok || req.RecencyMonths == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "this file does not require verification")
	}
	if _, ok := answer.FileByType(fileType); !ok {
		return dErrors.New(dErrors.CodeNotFound, "file not found")
	}

	if err := s.answers.MarkFilePending(ctx, answerID, fileType); err != nil {
		return dErrors.New(dErrors.CodeInternal, "failed to mark file pending")
	}
	s.loop.MarkDirty(answerID)

	if err := s.gateway.RequestFileVerification(ctx, answerID, fileType); err != nil {
		s.logger.Error("file verification request failed",
			"answer_id", answerID.String(),
			"file_type", fileType,
			"error", err.Error(),
		)
	}
	return nil
}

// ApplyEmailEvent translates a delivery webhook event into verdicts for
// every answer whose email evidence matches the recipient. Verdicts for
// replaced or already-resolved evidence are discarded quietly.
func (s *Service) ApplyEmailEvent(ctx context.Context, email, event string) (int, error) {
	var verdict models.EmailStatus
	switch event {
	case "delivered":
		verdict = models.EmailStatusValid
	case "bounce", "dropped":
		verdict = models.EmailStatusBounced
	default:
		return 0, nil
	}

	answers, err := s.answers.ListByEmail(ctx, email)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInternal, "failed to load answers")
	}

	applied := 0
	for _, answer := range answers {
		err := s.answers.ApplyEmailVerdict(ctx, answer.ID, answer.EmailVersion, verdict)
		if errors.Is(err, sentinel.ErrSuperseded) {
			continue
		}
		if err != nil {
			return applied, dErrors.New(dErrors.CodeInternal, "failed to apply email verdict")
		}
		applied++
		s.loop.MarkDirty(answer.ID)
		s.stats.Invalidate(ctx, answer.Subject)
	}
	return applied, nil
}

// AggregateStats computes the dashboard aggregate for a subject. Cached per
// subject; status writes invalidate.
func (s *Service) AggregateStats(ctx context.Context, subject string) (Stats, error) {
	if stats, ok := s.stats.Get(ctx, subject); ok {
		return stats, nil
	}

	total, err := s.catalog.CountRules(ctx)
	if err != nil {
		return Stats{}, dErrors.New(dErrors.CodeInternal, "failed to count rules")
	}
	if total == 0 {
		return Stats{}, nil
	}

	answers, err := s.answers.ListBySubject(ctx, subject)
	if err != nil {
		return Stats{}, dErrors.New(dErrors.CodeInternal, "failed to load answers")
	}
	compliant := 0
	for _, a := range answers {
		if a.EffectiveStatus() == models.StatusCompliant {
			compliant++
		}
	}

	stats := Stats{
		Compliant:  compliant,
		Total:      total,
		Percentage: math.Round(float64(compliant)/float64(total)*1000) / 10,
	}
	s.stats.Set(ctx, subject, stats)
	return stats, nil
}

func (s *Service) getOwned(ctx context.Context, subject string, answerID uuid.UUID) (*models.Answer, error) {
	answer, err := s.answers.Get(ctx, answerID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "answer not found")
	}
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load answer")
	}
	if answer.Subject != subject {
		// Ownership is part of the external contract: subjects only see
		// their own answers.
		return nil, dErrors.New(dErrors.CodeNotFound, "answer not found")
	}
	return answer, nil
}
