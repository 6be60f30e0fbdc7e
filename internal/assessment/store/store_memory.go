package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"corecompliance/internal/assessment/models"
	"corecompliance/pkg/platform/sentinel"
)

// InMemoryStore keeps answers in memory with an O(1) (subject, rule) index.
// Production uses the postgres store; this one backs development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	answers map[uuid.UUID]*models.Answer
	byRule  map[ruleKey]uuid.UUID
	clock   func() time.Time
}

type ruleKey struct {
	subject string
	ruleID  uuid.UUID
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		answers: make(map[uuid.UUID]*models.Answer),
		byRule:  make(map[ruleKey]uuid.UUID),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answer, ok := s.answers[id]
	if !ok {
		return nil, fmt.Errorf("get answer %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneAnswer(answer), nil
}

func (s *InMemoryStore) FindByRule(_ context.Context, subject string, ruleID uuid.UUID) (*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRule[ruleKey{subject: subject, ruleID: ruleID}]
	if !ok {
		return nil, fmt.Errorf("find answer for rule %s: %w", ruleID, sentinel.ErrNotFound)
	}
	return cloneAnswer(s.answers[id]), nil
}

// Create persists a draft answer, assigning its identity. One answer exists
// per (subject, rule).
func (s *InMemoryStore) Create(_ context.Context, answer *models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ruleKey{subject: answer.Subject, ruleID: answer.RuleID}
	if _, exists := s.byRule[key]; exists {
		return fmt.Errorf("create answer for rule %s: %w", answer.RuleID, sentinel.ErrConflict)
	}
	answer.ID = uuid.New()
	answer.LastUpdated = s.clock()
	s.answers[answer.ID] = cloneAnswer(answer)
	s.byRule[key] = answer.ID
	return nil
}

// UpdateEvidence replaces the status-independent evidence fields. The derived
// status field is untouched; only UpdateStatus writes it.
func (s *InMemoryStore) UpdateEvidence(_ context.Context, answer *models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.answers[answer.ID]
	if !ok {
		return fmt.Errorf("update answer %s: %w", answer.ID, sentinel.ErrNotFound)
	}
	stored.Notes = answer.Notes
	stored.Name = answer.Name
	stored.Email = answer.Email
	stored.EmailStatus = answer.EmailStatus
	stored.EmailVersion = answer.EmailVersion
	stored.Phone = answer.Phone
	stored.Override = cloneOverride(answer.Override)
	stored.Files = cloneFiles(answer.Files)
	stored.LastUpdated = s.clock()
	answer.LastUpdated = stored.LastUpdated
	return nil
}

// UpdateStatus is the single write path for the derived status.
func (s *InMemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.answers[id]
	if !ok {
		return fmt.Errorf("update status for answer %s: %w", id, sentinel.ErrNotFound)
	}
	stored.Status = status
	stored.LastUpdated = s.clock()
	return nil
}

// MarkEmailPending transitions the email evidence into pending before a
// verification request goes out. Idempotent for an already-pending email.
func (s *InMemoryStore) MarkEmailPending(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.answers[id]
	if !ok {
		return fmt.Errorf("mark email pending for answer %s: %w", id, sentinel.ErrNotFound)
	}
	stored.EmailStatus = models.EmailStatusPending
	stored.LastUpdated = s.clock()
	return nil
}

// MarkFilePending transitions one file's verification into pending.
func (s *InMemoryStore) MarkFilePending(_ context.Context, id uuid.UUID, fileType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.answers[id]
	if !ok {
		return fmt.Errorf("mark file pending for answer %s: %w", id, sentinel.ErrNotFound)
	}
	for i := range stored.Files {
		if stored.Files[i].FileType == fileType {
			stored.Files[i].VerificationStatus = models.FileVerificationPending
			stored.LastUpdated = s.clock()
			return nil
		}
	}
	return fmt.Errorf("mark file pending for answer %s: %w", id, sentinel.ErrNotFound)
}

// ApplyEmailVerdict applies a terminal email verdict if the evidence it was
// requested for is still current. A verdict for a replaced email value
// returns ErrSuperseded and changes nothing.
func (s *InMemoryStore) ApplyEmailVerdict(_ context.Context, id uuid.UUID, version int, status models.EmailStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("apply email verdict: %q is not terminal: %w", status, sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.answers[id]
	if !ok {
		return fmt.Errorf("apply email verdict for answer %s: %w", id, sentinel.ErrNotFound)
	}
	if stored.EmailVersion != version || stored.EmailStatus != models.EmailStatusPending {
		return fmt.Errorf("apply email verdict for answer %s: %w", id, sentinel.ErrSuperseded)
	}
	stored.EmailStatus = status
	stored.LastUpdated = s.clock()
	return nil
}

// ApplyFileVerdict applies a terminal file verdict, guarded by the evidence
// version captured when verification was requested.
func (s *InMemoryStore) ApplyFileVerdict(_ context.Context, id uuid.UUID, fileType string, version int, status models.FileVerificationStatus, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("apply file verdict: %q is not terminal: %w", status, sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.answers[id]
	if !ok {
		return fmt.Errorf("apply file verdict for answer %s: %w", id, sentinel.ErrNotFound)
	}
	for i := range stored.Files {
		if stored.Files[i].FileType != fileType {
			continue
		}
		if stored.Files[i].Version != version || stored.Files[i].VerificationStatus != models.FileVerificationPending {
			return fmt.Errorf("apply file verdict for answer %s file %s: %w", id, fileType, sentinel.ErrSuperseded)
		}
		stored.Files[i].VerificationStatus = status
		stored.Files[i].VerificationMessage = message
		stored.LastUpdated = s.clock()
		return nil
	}
	return fmt.Errorf("apply file verdict for answer %s file %s: %w", id, fileType, sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Answer
	for _, a := range s.answers {
		if a.Subject == subject {
			out = append(out, cloneAnswer(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ListByEmail returns every answer whose email evidence matches. Delivery
// webhooks key their events by recipient address.
func (s *InMemoryStore) ListByEmail(_ context.Context, email string) ([]*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Answer
	for _, a := range s.answers {
		if a.Email == email {
			out = append(out, cloneAnswer(a))
		}
	}
	return out, nil
}

// ListPendingVerification returns answers with any evidence still awaiting a
// verdict. The poller re-derives exactly this population.
func (s *InMemoryStore) ListPendingVerification(_ context.Context) ([]*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Answer
	for _, a := range s.answers {
		if a.HasPendingVerification() {
			out = append(out, cloneAnswer(a))
		}
	}
	return out, nil
}

func cloneAnswer(a *models.Answer) *models.Answer {
	clone := *a
	clone.Files = cloneFiles(a.Files)
	clone.Override = cloneOverride(a.Override)
	return &clone
}

func cloneFiles(files []models.FileEvidence) []models.FileEvidence {
	if files == nil {
		return nil
	}
	return append([]models.FileEvidence(nil), files...)
}

func cloneOverride(o *models.Status) *models.Status {
	if o == nil {
		return nil
	}
	v := *o
	return &v
}
