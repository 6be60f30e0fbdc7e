package fileverifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/catalog"
	"corecompliance/internal/storage"
	"corecompliance/pkg/platform/sentinel"
)

type fakeAnswerStore struct {
	mu      sync.Mutex
	answer  *models.Answer
	applied []appliedVerdict
	fail    error
}

type appliedVerdict struct {
	fileType string
	version  int
	status   models.FileVerificationStatus
	message  string
}

func (f *fakeAnswerStore) Get(context.Context, uuid.UUID) (*models.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *f.answer
	return &clone, nil
}

func (f *fakeAnswerStore) ApplyFileVerdict(_ context.Context, _ uuid.UUID, fileType string, version int, status models.FileVerificationStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.applied = append(f.applied, appliedVerdict{fileType, version, status, message})
	return nil
}

func (f *fakeAnswerStore) verdicts() []appliedVerdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appliedVerdict(nil), f.applied...)
}

type fakeCatalog struct {
	rule catalog.Rule
}

func (f *fakeCatalog) FindRule(context.Context, uuid.UUID) (catalog.Rule, error) {
	return f.rule, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	dirty []uuid.UUID
}

func (f *fakeNotifier) MarkDirty(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = append(f.dirty, id)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirty)
}

type FileVerifierSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	files    *storage.InMemoryStore
	answers  *fakeAnswerStore
	rules    *fakeCatalog
	notifier *fakeNotifier
	verifier *Verifier
}

func TestFileVerifierSuite(t *testing.T) {
	suite.Run(t, new(FileVerifierSuite))
}

func (s *FileVerifierSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.files = storage.NewInMemoryStore()
	s.answers = &fakeAnswerStore{}
	s.rules = &fakeCatalog{rule: catalog.Rule{
		ID: uuid.New(),
		RequiredFiles: []catalog.FileRequirement{
			{FileType: "registro_incidentes", RecencyMonths: 6},
		},
	}}
	s.notifier = &fakeNotifier{}
	s.verifier = New(s.answers, s.rules, s.files, s.notifier,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return s.now }))
}

func (s *FileVerifierSuite) seedAnswer(locator string) *models.Answer {
	answer := &models.Answer{
		ID:     uuid.New(),
		RuleID: s.rules.rule.ID,
		Files: []models.FileEvidence{{
			FileType:           "registro_incidentes",
			Locator:            locator,
			Version:            1,
			VerificationStatus: models.FileVerificationPending,
		}},
	}
	s.answers.answer = answer
	return answer
}

func (s *FileVerifierSuite) putCSV(name, content string) string {
	locator, err := s.files.Put(s.ctx, name, strings.NewReader(content))
	s.Require().NoError(err)
	return locator
}

func (s *FileVerifierSuite) requestAndWait(answer *models.Answer) appliedVerdict {
	s.Require().NoError(s.verifier.RequestFileVerification(s.ctx, answer.ID, "registro_incidentes"))
	s.Eventually(func() bool {
		return len(s.answers.verdicts()) == 1
	}, time.Second, 5*time.Millisecond)
	return s.answers.verdicts()[0]
}

func (s *FileVerifierSuite) csvDatedDaysAgo(days int) string {
	date := s.now.AddDate(0, 0, -days).Format("2006-01-02")
	return "id,fecha\n1," + date + "\n"
}

func (s *FileVerifierSuite) TestUpToDate() {
	answer := s.seedAnswer(s.putCSV("r.csv", s.csvDatedDaysAgo(30)))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationUpToDate, got.status)
	s.Equal(1, got.version)
	s.Contains(got.message, "Registros al día")
	s.Equal(1, s.notifier.count())
}

func (s *FileVerifierSuite) TestOutdatedWithinGrace() {
	// ~8 months against a 6 month window
	answer := s.seedAnswer(s.putCSV("r.csv", s.csvDatedDaysAgo(244)))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationOutdated, got.status)
	s.Contains(got.message, "Registros con >6 meses de antigüedad")
}

func (s *FileVerifierSuite) TestVeryOutdated() {
	// ~13 months, past twice the window
	answer := s.seedAnswer(s.putCSV("r.csv", s.csvDatedDaysAgo(396)))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationVeryOutdated, got.status)
	s.Contains(got.message, "Registros no están al día")
}

func (s *FileVerifierSuite) TestPicksLatestDate() {
	content := "fecha\n" +
		s.now.AddDate(0, 0, -500).Format("2006-01-02") + "\n" +
		s.now.AddDate(0, 0, -15).Format("2006-01-02") + "\n" +
		s.now.AddDate(0, 0, -300).Format("2006-01-02") + "\n"
	answer := s.seedAnswer(s.putCSV("r.csv", content))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationUpToDate, got.status)
}

func (s *FileVerifierSuite) TestSlashDateFormat() {
	date := s.now.AddDate(0, 0, -30)
	answer := s.seedAnswer(s.putCSV("r.csv", "fecha\n"+date.Format("02/01/2006")+"\n"))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationUpToDate, got.status)
}

func (s *FileVerifierSuite) TestMissingDateColumn() {
	answer := s.seedAnswer(s.putCSV("r.csv", "id,nombre\n1,Ana\n"))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationError, got.status)
	s.Equal("no se encontró columna 'fecha' en el archivo", got.message)
}

func (s *FileVerifierSuite) TestNoValidDates() {
	answer := s.seedAnswer(s.putCSV("r.csv", "fecha\nmañana\n\n"))

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationError, got.status)
	s.Equal("no se encontraron fechas válidas en el archivo", got.message)
}

func (s *FileVerifierSuite) TestUnreadableFile() {
	answer := s.seedAnswer("missing.csv")

	got := s.requestAndWait(answer)
	s.Equal(models.FileVerificationError, got.status)
	s.Equal("no se pudo leer el archivo", got.message)
}

// A verdict for evidence that was replaced mid-read is discarded without
// notifying the loop.
func (s *FileVerifierSuite) TestSupersededVerdictDiscarded() {
	answer := s.seedAnswer(s.putCSV("r.csv", s.csvDatedDaysAgo(30)))
	s.answers.fail = fmt.Errorf("apply: %w", sentinel.ErrSuperseded)

	s.Require().NoError(s.verifier.RequestFileVerification(s.ctx, answer.ID, "registro_incidentes"))

	time.Sleep(50 * time.Millisecond)
	s.Empty(s.answers.verdicts())
	s.Equal(0, s.notifier.count())
}

func (s *FileVerifierSuite) TestResolvedEvidenceSkipped() {
	answer := s.seedAnswer(s.putCSV("r.csv", s.csvDatedDaysAgo(30)))
	s.answers.answer.Files[0].VerificationStatus = models.FileVerificationUpToDate

	s.Require().NoError(s.verifier.RequestFileVerification(s.ctx, answer.ID, "registro_incidentes"))

	time.Sleep(50 * time.Millisecond)
	s.Empty(s.answers.verdicts())
}
