package emailverifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/platform/config"
)

type fakeAnswerStore struct {
	answer *models.Answer
}

func (f *fakeAnswerStore) Get(context.Context, uuid.UUID) (*models.Answer, error) {
	clone := *f.answer
	return &clone, nil
}

type receivedProbe struct {
	auth string
	body sendRequest
}

type EmailVerifierSuite struct {
	suite.Suite
	ctx      context.Context
	answers  *fakeAnswerStore
	received chan receivedProbe
	server   *httptest.Server
	verifier *Verifier
}

func TestEmailVerifierSuite(t *testing.T) {
	suite.Run(t, new(EmailVerifierSuite))
}

func (s *EmailVerifierSuite) SetupTest() {
	s.ctx = context.Background()
	s.answers = &fakeAnswerStore{}
	s.received = make(chan receivedProbe, 1)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal("/v3/mail/send", r.URL.Path)
		var body sendRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.received <- receivedProbe{auth: r.Header.Get("Authorization"), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	s.verifier = New(s.answers, config.Mail{
		APIURL:    s.server.URL,
		APIKey:    "test-key",
		FromEmail: "noreply@example.com",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *EmailVerifierSuite) TearDownTest() {
	s.server.Close()
}

func (s *EmailVerifierSuite) TestSendsProbeForPendingEmail() {
	s.answers.answer = &models.Answer{
		ID:          uuid.New(),
		Email:       "ana@example.com",
		EmailStatus: models.EmailStatusPending,
	}

	s.Require().NoError(s.verifier.RequestEmailVerification(s.ctx, s.answers.answer.ID))

	select {
	case probe := <-s.received:
		s.Equal("Bearer test-key", probe.auth)
		s.Equal("noreply@example.com", probe.body.From)
		s.Equal("ana@example.com", probe.body.To)
		s.NotEmpty(probe.body.Subject)
	case <-time.After(time.Second):
		s.Fail("no probe received")
	}
}

func (s *EmailVerifierSuite) TestSkipsNonPendingEmail() {
	s.answers.answer = &models.Answer{
		ID:          uuid.New(),
		Email:       "ana@example.com",
		EmailStatus: models.EmailStatusValid,
	}

	s.Require().NoError(s.verifier.RequestEmailVerification(s.ctx, s.answers.answer.ID))

	select {
	case <-s.received:
		s.Fail("probe sent for resolved email")
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *EmailVerifierSuite) TestSkipsMalformedEmail() {
	s.answers.answer = &models.Answer{
		ID:          uuid.New(),
		Email:       "abc",
		EmailStatus: models.EmailStatusPending,
	}

	s.Require().NoError(s.verifier.RequestEmailVerification(s.ctx, s.answers.answer.ID))

	select {
	case <-s.received:
		s.Fail("probe sent for malformed email")
	case <-time.After(100 * time.Millisecond):
	}
}
