package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/assessment/service"
	"corecompliance/internal/platform/middleware"
	dErrors "corecompliance/pkg/domain-errors"
)

type fakeService struct {
	evaluation   []service.EvaluatedDomain
	submitted    *service.EvidenceChanges
	answer       *models.Answer
	stats        service.Stats
	events       []string
	uploadedName string
	uploadedBody string
	err          error
}

func (f *fakeService) LoadEvaluation(context.Context, string) ([]service.EvaluatedDomain, error) {
	return f.evaluation, f.err
}

func (f *fakeService) SubmitEvidence(_ context.Context, _ string, _ uuid.UUID, changes service.EvidenceChanges) (*models.Answer, error) {
	f.submitted = &changes
	return f.answer, f.err
}

func (f *fakeService) StoreEvidenceFile(_ context.Context, name string, content io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.uploadedName = name
	f.uploadedBody = string(data)
	return "loc-" + name, nil
}

func (f *fakeService) RequestEmailVerification(context.Context, string, uuid.UUID) error {
	return f.err
}

func (f *fakeService) RequestFileVerification(context.Context, string, uuid.UUID, string) error {
	return f.err
}

func (f *fakeService) ApplyEmailEvent(_ context.Context, _ string, event string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.events = append(f.events, event)
	return 1, nil
}

func (f *fakeService) AggregateStats(context.Context, string) (service.Stats, error) {
	return f.stats, f.err
}

type HandlerSuite struct {
	suite.Suite
	service *fakeService
	router  *chi.Mux
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.service = &fakeService{answer: &models.Answer{ID: uuid.New()}}
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, subject string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if subject != "" {
		req.Header.Set(middleware.SubjectHeader, subject)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestSubjectRequired() {
	for _, path := range []string{"/evaluation", "/dashboard/stats"} {
		s.Run(path, func() {
			rec := s.do(http.MethodGet, path, nil, "")
			s.Equal(http.StatusUnauthorized, rec.Code)
		})
	}
}

func (s *HandlerSuite) TestLoadEvaluation() {
	s.service.evaluation = []service.EvaluatedDomain{{Name: "Gobernanza"}}
	rec := s.do(http.MethodGet, "/evaluation", nil, "org-1")
	s.Equal(http.StatusOK, rec.Code)

	var got []service.EvaluatedDomain
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Require().Len(got, 1)
	s.Equal("Gobernanza", got[0].Name)
}

func (s *HandlerSuite) TestSubmitEvidence() {
	body := map[string]any{
		"rule_id": uuid.New().String(),
		"name":    "Ana",
		"files": map[string]any{
			"registro_incidentes": map[string]string{"locator": "a.csv"},
			"obsoleto":            nil,
		},
	}
	rec := s.do(http.MethodPost, "/answers", body, "org-1")
	s.Equal(http.StatusOK, rec.Code)

	s.Require().NotNil(s.service.submitted)
	s.Require().NotNil(s.service.submitted.Name)
	s.Equal("Ana", *s.service.submitted.Name)
	s.Nil(s.service.submitted.Email)
	s.Require().Contains(s.service.submitted.Files, "registro_incidentes")
	s.Equal("a.csv", s.service.submitted.Files["registro_incidentes"].Locator)
	s.Require().Contains(s.service.submitted.Files, "obsoleto")
	s.Nil(s.service.submitted.Files["obsoleto"])
}

func (s *HandlerSuite) TestSubmitEvidenceValidation() {
	s.Run("missing rule_id", func() {
		rec := s.do(http.MethodPost, "/answers", map[string]any{"name": "Ana"}, "org-1")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/answers", bytes.NewReader([]byte("{")))
		req.Header.Set(middleware.SubjectHeader, "org-1")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("empty file locator", func() {
		body := map[string]any{
			"rule_id": uuid.New().String(),
			"files":   map[string]any{"x": map[string]string{"locator": ""}},
		}
		rec := s.do(http.MethodPost, "/answers", body, "org-1")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestDomainErrorEnvelope() {
	s.service.err = dErrors.New(dErrors.CodeNotFound, "rule not found")
	body := map[string]any{"rule_id": uuid.New().String()}
	rec := s.do(http.MethodPost, "/answers", body, "org-1")
	s.Equal(http.StatusNotFound, rec.Code)

	var envelope map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &envelope))
	s.Equal("not_found", envelope["error"])
	s.Equal("rule not found", envelope["message"])
}

func (s *HandlerSuite) uploadEvidenceFile(fieldName, fileName, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fileName)
	s.Require().NoError(err)
	_, err = part.Write([]byte(content))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/evidence-files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.SubjectHeader, "org-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestUploadEvidenceFile() {
	rec := s.uploadEvidenceFile("file", "registro.csv", "fecha\n2026-01-01\n")
	s.Equal(http.StatusCreated, rec.Code)
	s.Equal("registro.csv", s.service.uploadedName)
	s.Equal("fecha\n2026-01-01\n", s.service.uploadedBody)

	var body map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("loc-registro.csv", body["locator"])
	s.Equal("registro.csv", body["file_name"])
}

func (s *HandlerSuite) TestUploadEvidenceFileMissingPart() {
	rec := s.uploadEvidenceFile("wrong_field", "registro.csv", "x")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestVerifyEmail() {
	s.Run("accepted", func() {
		rec := s.do(http.MethodPost, "/answers/"+uuid.NewString()+"/verify-email", nil, "org-1")
		s.Equal(http.StatusAccepted, rec.Code)
	})

	s.Run("invalid answer id", func() {
		rec := s.do(http.MethodPost, "/answers/nope/verify-email", nil, "org-1")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestVerifyFile() {
	s.Run("accepted", func() {
		body := map[string]string{"file_type": "registro_incidentes"}
		rec := s.do(http.MethodPost, "/answers/"+uuid.NewString()+"/verify-file", body, "org-1")
		s.Equal(http.StatusAccepted, rec.Code)
	})

	s.Run("missing file type", func() {
		rec := s.do(http.MethodPost, "/answers/"+uuid.NewString()+"/verify-file", map[string]string{}, "org-1")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestStats() {
	s.service.stats = service.Stats{Compliant: 2, Total: 5, Percentage: 40}
	rec := s.do(http.MethodGet, "/dashboard/stats", nil, "org-1")
	s.Equal(http.StatusOK, rec.Code)

	var got service.Stats
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(5, got.Total)
}

func (s *HandlerSuite) TestEmailWebhook() {
	events := []map[string]string{
		{"email": "ana@example.com", "event": "delivered"},
		{"email": "", "event": "bounce"},
		{"email": "otra@example.com", "event": "dropped"},
	}
	rec := s.do(http.MethodPost, "/webhooks/email", events, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{"delivered", "dropped"}, s.service.events)

	var body map[string]int
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(2, body["applied"])
}

func (s *HandlerSuite) TestEmailWebhookSingleObject() {
	event := map[string]string{"email": "ana@example.com", "event": "bounce"}
	rec := s.do(http.MethodPost, "/webhooks/email", event, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{"bounce"}, s.service.events)

	var body map[string]int
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(1, body["applied"])
}

func (s *HandlerSuite) TestEmailWebhookMalformedPayload() {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", bytes.NewReader([]byte("[{")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", nil, "")
	s.Equal(http.StatusOK, rec.Code)
}
