package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"corecompliance/internal/assessment/models"
	"corecompliance/internal/assessment/service"
	"corecompliance/internal/platform/middleware"
	"corecompliance/internal/transport/http/shared"
	dErrors "corecompliance/pkg/domain-errors"
)

const (
	maxNotesLength = 10000
	maxFieldLength = 255
	maxUploadBytes = 10 << 20
)

// Service defines the assessment operations the HTTP layer exposes.
type Service interface {
	LoadEvaluation(ctx context.Context, subject string) ([]service.EvaluatedDomain, error)
	SubmitEvidence(ctx context.Context, subject string, ruleID uuid.UUID, changes service.EvidenceChanges) (*models.Answer, error)
	StoreEvidenceFile(ctx context.Context, name string, content io.Reader) (string, error)
	RequestEmailVerification(ctx context.Context, subject string, answerID uuid.UUID) error
	RequestFileVerification(ctx context.Context, subject string, answerID uuid.UUID, fileType string) error
	ApplyEmailEvent(ctx context.Context, email, event string) (int, error)
	AggregateStats(ctx context.Context, subject string) (service.Stats, error)
}

// Handler handles assessment endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a new assessment Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		service: svc,
	}
}

// Register registers the assessment routes with the chi router. The webhook
// and health endpoints sit outside the subject-scoped group: the mail
// provider and the orchestrator carry no subject header.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(30 * time.Second))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSubject)
			r.Get("/evaluation", h.handleLoadEvaluation)
			r.Post("/answers", h.handleSubmitEvidence)
			r.Post("/evidence-files", h.handleUploadEvidenceFile)
			r.Post("/answers/{answerID}/verify-email", h.handleVerifyEmail)
			r.Post("/answers/{answerID}/verify-file", h.handleVerifyFile)
			r.Get("/dashboard/stats", h.handleStats)
		})

		r.Post("/webhooks/email", h.handleEmailWebhook)
	})

	r.Get("/healthz", h.handleHealth)
}

func (h *Handler) handleLoadEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domains, err := h.service.LoadEvaluation(ctx, middleware.GetSubject(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load evaluation",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, domains)
}

type fileUploadRequest struct {
	Locator string `json:"locator"`
}

// submitEvidenceRequest is a partial update: absent fields stay untouched,
// and a null file entry removes that evidence item.
type submitEvidenceRequest struct {
	RuleID   uuid.UUID                     `json:"rule_id"`
	Notes    *string                       `json:"notes"`
	Name     *string                       `json:"name"`
	Email    *string                       `json:"email"`
	Phone    *string                       `json:"phone"`
	Override *string                       `json:"override"`
	Files    map[string]*fileUploadRequest `json:"files"`
}

func (req *submitEvidenceRequest) validate() error {
	if req.RuleID == uuid.Nil {
		return dErrors.New(dErrors.CodeBadRequest, "rule_id is required")
	}
	if req.Notes != nil && !govalidator.IsByteLength(*req.Notes, 0, maxNotesLength) {
		return dErrors.New(dErrors.CodeBadRequest, "notes too long")
	}
	for _, field := range []*string{req.Name, req.Email, req.Phone} {
		if field != nil && !govalidator.IsByteLength(*field, 0, maxFieldLength) {
			return dErrors.New(dErrors.CodeBadRequest, "field too long")
		}
	}
	for fileType, upload := range req.Files {
		if !govalidator.IsByteLength(fileType, 1, maxFieldLength) {
			return dErrors.New(dErrors.CodeBadRequest, "invalid file type")
		}
		if upload != nil && !govalidator.IsByteLength(upload.Locator, 1, maxFieldLength) {
			return dErrors.New(dErrors.CodeBadRequest, "invalid file locator")
		}
	}
	return nil
}

func (h *Handler) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		shared.WriteError(w, err)
		return
	}

	changes := service.EvidenceChanges{
		Notes:    req.Notes,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Override: req.Override,
	}
	if req.Files != nil {
		changes.Files = make(map[string]*service.FileUpload, len(req.Files))
		for fileType, upload := range req.Files {
			if upload == nil {
				changes.Files[fileType] = nil
				continue
			}
			changes.Files[fileType] = &service.FileUpload{Locator: upload.Locator}
		}
	}

	answer, err := h.service.SubmitEvidence(ctx, middleware.GetSubject(ctx), req.RuleID, changes)
	if err != nil {
		if !dErrors.Is(err, dErrors.CodeBadRequest) && !dErrors.Is(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to submit evidence",
				"request_id", middleware.GetRequestID(ctx),
				"rule_id", req.RuleID.String(),
				"error", err.Error(),
			)
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, answer)
}

// handleUploadEvidenceFile stores multipart content and returns the locator
// the client then submits as file evidence on an answer.
func (h *Handler) handleUploadEvidenceFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "file is required"))
		return
	}
	defer file.Close()
	if !govalidator.IsByteLength(header.Filename, 1, maxFieldLength) {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid file name"))
		return
	}

	locator, err := h.service.StoreEvidenceFile(ctx, header.Filename, file)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to store evidence file",
			"request_id", middleware.GetRequestID(ctx),
			"file_name", header.Filename,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]string{
		"locator":   locator,
		"file_name": header.Filename,
	})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	answerID, err := uuid.Parse(chi.URLParam(r, "answerID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid answer id"))
		return
	}

	if err := h.service.RequestEmailVerification(ctx, middleware.GetSubject(ctx), answerID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type verifyFileRequest struct {
	FileType string `json:"file_type"`
}

func (h *Handler) handleVerifyFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	answerID, err := uuid.Parse(chi.URLParam(r, "answerID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid answer id"))
		return
	}

	var req verifyFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileType == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "file_type is required"))
		return
	}

	if err := h.service.RequestFileVerification(ctx, middleware.GetSubject(ctx), answerID, req.FileType); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.AggregateStats(ctx, middleware.GetSubject(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute stats",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}

// emailEvent mirrors the mail provider's webhook payload: a batch of
// delivery events, each carrying the recipient and the event name.
type emailEvent struct {
	Email string `json:"email"`
	Event string `json:"event"`
}

// handleEmailWebhook applies delivery verdicts from the mail provider. The
// provider usually batches events into an array but may post a single object;
// both shapes are accepted. It retries on non-2xx, so unknown events
// acknowledge rather than error.
func (h *Handler) handleEmailWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid webhook payload"))
		return
	}
	var events []emailEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var single emailEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid webhook payload"))
			return
		}
		events = []emailEvent{single}
	}

	applied := 0
	for _, ev := range events {
		if ev.Email == "" {
			continue
		}
		n, err := h.service.ApplyEmailEvent(ctx, ev.Email, ev.Event)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to apply email event",
				"request_id", middleware.GetRequestID(ctx),
				"event", ev.Event,
				"error", err.Error(),
			)
			shared.WriteError(w, err)
			return
		}
		applied += n
	}
	shared.WriteJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
