package workflows

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/engine"
	"github.com/JaimeStill/docket/internal/records"
	"github.com/JaimeStill/docket/pkg/handlers"
	"github.com/JaimeStill/docket/pkg/routes"
)

// Handler provides HTTP endpoints for workflow operations.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// SubmitRequest is the body of a submission.
type SubmitRequest struct {
	Content string `json:"content"`
}

// ApproveRequest carries optional field corrections.
type ApproveRequest struct {
	Corrections map[string]any `json:"corrections"`
}

// NewHandler creates a Handler with the given system and logger.
func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "workflows"),
	}
}

// Routes returns the route group definition for workflow endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "", Handler: h.Submit},
			{Method: "GET", Pattern: "/pending", Handler: h.ListPending},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/checkpoints", Handler: h.Checkpoints},
			{Method: "GET", Pattern: "/{id}/result", Handler: h.Result},
			{Method: "POST", Pattern: "/{id}/approve", Handler: h.Approve},
			{Method: "POST", Pattern: "/{id}/reject", Handler: h.Reject},
		},
	}
}

// Submit accepts a document as JSON {"content": "..."} or as a raw text body.
// A record whose extraction failed is still created and is returned with its
// error status.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	content, err := h.readContent(r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		handlers.RespondError(w, h.logger, status, err)
		return
	}

	result, err := h.sys.Submit(r.Context(), content)
	if err != nil && !(errors.Is(err, engine.ErrExtraction) && result != nil) {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if err != nil {
		h.logger.Warn("submitted workflow errored", "id", result.ID, "error", err)
	}

	handlers.RespondJSON(w, http.StatusCreated, result)
}

// List returns workflows, optionally filtered by one or more status query
// parameters (?status=pending_review&status=error).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query()["status"])
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.List(r.Context(), statuses...)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// ListPending returns workflows awaiting review, oldest first.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	result, err := h.sys.ListPending(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns the status projection of a single workflow.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Checkpoints returns the full checkpoint sequence of a workflow.
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.Checkpoints(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Result streams the archived result document of a finalized workflow.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	body, err := h.sys.Result(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

// Approve resumes a workflow awaiting review with optional corrections.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var req ApproveRequest
	if err := handlers.DecodeJSON(r, &req, true); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.Approve(r.Context(), id, req.Corrections)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Reject terminates a workflow awaiting review.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.Reject(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) readContent(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req SubmitRequest
		if err := handlers.DecodeJSON(r, &req, false); err != nil {
			return "", err
		}
		return req.Content, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, handlers.MaxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

func parseStatuses(values []string) ([]records.Status, error) {
	var out []records.Status
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			s := records.Status(strings.TrimSpace(part))
			if s == "" {
				continue
			}
			if !s.Valid() {
				return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
			}
			out = append(out, s)
		}
	}
	return out, nil
}
