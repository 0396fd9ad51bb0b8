// Package transport provides HTTP handlers for the deployment run history.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/contradeploy/internal/deployments/domain"
)

// Service defines the run history interface for HTTP transport.
type Service interface {
	Get(ctx context.Context, id string) (*domain.RunDetail, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
}

// Handler handles HTTP requests for deployment runs.
type Handler struct {
	svc Service
}

// NewHandler creates a new runs HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the run routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/steps", h.handleSteps)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	result, err := h.svc.List(r.Context(), domain.ListFilter{
		Network: r.URL.Query().Get("network"),
		Status:  r.URL.Query().Get("status"),
	}, domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		return
	}

	data := make([]RunItem, len(result.Runs))
	for i, run := range result.Runs {
		data[i] = toRunItem(run)
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.getRun(w, r)
	if !ok {
		return
	}

	steps := make([]StepItem, len(detail.StepRecords))
	for i, st := range detail.StepRecords {
		steps[i] = toStepItem(st)
	}
	writeJSON(w, http.StatusOK, RunResponse{
		RunItem: toRunItem(detail.RunSummary),
		Steps:   steps,
	})
}

func (h *Handler) handleSteps(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.getRun(w, r)
	if !ok {
		return
	}

	steps := make([]StepItem, len(detail.StepRecords))
	for i, st := range detail.StepRecords {
		steps[i] = toStepItem(st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": steps})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) (*domain.RunDetail, bool) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run")
		return nil, false
	}
	return detail, true
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
