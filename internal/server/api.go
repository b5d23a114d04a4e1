package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

// AnalysisReader answers read-only questions about stored analyses. The workflow satisfies it.
type AnalysisReader interface {
	Analysis(ctx context.Context, analysisID string) (*models.AnalysisRecord, error)
	Breakdown(ctx context.Context, analysisID string) (map[string]models.GenreBreakdown, error)
	Details(ctx context.Context, analysisID string) (map[string][]models.TrackDetail, error)
	FilteredGenres(ctx context.Context, analysisID string, excluded []string) (models.GenreMap, error)
	History(ctx context.Context, userID string, limit int) ([]models.AnalysisSummary, error)
}

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// APIHandler serves the JSON read API.
type APIHandler struct {
	reader AnalysisReader
	db     Pinger
	logger *log.Logger
	mux    *http.ServeMux
}

// NewAPIHandler creates the read API over reader. db may be nil, in which case /health always reports ok.
func NewAPIHandler(reader AnalysisReader, db Pinger, logger *log.Logger) *APIHandler {
	h := &APIHandler{reader: reader, db: db, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /analyses/{id}", h.analysis)
	h.mux.HandleFunc("GET /analyses/{id}/breakdown", h.breakdown)
	h.mux.HandleFunc("GET /analyses/{id}/details", h.details)
	h.mux.HandleFunc("GET /analyses/{id}/filtered", h.filtered)
	h.mux.HandleFunc("GET /users/{id}/analyses", h.history)
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *APIHandler) Routes() []string {
	return []string{"/health", "/analyses/", "/users/"}
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *APIHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, shared.ErrServiceUnavailable)
			return
		}
	}
	writeData(w, map[string]string{"database": "ok"})
}

func (h *APIHandler) analysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.reader.Analysis(r.Context(), r.PathValue("id"))
	h.respond(w, analysis, err)
}

func (h *APIHandler) breakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := h.reader.Breakdown(r.Context(), r.PathValue("id"))
	h.respond(w, breakdown, err)
}

func (h *APIHandler) details(w http.ResponseWriter, r *http.Request) {
	details, err := h.reader.Details(r.Context(), r.PathValue("id"))
	h.respond(w, details, err)
}

// filtered accepts exclude both repeated and comma-separated.
func (h *APIHandler) filtered(w http.ResponseWriter, r *http.Request) {
	var excluded []string
	for _, v := range r.URL.Query()["exclude"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				excluded = append(excluded, id)
			}
		}
	}

	genres, err := h.reader.FilteredGenres(r.Context(), r.PathValue("id"), excluded)
	h.respond(w, genres, err)
}

func (h *APIHandler) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be a positive integer", shared.ErrInvalidArgument))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history, err := h.reader.History(r.Context(), r.PathValue("id"), limit)
	h.respond(w, history, err)
}

func (h *APIHandler) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "error", err)
		}
		writeError(w, status, err)
		return
	}
	writeData(w, data)
}

func statusFor(err error) int {
	switch {
	case shared.IsKind(err, shared.KindNotFound),
		errors.Is(err, shared.ErrAnalysisNotFound),
		errors.Is(err, shared.ErrRecordNotFound):
		return http.StatusNotFound
	case shared.IsKind(err, shared.KindValidation),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case shared.IsKind(err, shared.KindPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Envelope wraps every API response.
type Envelope struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Envelope{
		Status:    "error",
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
