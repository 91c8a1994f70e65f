package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/usecase"
)

const maxJSONBodySize = 1 << 20

// Services are the use cases served over HTTP. Archive and Dispatcher may be nil.
type Services struct {
	Articles   *usecase.ArticleService
	Timeline   *usecase.TimelineService
	Archive    *usecase.ArchiveService
	Auth       *usecase.AuthService
	Dispatcher *usecase.Dispatcher
}

type Handler struct {
	articles   *usecase.ArticleService
	timeline   *usecase.TimelineService
	archive    *usecase.ArchiveService
	auth       *usecase.AuthService
	dispatcher *usecase.Dispatcher
}

func NewHandler(s Services) *Handler {
	return &Handler{
		articles:   s.Articles,
		timeline:   s.Timeline,
		archive:    s.Archive,
		auth:       s.Auth,
		dispatcher: s.Dispatcher,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)

		pr.Get("/v1/articles", h.listArticles)
		pr.Post("/v1/articles", h.createArticle)
		pr.Get("/v1/articles/{id}", h.getArticle)
		pr.Put("/v1/articles/{id}", h.updateArticle)
		pr.Delete("/v1/articles/{id}", h.deleteArticle)

		pr.Get("/v1/timeline/{elementType}", h.listTimeline)
		pr.Get("/v1/timeline/{elementType}/{id}", h.elementTimeline)
		pr.Get("/v1/timeline/{elementType}/{id}/latest", h.latest)
		pr.Get("/v1/timeline/{elementType}/{id}/state", h.state)
		pr.Post("/v1/timeline/{elementType}/{id}/archive", h.archiveElement)

		pr.Get("/v1/dispatcher/metrics", h.dispatcherMetrics)
	})

	return r
}

type articleRequest struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Published bool           `json:"published"`
	Metadata  map[string]any `json:"metadata"`
}

func (req articleRequest) article() domain.Article {
	return domain.Article{
		ID:        req.ID,
		Title:     req.Title,
		Body:      req.Body,
		Published: req.Published,
		Metadata:  req.Metadata,
	}
}

func (h *Handler) createArticle(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	article, err := h.articles.Create(r.Context(), req.article())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, article)
}

func (h *Handler) updateArticle(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	article, err := h.articles.Update(r.Context(), chi.URLParam(r, "id"), req.article())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (h *Handler) getArticle(w http.ResponseWriter, r *http.Request) {
	article, err := h.articles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (h *Handler) deleteArticle(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.articles.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) listArticles(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	articles, err := h.articles.List(r.Context(), limit)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": articles})
}

func (h *Handler) listTimeline(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	var afterID int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		afterID = parsed
	}

	events, err := h.timeline.List(r.Context(), domain.TimelineFilter{
		Tenant:      tenantFromRequest(r),
		ElementType: chi.URLParam(r, "elementType"),
		AfterID:     afterID,
		Limit:       limit,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeEvents(w, events)
}

func (h *Handler) elementTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.timeline.ElementTimeline(r.Context(), tenantFromRequest(r), chi.URLParam(r, "elementType"), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeEvents(w, events)
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	event, err := h.timeline.Latest(r.Context(), chi.URLParam(r, "elementType"), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	// Records of other tenants are reported as missing.
	if event.Tenant != tenantFromRequest(r) {
		handleDomainError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	state, err := h.timeline.State(r.Context(), tenantFromRequest(r), chi.URLParam(r, "elementType"), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) archiveElement(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		handleDomainError(w, domain.ErrArchiveDisabled)
		return
	}
	key, err := h.archive.ExportElement(r.Context(), tenantFromRequest(r), chi.URLParam(r, "elementType"), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *Handler) dispatcherMetrics(w http.ResponseWriter, _ *http.Request) {
	var m usecase.DispatcherMetrics
	if h.dispatcher != nil {
		m = h.dispatcher.Metrics()
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		ctx, _, err := h.auth.Authorize(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			slog.ErrorContext(r.Context(), "authorize request", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFromRequest(r *http.Request) string {
	tenant, _ := domain.TenantFromContext(r.Context())
	return tenant
}

func writeEvents(w http.ResponseWriter, events []domain.TimelineEvent) {
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode json response", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Error("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrInvalidElementType),
		errors.Is(err, domain.ErrInvalidEventType),
		errors.Is(err, domain.ErrInvalidArticle),
		errors.Is(err, domain.ErrMissingIdentity),
		errors.Is(err, domain.ErrMissingTenant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrArchiveDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "timeline",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/articles": map[string]any{
				"get":  map[string]any{"summary": "List articles"},
				"post": map[string]any{"summary": "Create article"},
			},
			"/v1/articles/{id}": map[string]any{
				"get":    map[string]any{"summary": "Get article"},
				"put":    map[string]any{"summary": "Update article"},
				"delete": map[string]any{"summary": "Delete article"},
			},
			"/v1/timeline/{elementType}": map[string]any{
				"get": map[string]any{"summary": "List timeline records of an element type"},
			},
			"/v1/timeline/{elementType}/{id}": map[string]any{
				"get": map[string]any{"summary": "Element history, oldest first"},
			},
			"/v1/timeline/{elementType}/{id}/latest": map[string]any{
				"get": map[string]any{"summary": "Most recent record of an element"},
			},
			"/v1/timeline/{elementType}/{id}/state": map[string]any{
				"get": map[string]any{"summary": "Element state replayed from its history"},
			},
			"/v1/timeline/{elementType}/{id}/archive": map[string]any{
				"post": map[string]any{"summary": "Export element history to object storage"},
			},
			"/v1/dispatcher/metrics": map[string]any{
				"get": map[string]any{"summary": "Dispatcher counters"},
			},
		},
	}
}
