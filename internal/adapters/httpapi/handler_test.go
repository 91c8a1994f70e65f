package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/usecase"
)

const testAPIKey = "test-api-key"

type stubAPIKeyRepo struct{}

func (s *stubAPIKeyRepo) FindByTokenHash(_ context.Context, hash string) (domain.APIKey, error) {
	if hash != usecase.HashToken(testAPIKey) {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return domain.APIKey{TokenHash: hash, TenantID: "tenant-a", Name: "test-client", Active: true, CreatedAt: time.Now().UTC()}, nil
}
func (s *stubAPIKeyRepo) Upsert(context.Context, domain.APIKey) error { return nil }

type stubArticleRepo struct {
	articles map[string]domain.Article
}

func (s *stubArticleRepo) Create(_ context.Context, a domain.Article) (domain.Article, error) {
	s.articles[a.ID] = a
	return a, nil
}

func (s *stubArticleRepo) Update(_ context.Context, a domain.Article) (domain.Article, error) {
	if _, ok := s.articles[a.ID]; !ok {
		return domain.Article{}, domain.ErrNotFound
	}
	s.articles[a.ID] = a
	return a, nil
}

func (s *stubArticleRepo) Delete(_ context.Context, tenant, id string) (bool, error) {
	a, ok := s.articles[id]
	if !ok || a.Tenant != tenant {
		return false, nil
	}
	delete(s.articles, id)
	return true, nil
}

func (s *stubArticleRepo) Get(_ context.Context, tenant, id string) (domain.Article, error) {
	a, ok := s.articles[id]
	if !ok || a.Tenant != tenant {
		return domain.Article{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *stubArticleRepo) List(_ context.Context, tenant string, _ int) ([]domain.Article, error) {
	var out []domain.Article
	for _, a := range s.articles {
		if a.Tenant == tenant {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubTimelineStore struct {
	events []domain.TimelineEvent
	listFn func(filter domain.TimelineFilter) ([]domain.TimelineEvent, error)
}

func (s *stubTimelineStore) Append(_ context.Context, e domain.TimelineEvent) (domain.TimelineEvent, error) {
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, e)
	return e, nil
}

func (s *stubTimelineStore) FindByElement(_ context.Context, elementType, elementID, tenant string) ([]domain.TimelineEvent, error) {
	var out []domain.TimelineEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.ElementType == elementType && e.ElementID == elementID && e.Tenant == tenant {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubTimelineStore) FindLatest(ctx context.Context, elementID, elementType string) (domain.TimelineEvent, error) {
	history, _ := s.FindHistory(ctx, elementID, elementType)
	if len(history) == 0 {
		return domain.TimelineEvent{}, domain.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *stubTimelineStore) FindHistory(_ context.Context, elementID, elementType string) ([]domain.TimelineEvent, error) {
	var out []domain.TimelineEvent
	for _, e := range s.events {
		if e.ElementType == elementType && e.ElementID == elementID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubTimelineStore) List(_ context.Context, filter domain.TimelineFilter) ([]domain.TimelineEvent, error) {
	if s.listFn != nil {
		return s.listFn(filter)
	}
	return nil, nil
}

type stubObjectStore struct {
	keys    []string
	objects map[string][]byte
}

func (s *stubObjectStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.keys = append(s.keys, key)
	s.objects[key] = body
	return nil
}

func (s *stubObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	body, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return body, nil
}

func timelineEvent(tenant string, kind domain.EventType, ts time.Time, attrs string) domain.TimelineEvent {
	return domain.TimelineEvent{
		Tenant:        tenant,
		EventType:     kind,
		ElementType:   "Article",
		ElementID:     "a1",
		Timestamp:     ts,
		ModifiedBy:    "alice",
		SchemaVersion: domain.CurrentAttributesSchemaVersion,
		Attributes:    json.RawMessage(attrs),
	}
}

type testEnv struct {
	router   http.Handler
	articles *stubArticleRepo
	store    *stubTimelineStore
	objects  *stubObjectStore
}

func newTestEnv(withArchive bool) *testEnv {
	env := &testEnv{
		articles: &stubArticleRepo{articles: map[string]domain.Article{}},
		store:    &stubTimelineStore{},
		objects:  &stubObjectStore{},
	}
	timeline := usecase.NewTimelineService(env.store, nil)
	svc := Services{
		Articles: usecase.NewArticleService(env.articles),
		Timeline: timeline,
		Auth:     usecase.NewAuthService(&stubAPIKeyRepo{}),
	}
	if withArchive {
		svc.Archive = usecase.NewArchiveService(timeline, env.objects, "exports")
	} else {
		svc.Archive = usecase.NewArchiveService(timeline, nil, "")
	}
	env.router = NewHandler(svc).Router()
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestProtectedRouteWithoutAuth(t *testing.T) {
	env := newTestEnv(false)
	req := httptest.NewRequest(http.MethodGet, "/v1/articles", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerTokenAccepted(t *testing.T) {
	env := newTestEnv(false)
	req := httptest.NewRequest(http.MethodGet, "/v1/articles", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateArticleBindsTenantAndActor(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodPost, "/v1/articles", `{"id":"a1","title":"Hello","metadata":{"tags":["x"]}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	stored := env.articles.articles["a1"]
	if stored.Tenant != "tenant-a" || stored.CreatedBy != "test-client" || stored.Version != 1 {
		t.Fatalf("unexpected stored article: %+v", stored)
	}
}

func TestCreateArticleRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodPost, "/v1/articles", `{"title":"x","tenant":"other"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateArticleRejectsTrailingJSON(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodPost, "/v1/articles", `{"title":"x"} {}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateArticleWithoutTitleIsBadRequest(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodPost, "/v1/articles", `{"body":"no title"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateMissingArticleReturns404(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodPut, "/v1/articles/missing", `{"title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateAndDeleteArticle(t *testing.T) {
	env := newTestEnv(false)
	env.do(http.MethodPost, "/v1/articles", `{"id":"a1","title":"Hello"}`)

	rec := env.do(http.MethodPut, "/v1/articles/a1", `{"title":"Hello again","published":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.articles.articles["a1"]; got.Version != 2 || got.UpdatedBy != "test-client" {
		t.Fatalf("unexpected article after update: %+v", got)
	}

	rec = env.do(http.MethodDelete, "/v1/articles/a1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("unexpected delete response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestElementTimelineIsTenantScopedAndOrdered(t *testing.T) {
	env := newTestEnv(false)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.store.events = []domain.TimelineEvent{
		timelineEvent("tenant-a", domain.EventCreated, base, `{"data":{"title":"A"}}`),
		timelineEvent("tenant-b", domain.EventCreated, base.Add(time.Second), `{"data":{"title":"B"}}`),
		timelineEvent("tenant-a", domain.EventUpdated, base.Add(2*time.Second), `{"data":{"title":{"old":"A","new":"C"}}}`),
	}
	for i := range env.store.events {
		env.store.events[i].ID = int64(i + 1)
	}

	rec := env.do(http.MethodGet, "/v1/timeline/Article/a1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []domain.TimelineEvent `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].ID != 1 || payload.Items[1].ID != 3 {
		t.Fatalf("unexpected items: %+v", payload.Items)
	}
}

func TestStateReplaysHistory(t *testing.T) {
	env := newTestEnv(false)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.store.events = []domain.TimelineEvent{
		timelineEvent("tenant-a", domain.EventCreated, base, `{"data":{"title":"A","body":"x"}}`),
		timelineEvent("tenant-a", domain.EventUpdated, base.Add(time.Second), `{"data":{"title":{"old":"A","new":"B"}}}`),
	}

	rec := env.do(http.MethodGet, "/v1/timeline/Article/a1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var state usecase.ElementState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Fields["title"] != "B" || state.Fields["body"] != "x" || state.Records != 2 || state.Deleted {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestStateOfUnknownElementReturns404(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodGet, "/v1/timeline/Article/nope/state", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLatestHidesOtherTenants(t *testing.T) {
	env := newTestEnv(false)
	env.store.events = []domain.TimelineEvent{
		timelineEvent("tenant-b", domain.EventCreated, time.Now().UTC(), `{"data":{}}`),
	}
	rec := env.do(http.MethodGet, "/v1/timeline/Article/a1/latest", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListTimelinePassesFilter(t *testing.T) {
	env := newTestEnv(false)
	var got domain.TimelineFilter
	env.store.listFn = func(f domain.TimelineFilter) ([]domain.TimelineEvent, error) {
		got = f
		return nil, nil
	}
	rec := env.do(http.MethodGet, "/v1/timeline/Article?after=10&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Tenant != "tenant-a" || got.ElementType != "Article" || got.AfterID != 10 || got.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items array, got %s", rec.Body.String())
	}
}

func TestListTimelineBadParams(t *testing.T) {
	env := newTestEnv(false)
	for _, path := range []string{"/v1/timeline/Article?limit=bad", "/v1/timeline/Article?after=-1"} {
		if rec := env.do(http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestArchiveDisabledReturns503(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodPost, "/v1/timeline/Article/a1/archive", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestArchiveWritesObject(t *testing.T) {
	env := newTestEnv(true)
	env.store.events = []domain.TimelineEvent{
		timelineEvent("tenant-a", domain.EventCreated, time.Now().UTC(), `{"data":{"title":"A"}}`),
	}
	rec := env.do(http.MethodPost, "/v1/timeline/Article/a1/archive", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.objects.keys) != 1 || !strings.HasPrefix(env.objects.keys[0], "exports/tenant-a/Article/a1/") {
		t.Fatalf("unexpected keys: %v", env.objects.keys)
	}
}

func TestDispatcherMetricsWithoutDispatcher(t *testing.T) {
	env := newTestEnv(false)
	rec := env.do(http.MethodGet, "/v1/dispatcher/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"processedTotal":0`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWriteJSONEncodeErrorHandled(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"bad": func() {}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestHandleDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidKey, http.StatusBadRequest},
		{domain.ErrInvalidElementType, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrArchiveDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handleDomainError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
			t.Fatalf("%v: expected error body, got %q", tc.err, rec.Body.String())
		}
	}
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(false)
	for _, path := range []string{"/healthz", "/openapi.json", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
