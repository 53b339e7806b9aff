package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/config"
	"github.com/alem-hub/academy-identity/internal/app"
	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/application/query"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/academy-identity/internal/interface/http/handlers"
)

type testAPI struct {
	t      *testing.T
	server *Server
	locker *memory.Locker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	locker := memory.NewLocker()
	h, err := app.NewHandlers(app.Options{
		UoW:    memory.NewStore(),
		Locker: locker,
		Identity: config.IdentityConfig{
			HashPepper:             "http-test-pepper-0123456789",
			ResolveMaxAttempts:     3,
			DetectContextConflicts: true,
		},
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	return &testAPI{
		t:      t,
		server: NewServer(cfg, Dependencies{Handlers: h, HealthChecker: handlers.NewCompositeHealthChecker("test")}),
		locker: locker,
	}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) resolve(org, profile, phone, email string) ResolveResponse {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/resolve", map[string]string{
		"organization_id": org,
		"profile_id":      profile,
		"phone":           phone,
		"email":           email,
	})
	require.Contains(a.t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	return decode[ResolveResponse](a.t, rec)
}

func TestResolve(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/v1/resolve", map[string]string{
		"organization_id": "org-a", "profile_id": "p-1", "phone": "010-1234-5678",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[ResolveResponse](t, rec)
	assert.True(t, first.Created)
	assert.Equal(t, "exact-phone", first.Confidence)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	second := api.resolve("org-b", "p-9", "+82 10 1234 5678", "")
	assert.False(t, second.Created)
	assert.Equal(t, first.CanonicalIdentityID, second.CanonicalIdentityID)

	t.Run("invalid phone", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/resolve", map[string]string{
			"organization_id": "org-a", "profile_id": "p-2", "phone": "12",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[ErrorResponse](t, rec)
		assert.Equal(t, "invalid_request", body.Error)
		assert.Equal(t, "invalid phone format", body.Message)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/resolve", map[string]string{"phone": "01012345678"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		api.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetIdentity(t *testing.T) {
	api := newTestAPI(t)
	r := api.resolve("org-a", "p-1", "01012345678", "kim@example.com")

	rec := api.do(http.MethodGet, "/api/v1/identities/"+r.CanonicalIdentityID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[query.IdentityDTO](t, rec)
	assert.Equal(t, "active", dto.State)
	assert.True(t, dto.HasEmail)
	assert.Len(t, dto.Links, 1)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	assert.Equal(t, http.StatusNotFound,
		api.do(http.MethodGet, "/api/v1/identities/6f1c5f8e-8a43-4c1e-9d7a-0b8f3e2a1c44", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		api.do(http.MethodGet, "/api/v1/identities/not-a-uuid", nil).Code)
}

func TestMergeAndUnmerge(t *testing.T) {
	api := newTestAPI(t)
	a := api.resolve("org-a", "p-1", "01012345678", "")
	b := api.resolve("org-b", "p-2", "01099998888", "")

	rec := api.do(http.MethodPost, "/api/v1/merges", map[string]string{
		"identity_a": a.CanonicalIdentityID, "identity_b": b.CanonicalIdentityID, "actor": "ops", "reason": "same parent",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	merged := decode[MergeResponse](t, rec)
	assert.Equal(t, a.CanonicalIdentityID, merged.CanonicalIdentityID)
	assert.Equal(t, 1, merged.MovedLinks)

	// the loser's phone now resolves to the survivor
	again := api.resolve("org-c", "p-3", "010-9999-8888", "")
	assert.Equal(t, a.CanonicalIdentityID, again.CanonicalIdentityID)

	rec = api.do(http.MethodPost, "/api/v1/merges/"+merged.MergeAuditID+"/unmerge", map[string]string{"actor": "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	un := decode[UnmergeResponse](t, rec)
	assert.Equal(t, a.CanonicalIdentityID, un.RestoredIdentityIDA)
	assert.Equal(t, b.CanonicalIdentityID, un.RestoredIdentityIDB)

	rec = api.do(http.MethodPost, "/api/v1/merges/"+merged.MergeAuditID+"/unmerge", map[string]string{"actor": "ops"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/identities/"+a.CanonicalIdentityID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := decode[query.AuditTrailDTO](t, rec)
	assert.Len(t, trail.Merges, 2)

	t.Run("self merge", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/merges", map[string]string{
			"identity_a": a.CanonicalIdentityID, "identity_b": a.CanonicalIdentityID, "actor": "ops",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMerge_LockedReturnsRetryAfter(t *testing.T) {
	api := newTestAPI(t)
	a := api.resolve("org-a", "p-1", "01012345678", "")
	b := api.resolve("org-b", "p-2", "01099998888", "")

	release, err := api.locker.TryLock(context.Background(), []string{port.IdentityLockKey(b.CanonicalIdentityID)}, time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	rec := api.do(http.MethodPost, "/api/v1/merges", map[string]string{
		"identity_a": a.CanonicalIdentityID, "identity_b": b.CanonicalIdentityID, "actor": "ops",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
	assert.Equal(t, "locked", decode[ErrorResponse](t, rec).Error)
}

func TestConflicts(t *testing.T) {
	api := newTestAPI(t)
	api.resolve("org-a", "p-1", "01012345678", "kim@example.com")
	c := api.resolve("org-b", "p-2", "01012345678", "other@example.com")
	require.Len(t, c.ConflictIDs, 1)

	rec := api.do(http.MethodGet, "/api/v1/conflicts?status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decode[[]query.ConflictDTO](t, rec)
	require.Len(t, open, 1)
	assert.Equal(t, "email", open[0].Field)

	rec = api.do(http.MethodPost, "/api/v1/conflicts/"+c.ConflictIDs[0]+"/resolve", map[string]string{
		"decision": "separate", "actor": "reviewer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ResolveConflictResponse](t, rec)
	assert.Equal(t, "resolved-separate", res.Conflict.Status)
	assert.Nil(t, res.Merge)

	rec = api.do(http.MethodPost, "/api/v1/conflicts/"+c.ConflictIDs[0]+"/resolve", map[string]string{
		"decision": "separate", "actor": "reviewer",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/conflicts/"+c.ConflictIDs[0]+"/resolve", map[string]string{
		"decision": "ignore", "actor": "reviewer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/conflicts?limit=-1", nil).Code)
}

func TestEventsAndReputation(t *testing.T) {
	api := newTestAPI(t)
	r := api.resolve("org-a", "p-1", "01012345678", "")

	at := time.Now().UTC().Add(-time.Hour)
	for _, kind := range []string{"satisfaction", "attendance"} {
		rec := api.do(http.MethodPost, "/api/v1/events", map[string]any{
			"event_id": "evt-" + kind, "organization_id": "org-a", "profile_id": "p-1",
			"kind": kind, "value": 0.9, "occurred_at": at,
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}
	rec := api.do(http.MethodPost, "/api/v1/events", map[string]any{
		"event_id": "evt-attendance", "organization_id": "org-a", "profile_id": "p-1",
		"kind": "attendance", "value": 0.9, "occurred_at": at,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["duplicate"])

	rec = api.do(http.MethodPost, "/api/v1/events", map[string]any{
		"event_id": "evt-bad", "organization_id": "org-a", "profile_id": "p-1", "kind": "gossip", "value": 0.5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/v1/identities/" + r.CanonicalIdentityID + "/reputation"
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, path, nil).Code)

	rec = api.do(http.MethodPost, "/api/v1/aggregations/reputation", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[AggregationResponse](t, rec).Scored)

	rec = api.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[query.SnapshotDTO](t, rec)
	assert.Equal(t, 2, snap.EventCount)
	assert.Greater(t, snap.Composite, 0.0)

	rec = api.do(http.MethodGet, path+"/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]query.SnapshotDTO](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, path+"?at=yesterday", nil).Code)
}

func TestArchive(t *testing.T) {
	api := newTestAPI(t)
	r := api.resolve("org-a", "p-1", "01012345678", "")

	rec := api.do(http.MethodPost, "/api/v1/identities/"+r.CanonicalIdentityID+"/archive", map[string]string{"actor": "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/api/v1/identities/"+r.CanonicalIdentityID+"/archive", map[string]string{"actor": "ops"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/live", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/ready", nil).Code)

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return context.DeadlineExceeded })
	api.server.deps.HealthChecker = checker

	rec := api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, decode[handlers.HealthStatus](t, rec).Healthy)
	assert.Equal(t, http.StatusServiceUnavailable, api.do(http.MethodGet, "/ready", nil).Code)
}

func TestClassify(t *testing.T) {
	status, code, _ := classify(context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "timeout", code)

	status, code, msg := classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
	assert.NotContains(t, msg, assert.AnError.Error())
}
