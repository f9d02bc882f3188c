package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketIndexer/internal/broadcast"
	"marketIndexer/internal/ingest"
	"marketIndexer/internal/metrics"
	"marketIndexer/internal/model"
	"marketIndexer/internal/orchestrator"
)

const secret = "server-secret"

type fakeBackend struct {
	status   orchestrator.Status
	failed   []model.FailedEvent
	replayed []string
}

func (b *fakeBackend) Status(context.Context) orchestrator.Status { return b.status }
func (b *fakeBackend) FailedEvents() []model.FailedEvent          { return b.failed }

func (b *fakeBackend) Replay(id string) error {
	for i, ev := range b.failed {
		if ev.Event.ID == id {
			b.failed = append(b.failed[:i], b.failed[i+1:]...)
			b.replayed = append(b.replayed, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ingest.ErrFailedNotFound, id)
}

func token(t *testing.T, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newRouter(backend *fakeBackend) http.Handler {
	return NewRouter(backend, broadcast.NewAuthenticator(secret), nil, metrics.New().Handler(), nil)
}

func do(t *testing.T, h http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAndHealth(t *testing.T) {
	backend := &fakeBackend{status: orchestrator.Status{
		Healthy:    true,
		Components: map[string]bool{"pipeline": true},
		ChainID:    31337,
		Pipeline:   ingest.Health{State: ingest.StateLive, Listening: true, Cursor: 1050},
	}}
	h := newRouter(backend)

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var status orchestrator.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, uint64(1050), status.Pipeline.Cursor)
	assert.Equal(t, ingest.StateLive, status.Pipeline.State)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	backend.status.Healthy = false
	backend.status.Unhealthy = []string{"store"}
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store"`)
}

func TestMetricsRoute(t *testing.T) {
	rec := do(t, newRouter(&fakeBackend{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestFailedEventsAndReplay(t *testing.T) {
	backend := &fakeBackend{failed: []model.FailedEvent{
		{Event: model.QueuedEvent{ID: "0xabc:1", Status: model.StatusFailed, RetryCount: 5}, Error: "store unavailable"},
	}}
	h := newRouter(backend)
	admin := token(t, broadcast.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/failed", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/failed", token(t, broadcast.RoleUser)).Code)

	rec := do(t, h, http.MethodGet, "/failed", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count  int                 `json:"count"`
		Events []model.FailedEvent `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, "0xabc:1", listing.Events[0].Event.ID)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/failed/0xabc:1/replay", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/failed/0xabc:1/replay", "forged").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/failed/0xabc:1/replay", token(t, broadcast.RoleUser)).Code)

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/failed/0xabc:1/replay", admin).Code)
	assert.Equal(t, []string{"0xabc:1"}, backend.replayed)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/failed/0xabc:1/replay", admin).Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/failed/0xabc:1/replay", admin).Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", newRouter(&fakeBackend{}), nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
