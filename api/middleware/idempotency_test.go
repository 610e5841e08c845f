package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
)

type recordStore struct {
	mu      sync.Mutex
	records map[string]string
	ttls    map[string]time.Duration
}

func newRecordStore() *recordStore {
	return &recordStore{records: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *recordStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *recordStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.records[key]; taken {
		return false, nil
	}
	s.records[key], s.ttls[key] = value.(string), ttl
	return true, nil
}

func (s *recordStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key], s.ttls[key] = value.(string), ttl
	return nil
}

func (s *recordStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.records, k)
		delete(s.ttls, k)
	}
	return nil
}

func (s *recordStore) IdempotencyKey(scope, id string) string { return scope + "#" + id }

func send(h http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestRouteTTL(t *testing.T) {
	cases := []struct {
		method string
		path   string
		ttl    time.Duration
		ok     bool
	}{
		{http.MethodPost, "/api/v1/jobs/7c1e2d3a/checkout", criticalIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/jobs/7c1e2d3a/cancel", criticalIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/jobs/7c1e2d3a/approve", criticalIdempotencyTTL, true},
		{http.MethodPost, "/api/admin/v1/jobs/7c1e2d3a/payout", criticalIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/jobs", defaultIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/jobs/7c1e2d3a/bids", defaultIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/notifications/n1/read", defaultIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/jobs//checkout", 0, false},
		{http.MethodPost, "/api/v1/jobs/7c1e2d3a/bids/9f00/decline", 0, false},
		{http.MethodGet, "/api/v1/jobs", 0, false},
		{http.MethodPost, "/api/v1/webhooks/stripe", 0, false},
	}
	for _, tc := range cases {
		ttl, ok := routeTTL(tc.method, tc.path)
		assert.Equal(t, tc.ok, ok, "%s %s", tc.method, tc.path)
		assert.Equal(t, tc.ttl, ttl, "%s %s", tc.method, tc.path)
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	ran := false
	h := Idempotency(newRecordStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))

	rec := send(h, "/api/v1/jobs", "", `{"title":"roof"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, ran)
}

func TestIdempotencyIgnoresUnlistedRoutes(t *testing.T) {
	store := newRecordStore()
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := send(h, "/api/v1/webhooks/stripe", "", `{}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.records)
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := newRecordStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"checkout_session_id":"cs_1"}`))
	}))

	first := send(h, "/api/v1/jobs/j1/checkout", "pay-1", `{"bid_id":"b1"}`)
	second := send(h, "/api/v1/jobs/j1/checkout", "pay-1", `{"bid_id":"b1"}`)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	for _, ttl := range store.ttls {
		assert.Equal(t, criticalIdempotencyTTL, ttl)
	}
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(newRecordStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send(h, "/api/v1/jobs", "k", `{"title":"roof"}`)
	rec := send(h, "/api/v1/jobs", "k", `{"title":"basement"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyReleasesKeyAfterServerError(t *testing.T) {
	store := newRecordStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	assert.Equal(t, http.StatusBadGateway, send(h, "/api/v1/jobs/j1/checkout", "pay-1", `{}`).Code)
	assert.Equal(t, http.StatusCreated, send(h, "/api/v1/jobs/j1/checkout", "pay-1", `{}`).Code)
	assert.Equal(t, 2, calls)
	assert.Len(t, store.records, 1)
}

func TestIdempotencyRejectsDuplicateWhileFirstRuns(t *testing.T) {
	store := newRecordStore()
	calls := 0
	var duplicate *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// client retries before the first call returns
			duplicate = send(h, "/api/v1/jobs/j1/checkout", "pay-2", `{"bid_id":"b"}`)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := send(h, "/api/v1/jobs/j1/checkout", "pay-2", `{"bid_id":"b"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Contains(t, duplicate.Body.String(), "in_progress")
}

func TestIdempotencyReservationIsShortLived(t *testing.T) {
	store := newRecordStore()
	var seen time.Duration
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, ttl := range store.ttls {
			seen = ttl
		}
		w.WriteHeader(http.StatusOK)
	}))

	send(h, "/api/v1/jobs", "k", `{}`)
	assert.Equal(t, reservationTTL, seen)
}
