package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/inspectbid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// reservationTTL bounds how long a crashed request can hold its key.
	reservationTTL = 2 * time.Minute
)

// ResponseStore is the subset of pkg/redis the middleware needs.
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type idempotencyRule struct {
	method string
	match  func(path string) bool
	ttl    time.Duration
}

var idempotencyRules = []idempotencyRule{
	{http.MethodPost, matchTemplate("/api/v1/jobs"), defaultIdempotencyTTL},
	{http.MethodPost, matchTemplate("/api/v1/jobs/{jobId}/bids"), defaultIdempotencyTTL},
	{http.MethodPost, matchTemplate("/api/v1/inspector/payout-account"), defaultIdempotencyTTL},
	{http.MethodPost, matchTemplate("/api/v1/notifications/{notificationId}/read"), defaultIdempotencyTTL},
	{http.MethodPost, matchTemplate("/api/v1/notifications/read-all"), defaultIdempotencyTTL},
	// money-moving endpoints
	{http.MethodPost, matchTemplate("/api/v1/jobs/{jobId}/checkout"), criticalIdempotencyTTL},
	{http.MethodPost, matchTemplate("/api/v1/jobs/{jobId}/cancel"), criticalIdempotencyTTL},
	{http.MethodPost, matchTemplate("/api/v1/jobs/{jobId}/approve"), criticalIdempotencyTTL},
	{http.MethodPost, func(p string) bool { return strings.HasPrefix(p, "/api/admin/v1/jobs/") }, criticalIdempotencyTTL},
}

// storedResponse is what lives under an idempotency key. A pending entry is
// written before the handler runs and replaced with the response after.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotency replays the first response for a repeated Idempotency-Key and
// rejects a second request while the first is still running. 5xx responses
// release the key so the client can retry.
func Idempotency(store ResponseStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, cleanPath(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				fail(pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(requestScope(r), clientKey)
			hash := hashBody(body)
			reservation, _ := json.Marshal(storedResponse{Pending: true, RequestHash: hash})

			reserved, err := store.SetNX(ctx, key, string(reservation), reservationTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replay(ctx, store, key, hash, w, fail)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			var captured bytes.Buffer
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// detach so a client disconnect cannot leave the key reserved
			storeCtx := context.WithoutCancel(ctx)
			if status >= http.StatusInternalServerError {
				if err := store.Del(storeCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			final, _ := json.Marshal(storedResponse{
				RequestHash: hash,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(captured.Bytes()),
			})
			if err := store.Set(storeCtx, key, string(final), ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency response", err)
			}
		})
	}
}

func replay(ctx context.Context, store ResponseStore, key, hash string, w http.ResponseWriter, fail func(error)) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key expired mid-request; retry"))
		return
	}
	if err != nil {
		fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}

	switch {
	case stored.RequestHash != hash:
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.Pending:
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress").
			WithDetails(map[string]any{"reason": "in_progress"}))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		if body, err := base64.StdEncoding.DecodeString(stored.Body); err == nil {
			_, _ = w.Write(body)
		}
	}
}

// requestScope keys records per actor and path so two users can reuse a key.
func requestScope(r *http.Request) string {
	return ActorFromContext(r.Context()).UserID.String() + "|" + r.Method + "|" + r.URL.Path
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

// cleanPath is the request path without a trailing slash. Middleware on a
// parent router runs before chi has resolved the full pattern, so rules are
// matched against the concrete path.
func cleanPath(r *http.Request) string {
	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func routeTTL(method, path string) (time.Duration, bool) {
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.match(path) {
			return rule.ttl, true
		}
	}
	return 0, false
}

// matchTemplate matches segment by segment; a {param} segment matches any
// single non-empty value.
func matchTemplate(template string) func(string) bool {
	want := strings.Split(template, "/")
	return func(path string) bool {
		got := strings.Split(path, "/")
		if len(got) != len(want) {
			return false
		}
		for i, seg := range want {
			isParam := strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
			if (isParam && got[i] == "") || (!isParam && got[i] != seg) {
				return false
			}
		}
		return true
	}
}
