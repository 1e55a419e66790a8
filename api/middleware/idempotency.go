package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/snowskill/snowskill-backend/api/responses"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
	pkgredis "github.com/snowskill/snowskill-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour

	idempotencyHeader = "Idempotency-Key"
)

// replayRoutes lists the writes that honour Idempotency-Key, keyed by "METHOD path".
var replayRoutes = map[string]time.Duration{
	http.MethodPost + " /api/payments/checkout":  criticalIdempotencyTTL,
	http.MethodPost + " /api/admin/affiliates":   defaultIdempotencyTTL,
	http.MethodPatch + " /api/admin/commissions": defaultIdempotencyTTL,
	http.MethodPost + " /api/admin/subscription": defaultIdempotencyTTL,
}

// replayRecord is what sits under an idempotency key: a pending claim while
// the first request runs, then the response it produced.
type replayRecord struct {
	Principal   string `json:"principal"`
	RequestHash string `json:"request_hash"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r replayRecord) encode() string {
	raw, _ := json.Marshal(r)
	return string(raw)
}

func decodeReplayRecord(payload string) (replayRecord, error) {
	var rec replayRecord
	err := json.Unmarshal([]byte(payload), &rec)
	return rec, err
}

func (r replayRecord) writeTo(w http.ResponseWriter) {
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

// Idempotency replays the first response for a repeated Idempotency-Key on
// the routes in replayRoutes. It must be mounted after Auth: keys belong to
// the authenticated caller and anonymous requests are never stored or
// replayed. The key is claimed before the handler runs so a double-submitted
// checkout cannot open two sessions.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePath(r))
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			principal := UserIDFromContext(r.Context())
			if !ok || store == nil || clientKey == "" || principal == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(replayScope(principal, r), clientKey)

			claimed, err := store.SetNX(ctx, key, replayRecord{Principal: principal, RequestHash: hash, Pending: true}.encode(), ttl)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(ctx, store, key, principal, hash, w, logg)
				return
			}

			done := false
			defer func() {
				// a panic or 5xx leaves the key free for the client's retry
				if !done {
					releaseKey(ctx, store, key, logg)
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				return
			}
			final := replayRecord{
				Principal:   principal,
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			releaseKey(ctx, store, key, logg)
			if _, err := store.SetNX(ctx, key, final.encode(), ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
			done = true
		})
	}
}

func replayExisting(ctx context.Context, store pkgredis.IdempotencyStore, key, principal, hash string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the claim expired between SETNX and GET
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotent request still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	rec, err := decodeReplayRecord(stored)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.Principal != principal:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key belongs to another caller"))
	case rec.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.Pending:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotent request still in progress"))
	default:
		rec.writeTo(w)
	}
}

func releaseKey(ctx context.Context, store pkgredis.IdempotencyStore, key string, logg *logger.Logger) {
	if err := store.Del(ctx, key); err != nil {
		logError(ctx, logg, "release idempotency key", err)
	}
}

// replayScope keeps one caller's keys apart from another's on the same route.
func replayScope(principal string, r *http.Request) string {
	return principal + "|" + r.Method + "|" + r.URL.Path
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// routePath returns the matched chi pattern once routing has completed and
// the raw path while the middleware still runs ahead of a wildcard mount.
func routePath(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return strings.TrimSuffix(r.URL.Path, "/")
}

func routeTTL(method, path string) (time.Duration, bool) {
	if path == "" {
		return 0, false
	}
	ttl, ok := replayRoutes[method+" "+path]
	return ttl, ok
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
