package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "Idempotent-Replayed"
	maxKeyLength  = 255
)

// Guard makes create endpoints safe to retry. The first request carrying a
// key runs normally and its response is stored; later requests from the same
// actor with the same key and payload receive the stored response.
type Guard struct {
	store  Store
	header string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithHeader changes the request header that carries the key.
func WithHeader(name string) GuardOption {
	return func(g *Guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard builds a Guard over store.
func NewGuard(store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:  store,
		header: defaultHeader,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Require wraps next so that every request must carry a key.
func (g *Guard) Require(next http.Handler) http.Handler {
	if g == nil || g.store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := strings.TrimSpace(r.Header.Get(g.header))
		switch {
		case key == "":
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", g.header+" header is required", http.StatusBadRequest))
			return
		case len(key) > maxKeyLength:
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", g.header+" header is too long", http.StatusBadRequest))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		actorID := "anonymous"
		if actor, ok := auth.ActorFromContext(ctx); ok && actor.ID != "" {
			actorID = actor.ID
		}
		id := docID(actorID, key)
		fingerprint := fingerprintOf(r, body)
		now := g.now().UTC()

		outcome, entry, err := g.store.Claim(ctx, id, fingerprint, now, g.ttl)
		switch {
		case errors.Is(err, ErrKeyReused):
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "key was already used for a different request", http.StatusUnprocessableEntity))
			return
		case err != nil:
			g.logger.Error("idempotency claim failed", zap.String("actor", actorID), zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
			return
		}

		switch outcome {
		case Replay:
			replay(w, entry)
			return
		case Busy:
			w.Header().Set("Retry-After", "1")
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this key is still in progress", http.StatusConflict))
			return
		}

		rec := &recorder{header: make(http.Header)}
		next.ServeHTTP(rec, r)

		// Server errors are not remembered so the client can retry with the same key.
		if rec.statusCode() >= http.StatusInternalServerError {
			if err := g.store.Abandon(ctx, id); err != nil {
				g.logger.Warn("idempotency abandon failed", zap.String("actor", actorID), zap.Error(err))
			}
		} else {
			entry.Status = rec.statusCode()
			entry.Header = storableHeader(rec.header)
			entry.Body = rec.body.Bytes()
			if err := g.store.Complete(ctx, id, entry); err != nil {
				g.logger.Warn("idempotency complete failed", zap.String("actor", actorID), zap.Error(err))
			}
		}
		rec.flush(w)
	})
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.statusCode())
	_, _ = w.Write(r.body.Bytes())
}
