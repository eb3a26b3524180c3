package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle of a stored key.
type State string

const (
	StateInFlight State = "in_flight"
	StateDone     State = "done"
)

// Outcome is the result of claiming a key.
type Outcome int

const (
	// Acquired means the caller owns the key and must Complete or Abandon it.
	Acquired Outcome = iota
	// Replay means a finished response exists for the key.
	Replay
	// Busy means another request holds the key.
	Busy
)

// ErrKeyReused is returned when a key is presented again with a different
// request payload.
var ErrKeyReused = errors.New("idempotency: key reused with a different request")

// Entry is what a store keeps per key.
type Entry struct {
	Fingerprint string
	State       State
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists keys. Keys are already scoped to the caller.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, key string, entry Entry) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func docID(actorID, key string) string {
	sum := sha256.Sum256([]byte(actorID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// hop-by-hop and length headers are recomputed on replay.
var skippedHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Date":              true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if skippedHeaders[name] {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
