package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

const (
	defaultKeyTTL      = time.Hour
	minRefreshInterval = 30 * time.Second
)

// ErrKeysUnavailable means the signing keys could not be fetched. Callers
// answer 503 rather than 401 for it.
var ErrKeysUnavailable = errors.New("auth: signing keys unavailable")

// KeySet caches a remote JWKS document, such as Google's OAuth2 certs. Keys
// are refetched when they expire or when an unknown kid is presented, at
// most once per minRefreshInterval.
type KeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	keys        map[string]any
	expiresAt   time.Time
	lastAttempt time.Time
}

// KeySetOption configures a KeySet.
type KeySetOption func(*KeySet)

// WithKeySetHTTPClient replaces http.DefaultClient.
func WithKeySetHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySet) {
		if c != nil {
			k.client = c
		}
	}
}

// WithKeySetClock overrides time.Now.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeySet returns a KeySet for url. Nothing is fetched until first use.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{url: url, client: &http.Client{Timeout: 5 * time.Second}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Lookup returns the public key for kid.
func (k *KeySet) Lookup(ctx context.Context, kid string) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	key, known := k.keys[kid]
	fresh := now.Before(k.expiresAt)
	if known && fresh {
		return key, nil
	}
	if now.Sub(k.lastAttempt) >= minRefreshInterval || k.keys == nil {
		k.lastAttempt = now
		if err := k.fetchLocked(ctx); err != nil {
			if known {
				// Serve the stale key rather than fail every request during an outage.
				return key, nil
			}
			return nil, err
		}
		key, known = k.keys[kid]
	}
	if !known {
		return nil, fmt.Errorf("auth: unknown signing key %q", kid)
	}
	return key, nil
}

func (k *KeySet) fetchLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeysUnavailable, err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk.Key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrKeysUnavailable)
	}

	k.keys = keys
	k.expiresAt = k.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(strings.Trim(value, `"`)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultKeyTTL
}
