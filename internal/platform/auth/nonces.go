package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MemoryNonceStore keeps nonces in process. Suitable for a single instance.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewMemoryNonceStore returns an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Remember(_ context.Context, scope, nonce string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, exp := range s.nonces {
		if !now.Before(exp) {
			delete(s.nonces, key)
		}
	}
	key := scope + "\x00" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = until
	return true, nil
}

// FirestoreNonceStore records nonces as documents whose creation fails when
// the nonce was already used, which makes it safe across instances.
type FirestoreNonceStore struct {
	client *firestore.Client
	now    func() time.Time
}

// NewFirestoreNonceStore binds the store to the webhook_nonces collection.
func NewFirestoreNonceStore(client *firestore.Client) *FirestoreNonceStore {
	return &FirestoreNonceStore{client: client, now: time.Now}
}

type nonceDoc struct {
	Scope     string    `firestore:"scope"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

func (s *FirestoreNonceStore) Remember(ctx context.Context, scope, nonce string, until time.Time) (bool, error) {
	sum := sha256.Sum256([]byte(scope + "\x00" + nonce))
	ref := s.client.Collection("webhook_nonces").Doc(hex.EncodeToString(sum[:]))

	_, err := ref.Create(ctx, nonceDoc{Scope: scope, ExpiresAt: until.UTC()})
	if err == nil {
		return true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, err
	}

	// An expired nonce may be reused; Firestore TTL deletion is lazy.
	snap, err := ref.Get(ctx)
	if err != nil {
		return false, err
	}
	var existing nonceDoc
	if err := snap.DataTo(&existing); err != nil {
		return false, err
	}
	if s.now().Before(existing.ExpiresAt) {
		return false, nil
	}
	if _, err := ref.Delete(ctx, firestore.LastUpdateTime(snap.UpdateTime)); err != nil && status.Code(err) != codes.FailedPrecondition {
		return false, err
	}
	if _, err := ref.Create(ctx, nonceDoc{Scope: scope, ExpiresAt: until.UTC()}); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
