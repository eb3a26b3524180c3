package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/gymhub/api/internal/platform/firestore"
)

const idempotencyCollection = "idempotency_keys"

// FirestoreStore keeps keys in the idempotency_keys collection. Expiry is
// stored in expires_at so a Firestore TTL policy can also reap documents.
type FirestoreStore struct {
	client *firestore.Client
	coll   string
}

// NewFirestoreStore binds the store to client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, coll: idempotencyCollection}
}

type keyDoc struct {
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"created_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d keyDoc) entry() Entry {
	return Entry{
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		Status:      d.Status,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.coll).Doc(key)
	var (
		outcome Outcome
		entry   Entry
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc keyDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			current := doc.entry()
			if !current.expired(now) {
				if current.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				outcome, entry = Busy, current
				if current.State == StateDone {
					outcome = Replay
				}
				return nil
			}
		}
		doc := keyDoc{
			Fingerprint: fingerprint,
			State:       string(StateInFlight),
			CreatedAt:   now.UTC(),
			ExpiresAt:   now.Add(ttl).UTC(),
		}
		outcome, entry = Acquired, doc.entry()
		return tx.Set(ref, doc)
	})
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			return 0, Entry{}, err
		}
		return 0, Entry{}, pfirestore.WrapError("idempotency.claim", err)
	}
	return outcome, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, entry Entry) error {
	doc := keyDoc{
		Fingerprint: entry.Fingerprint,
		State:       string(StateDone),
		Status:      entry.Status,
		Header:      entry.Header,
		Body:        entry.Body,
		CreatedAt:   entry.CreatedAt.UTC(),
		ExpiresAt:   entry.ExpiresAt.UTC(),
	}
	if _, err := s.client.Collection(s.coll).Doc(key).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("idempotency.complete", err)
	}
	return nil
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.coll).Doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.abandon", err)
	}
	return nil
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	docs, err := s.client.Collection(s.coll).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	bw.End()
	return len(docs), nil
}
