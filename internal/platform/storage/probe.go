package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// BucketProbe reports whether the vouchers bucket is reachable. It backs the
// "storage" readiness check.
type BucketProbe struct {
	client *gcs.Client
	bucket string
}

// NewBucketProbe constructs a probe for bucket.
func NewBucketProbe(client *gcs.Client, bucket string) (*BucketProbe, error) {
	if client == nil {
		return nil, errors.New("storage probe: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &BucketProbe{client: client, bucket: bucket}, nil
}

// Check fetches bucket attributes.
func (p *BucketProbe) Check(ctx context.Context) error {
	if _, err := p.client.Bucket(p.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("storage probe: bucket %s: %w", p.bucket, err)
	}
	return nil
}
