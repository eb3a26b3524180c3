package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gymhub/api/internal/services"
)

const (
	voucherPrefix     = "vouchers/"
	maxVoucherSize    = 10 << 20
	defaultVoucherTTL = 15 * time.Minute
)

var voucherContentTypes = []string{"image/*", "application/pdf"}

// VoucherUploads issues signed PUT URLs for transfer voucher images in a
// single bucket.
type VoucherUploads struct {
	client *Client
	bucket string
	ttl    time.Duration
}

// NewVoucherUploads binds client to the vouchers bucket.
func NewVoucherUploads(client *Client, bucket string, ttl time.Duration) (*VoucherUploads, error) {
	if client == nil {
		return nil, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if ttl <= 0 {
		ttl = defaultVoucherTTL
	}
	return &VoucherUploads{client: client, bucket: bucket, ttl: ttl}, nil
}

// SignVoucherUpload signs objectPath for a single upload of contentType.
func (v *VoucherUploads) SignVoucherUpload(ctx context.Context, objectPath, contentType string) (services.VoucherUpload, error) {
	if err := validateVoucherPath(objectPath); err != nil {
		return services.VoucherUpload{}, err
	}
	signed, err := v.client.SignUpload(ctx, v.bucket, objectPath, UploadOptions{
		ContentType:         contentType,
		AllowedContentTypes: voucherContentTypes,
		MaxSize:             maxVoucherSize,
		ExpiresIn:           v.ttl,
	})
	if err != nil {
		return services.VoucherUpload{}, err
	}
	return services.VoucherUpload{
		URL:        signed.URL,
		Method:     signed.Method,
		ObjectPath: objectPath,
		Headers:    signed.Headers,
		ExpiresAt:  signed.ExpiresAt,
	}, nil
}

func validateVoucherPath(objectPath string) error {
	if !strings.HasPrefix(objectPath, voucherPrefix) {
		return fmt.Errorf("storage: voucher object %q must live under %s", objectPath, voucherPrefix)
	}
	for _, segment := range strings.Split(strings.TrimPrefix(objectPath, voucherPrefix), "/") {
		if segment == "" || segment == "." || segment == ".." || strings.Contains(segment, "\\") {
			return errors.New("storage: voucher object path contains an invalid segment")
		}
	}
	return nil
}

var _ services.VoucherURLSigner = (*VoucherUploads)(nil)
