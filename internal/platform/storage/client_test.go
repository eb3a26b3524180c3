package storage

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func newTestClient(t *testing.T, signer *fakeSigner, now time.Time) *Client {
	t.Helper()
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return client
}

func TestNewClientRequiresSignerEmail(t *testing.T) {
	if _, err := NewClient(&fakeSigner{}); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
}

func TestSignUploadSuccess(t *testing.T) {
	signer := &fakeSigner{email: "vouchers@gymhub.iam.gserviceaccount.com"}
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, signer, now)

	res, err := client.SignUpload(context.Background(), "gymhub-vouchers", "vouchers/order/ord-1/01HZ.png", UploadOptions{
		ContentType:         "image/PNG",
		AllowedContentTypes: []string{"image/*"},
		MaxSize:             1 << 20,
		ExpiresIn:           10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("SignUpload returned error: %v", err)
	}

	if res.Method != http.MethodPut {
		t.Fatalf("expected method PUT, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}
	if res.Headers["Content-Type"] != "image/png" {
		t.Fatalf("expected normalised Content-Type header, got %v", res.Headers)
	}
	if res.Headers["x-goog-content-length-range"] != "0,1048576" {
		t.Fatalf("expected content length header, got %v", res.Headers)
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignUploadValidation(t *testing.T) {
	client := newTestClient(t, &fakeSigner{email: "vouchers@gymhub.iam.gserviceaccount.com"}, time.Now())

	cases := []struct {
		name   string
		bucket string
		object string
		opts   UploadOptions
		want   error
	}{
		{"missing bucket", "", "obj", UploadOptions{ContentType: "image/png"}, errInvalidBucket},
		{"missing object", "bucket", " ", UploadOptions{ContentType: "image/png"}, errInvalidObject},
		{"get method", "bucket", "obj", UploadOptions{Method: "GET", ContentType: "image/png"}, errMethodNotAllowed},
		{"missing content type", "bucket", "obj", UploadOptions{}, errContentTypeMissing},
		{"denied content type", "bucket", "obj", UploadOptions{ContentType: "text/html", AllowedContentTypes: []string{"image/*", "application/pdf"}}, errContentTypeDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SignUpload(context.Background(), tc.bucket, tc.object, tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSignUploadPropagatesSignerError(t *testing.T) {
	boom := errors.New("kms unavailable")
	client := newTestClient(t, &fakeSigner{email: "vouchers@gymhub.iam.gserviceaccount.com", err: boom}, time.Now())

	_, err := client.SignUpload(context.Background(), "bucket", "obj", UploadOptions{ContentType: "image/png"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestVoucherUploadsSignVoucherUpload(t *testing.T) {
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, &fakeSigner{email: "vouchers@gymhub.iam.gserviceaccount.com"}, now)
	uploads, err := NewVoucherUploads(client, "gymhub-vouchers", 5*time.Minute)
	if err != nil {
		t.Fatalf("NewVoucherUploads: %v", err)
	}

	upload, err := uploads.SignVoucherUpload(context.Background(), "vouchers/local_sale/sale-1/01HZ.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("SignVoucherUpload: %v", err)
	}
	if upload.ObjectPath != "vouchers/local_sale/sale-1/01HZ.pdf" || upload.Method != http.MethodPut {
		t.Fatalf("unexpected upload %+v", upload)
	}
	if !upload.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", upload.ExpiresAt)
	}
	if upload.Headers["x-goog-content-length-range"] != "0,10485760" {
		t.Fatalf("expected voucher size cap, got %v", upload.Headers)
	}

	for _, path := range []string{"receipts/ord-1.png", "vouchers/order/../secret.png", "vouchers//x.png"} {
		if _, err := uploads.SignVoucherUpload(context.Background(), path, "image/png"); err == nil {
			t.Fatalf("expected %q to be rejected", path)
		}
	}
	if _, err := uploads.SignVoucherUpload(context.Background(), "vouchers/order/ord-1/x.exe", "application/x-msdownload"); !errors.Is(err, errContentTypeDenied) {
		t.Fatalf("expected content type rejection, got %v", err)
	}
}
