package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultClockSkew       = 5 * time.Minute
	defaultNonceTTL        = 10 * time.Minute
	maxSignedBody          = 1 << 20
)

// SignedRequest records which partner signed a webhook call.
type SignedRequest struct {
	Sender    string
	Nonce     string
	Timestamp time.Time
}

type signedRequestKey struct{}

// WithSignedRequest attaches a verified signature to ctx.
func WithSignedRequest(ctx context.Context, signed *SignedRequest) context.Context {
	if signed == nil {
		return ctx
	}
	return context.WithValue(ctx, signedRequestKey{}, signed)
}

// SignedRequestFromContext returns the verified signature, if any.
func SignedRequestFromContext(ctx context.Context) (*SignedRequest, bool) {
	signed, ok := ctx.Value(signedRequestKey{}).(*SignedRequest)
	return signed, ok && signed != nil
}

// NonceStore remembers nonces so a captured request cannot be replayed.
// Remember reports false when the nonce was already used in scope.
type NonceStore interface {
	Remember(ctx context.Context, scope, nonce string, until time.Time) (bool, error)
}

// WebhookHeaders names the headers carrying the signature parts.
type WebhookHeaders struct {
	Signature string
	Timestamp string
	Nonce     string
}

// WebhookVerifier checks HMAC-SHA256 signatures from partners such as the
// bank's transfer notification service. The signed message is
//
//	METHOD \n PATH \n TIMESTAMP \n NONCE \n hex(sha256(body))
//
// and the signature is sent hex or base64 encoded.
type WebhookVerifier struct {
	secrets   map[string][]byte
	nonces    NonceStore
	headers   WebhookHeaders
	clockSkew time.Duration
	nonceTTL  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// WebhookOption configures a WebhookVerifier.
type WebhookOption func(*WebhookVerifier)

// WithWebhookHeaders overrides the header names; empty fields keep defaults.
func WithWebhookHeaders(h WebhookHeaders) WebhookOption {
	return func(v *WebhookVerifier) {
		if h.Signature != "" {
			v.headers.Signature = h.Signature
		}
		if h.Timestamp != "" {
			v.headers.Timestamp = h.Timestamp
		}
		if h.Nonce != "" {
			v.headers.Nonce = h.Nonce
		}
	}
}

// WithClockSkew sets how far a timestamp may drift from now.
func WithClockSkew(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithNonceTTL sets how long used nonces are remembered.
func WithNonceTTL(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// WithWebhookClock overrides time.Now.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewWebhookVerifier builds a verifier over resolved shared secrets keyed by
// sender name.
func NewWebhookVerifier(secrets map[string]string, nonces NonceStore, opts ...WebhookOption) *WebhookVerifier {
	v := &WebhookVerifier{
		secrets: make(map[string][]byte, len(secrets)),
		nonces:  nonces,
		headers: WebhookHeaders{
			Signature: defaultSignatureHeader,
			Timestamp: defaultTimestampHeader,
			Nonce:     defaultNonceHeader,
		},
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for name, secret := range secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			v.secrets[strings.ToLower(strings.TrimSpace(name))] = []byte(secret)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

var (
	errSignatureMissing = errors.New("signature headers missing")
	errSignatureSkew    = errors.New("signature timestamp outside allowed window")
	errSignatureInvalid = errors.New("signature does not match")
	errNonceReplayed    = errors.New("nonce already used")
)

// Require returns middleware that accepts only requests signed with the
// secret registered for sender.
func (v *WebhookVerifier) Require(sender string) func(http.Handler) http.Handler {
	sender = strings.ToLower(strings.TrimSpace(sender))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			secret, ok := v.secrets[sender]
			if !ok || v.nonces == nil {
				recordVerification(ctx, "hmac", "unavailable")
				deny(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "webhook verification is not configured")
				return
			}

			signed, reason, err := v.verify(r, sender, secret)
			switch {
			case err == nil:
			case reason == "nonce_store_error":
				v.logger.Error("webhook nonce store failed", zap.String("sender", sender), zap.Error(err))
				recordVerification(ctx, "hmac", reason)
				deny(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "unable to verify webhook")
				return
			default:
				v.logger.Warn("webhook signature rejected", zap.String("sender", sender), zap.String("reason", reason), zap.Error(err))
				recordVerification(ctx, "hmac", reason)
				deny(ctx, w, http.StatusUnauthorized, reason, err.Error())
				return
			}

			recordVerification(ctx, "hmac", "ok")
			next.ServeHTTP(w, r.WithContext(WithSignedRequest(ctx, signed)))
		})
	}
}

func (v *WebhookVerifier) verify(r *http.Request, sender string, secret []byte) (*SignedRequest, string, error) {
	sigHeader := strings.TrimSpace(r.Header.Get(v.headers.Signature))
	tsHeader := strings.TrimSpace(r.Header.Get(v.headers.Timestamp))
	nonce := strings.TrimSpace(r.Header.Get(v.headers.Nonce))
	if sigHeader == "" || tsHeader == "" || nonce == "" {
		return nil, "signature_missing", errSignatureMissing
	}

	ts, err := parseWebhookTimestamp(tsHeader)
	if err != nil {
		return nil, "timestamp_invalid", err
	}
	now := v.now()
	if drift := now.Sub(ts); drift > v.clockSkew || drift < -v.clockSkew {
		return nil, "timestamp_skew", errSignatureSkew
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
	if err != nil {
		return nil, "body_unreadable", err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	got, err := decodeSignature(sigHeader)
	if err != nil {
		return nil, "signature_invalid", err
	}
	if !hmac.Equal(got, SignWebhook(secret, r.Method, r.URL.EscapedPath(), tsHeader, nonce, body)) {
		return nil, "signature_invalid", errSignatureInvalid
	}

	fresh, err := v.nonces.Remember(r.Context(), sender, nonce, now.Add(v.nonceTTL))
	if err != nil {
		return nil, "nonce_store_error", err
	}
	if !fresh {
		return nil, "nonce_replayed", errNonceReplayed
	}
	return &SignedRequest{Sender: sender, Nonce: nonce, Timestamp: ts}, "ok", nil
}

// SignWebhook computes the raw HMAC for a request. Partners and tests use it
// to produce the X-Signature header.
func SignWebhook(secret []byte, method, path, timestamp, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join([]string{strings.ToUpper(method), path, timestamp, nonce, hex.EncodeToString(sum[:])}, "\n")))
	return mac.Sum(nil)
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "sha256=")
	if b, err := hex.DecodeString(value); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(value); err == nil {
		return b, nil
	}
	return nil, errors.New("signature must be hex or base64")
}

func parseWebhookTimestamp(value string) (time.Time, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New("signature timestamp must be unix seconds or RFC 3339")
	}
	return ts.UTC(), nil
}
