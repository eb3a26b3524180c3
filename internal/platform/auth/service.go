package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// ServiceIdentity is a Google service account that called an internal
// endpoint, typically Cloud Scheduler running the advance job.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// WithServiceIdentity attaches identity to ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the verified service account, if any.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// KeyLookup resolves a token's kid to a public key.
type KeyLookup interface {
	Lookup(ctx context.Context, kid string) (any, error)
}

// ServiceVerifier accepts Google-signed OIDC tokens, from the Authorization
// header or the IAP assertion header, minted for a fixed audience.
type ServiceVerifier struct {
	keys     KeyLookup
	audience string
	issuers  []string
	callers  map[string]bool
	now      func() time.Time
	logger   *zap.Logger
}

// ServiceOption configures a ServiceVerifier.
type ServiceOption func(*ServiceVerifier)

// WithAllowedCallers restricts accepted tokens to these service account emails.
func WithAllowedCallers(emails ...string) ServiceOption {
	return func(v *ServiceVerifier) {
		for _, email := range emails {
			if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
				if v.callers == nil {
					v.callers = make(map[string]bool)
				}
				v.callers[email] = true
			}
		}
	}
}

// WithServiceClock overrides time.Now for expiry checks.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(v *ServiceVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(v *ServiceVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewServiceVerifier builds a verifier for tokens addressed to audience.
func NewServiceVerifier(keys KeyLookup, audience string, issuers []string, opts ...ServiceOption) *ServiceVerifier {
	v := &ServiceVerifier{
		keys:     keys,
		audience: strings.TrimSpace(audience),
		issuers:  issuers,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Require rejects requests that do not carry a valid service token.
func (v *ServiceVerifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if v == nil || v.keys == nil || v.audience == "" {
			recordVerification(ctx, "oidc", "unavailable")
			deny(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "service token verification is not configured")
			return
		}
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			raw = strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
		}
		if raw == "" {
			recordVerification(ctx, "oidc", "token_missing")
			deny(ctx, w, http.StatusUnauthorized, "unauthenticated", "service token required")
			return
		}

		identity, reason, err := v.verify(ctx, raw)
		if err != nil {
			v.logger.Warn("service token rejected", zap.String("reason", reason), zap.Error(err))
			recordVerification(ctx, "oidc", reason)
			if errors.Is(err, ErrKeysUnavailable) {
				deny(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "signing keys unavailable")
				return
			}
			deny(ctx, w, http.StatusUnauthorized, "invalid_token", "service token rejected")
			return
		}

		recordVerification(ctx, "oidc", "ok")
		next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
	})
}

type serviceClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

func (v *ServiceVerifier) verify(ctx context.Context, raw string) (*ServiceIdentity, string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	var claims serviceClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return v.keys.Lookup(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			return nil, "keys_unavailable", err
		}
		return nil, "token_invalid", err
	}

	now := v.now()
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return nil, "token_expired", errors.New("token expired")
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, "audience_mismatch", errors.New("unexpected audience")
	}
	if len(v.issuers) > 0 && !containsFold(v.issuers, claims.Issuer) {
		return nil, "issuer_mismatch", errors.New("unexpected issuer " + claims.Issuer)
	}
	email := strings.ToLower(claims.Email)
	if v.callers != nil && (!claims.EmailVerified || !v.callers[email]) {
		return nil, "caller_denied", errors.New("caller " + email + " is not allowed")
	}
	return &ServiceIdentity{Subject: claims.Subject, Email: email, Issuer: claims.Issuer}, "ok", nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
