package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/gymhub/api/internal/platform/config"
)

const (
	roleClaim            = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens. *firebaseauth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter loads Firebase user records. *firebaseauth.Client satisfies it.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// NewFirebaseClient initialises the Admin SDK auth client for cfg.ProjectID.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig) (*firebaseauth.Client, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return client, nil
}

// Authenticator turns Firebase bearer tokens into an Identity on the request
// context. Members carry no role claim and become customers; front-desk and
// back-office accounts carry role=staff or role=admin.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithUserGetter lets handlers lazily load the member's Firebase profile.
func WithUserGetter(users UserGetter) Option {
	return func(a *Authenticator) { a.users = users }
}

// WithVerificationTimeout bounds each call to Firebase.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for rejected tokens.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator builds an Authenticator over verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid ID token. When roles
// are given the identity must hold one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				recordVerification(ctx, "firebase", "token_missing")
				deny(ctx, w, http.StatusUnauthorized, "unauthenticated", "bearer token required")
				return
			}
			if a == nil || a.verifier == nil {
				recordVerification(ctx, "firebase", "unavailable")
				deny(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "token verification is not configured")
				return
			}

			vctx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(vctx, raw)
			cancel()
			if err != nil {
				reason, message := "token_invalid", "firebase id token invalid"
				if firebaseauth.IsIDTokenExpired(err) {
					reason, message = "token_expired", "firebase id token expired"
				}
				a.logger.Debug("firebase token rejected", zap.String("reason", reason), zap.Error(err))
				recordVerification(ctx, "firebase", reason)
				deny(ctx, w, http.StatusUnauthorized, reason, message)
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, "email"),
				Roles: roleClaims(token.Claims[roleClaim]),
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleCustomer}
			}
			if len(roles) > 0 && !identity.hasRole(roles...) {
				recordVerification(ctx, "firebase", "role_denied")
				deny(ctx, w, http.StatusForbidden, "insufficient_role", "caller lacks the required role")
				return
			}
			if a.users != nil {
				identity.lookup = a.loadUser
			}

			recordVerification(ctx, "firebase", "ok")
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) loadUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.users.GetUser(ctx, uid)
}

// roleClaims accepts "staff", ["staff","admin"] or {"staff":true}.
func roleClaims(raw any) []string {
	var out []string
	add := func(role string) {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			return
		}
		for _, existing := range out {
			if existing == role {
				return
			}
		}
		out = append(out, role)
	}
	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				add(role)
			}
		}
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
