package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/gymhub/api/internal/domain"
)

type stubTokenVerifier struct {
	verifyFn func(ctx context.Context, token string) (*firebaseauth.Token, error)
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, token string) (*firebaseauth.Token, error) {
	return s.verifyFn(ctx, token)
}

type stubUserGetter struct {
	getFn func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

func (s *stubUserGetter) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	return s.getFn(ctx, uid)
}

func tokenWithClaims(uid string, claims map[string]any) *stubTokenVerifier {
	return &stubTokenVerifier{verifyFn: func(_ context.Context, token string) (*firebaseauth.Token, error) {
		if token != "good-token" {
			return nil, errors.New("bad token")
		}
		return &firebaseauth.Token{UID: uid, Claims: claims}, nil
	}}
}

func serveWithBearer(handler http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRequireFirebaseAuthMemberDefaultsToCustomer(t *testing.T) {
	var got *Identity
	authn := NewAuthenticator(tokenWithClaims("member-9", map[string]any{"email": "ana@example.com"}))
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	rr := serveWithBearer(handler, "good-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got == nil || got.UID != "member-9" || got.Email != "ana@example.com" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if actor := got.Actor(); actor.Role != domain.RoleCustomer {
		t.Fatalf("expected customer actor, got %+v", actor)
	}
}

func TestRequireFirebaseAuthRoleClaimShapes(t *testing.T) {
	cases := []struct {
		name  string
		claim any
		want  domain.Role
	}{
		{"string", "Staff", domain.RoleStaff},
		{"list", []any{"staff", "admin"}, domain.RoleAdmin},
		{"map", map[string]any{"staff": true, "admin": false}, domain.RoleStaff},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got *Identity
			authn := NewAuthenticator(tokenWithClaims("desk-1", map[string]any{"role": tc.claim}))
			handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = IdentityFromContext(r.Context())
			}))
			if rr := serveWithBearer(handler, "good-token"); rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			if got.Actor().Role != tc.want {
				t.Fatalf("expected role %s, got %+v", tc.want, got.Actor())
			}
		})
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	member := NewAuthenticator(tokenWithClaims("member-1", nil))

	if rr := serveWithBearer(member.RequireFirebaseAuth()(next), ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rr.Code)
	}
	if rr := serveWithBearer(member.RequireFirebaseAuth()(next), "forged"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rr.Code)
	}
	if rr := serveWithBearer(member.RequireFirebaseAuth(RoleStaff)(next), "good-token"); rr.Code != http.StatusForbidden {
		t.Fatalf("member on staff route: expected 403, got %d", rr.Code)
	}
	var unset *Authenticator
	if rr := serveWithBearer(unset.RequireFirebaseAuth()(next), "good-token"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil authenticator: expected 503, got %d", rr.Code)
	}
}

func TestIdentityLoadsUserLazily(t *testing.T) {
	calls := 0
	users := &stubUserGetter{getFn: func(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
		calls++
		return &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: uid, DisplayName: "Ana"}}, nil
	}}
	authn := NewAuthenticator(tokenWithClaims("member-9", nil), WithUserGetter(users))
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		for i := 0; i < 2; i++ {
			record, err := identity.User(r.Context())
			if err != nil || record.DisplayName != "Ana" {
				t.Fatalf("unexpected user %+v, %v", record, err)
			}
		}
	}))
	serveWithBearer(handler, "good-token")
	if calls != 1 {
		t.Fatalf("expected a single profile load, got %d", calls)
	}
}

func TestActorFromContextPrecedence(t *testing.T) {
	ctx := WithSignedRequest(context.Background(), &SignedRequest{Sender: "bank"})
	if actor, _ := ActorFromContext(ctx); actor.ID != "webhook:bank" || actor.Role != domain.RoleSystem {
		t.Fatalf("unexpected webhook actor %+v", actor)
	}
	ctx = WithServiceIdentity(ctx, &ServiceIdentity{Email: "scheduler@gymhub.iam.gserviceaccount.com"})
	if actor, _ := ActorFromContext(ctx); actor.ID != "service:scheduler@gymhub.iam.gserviceaccount.com" {
		t.Fatalf("expected service actor to win over webhook, got %+v", actor)
	}
	ctx = WithIdentity(ctx, &Identity{UID: "desk-1", Roles: []string{RoleStaff}})
	if actor, _ := ActorFromContext(ctx); actor.ID != "desk-1" || actor.Role != domain.RoleStaff {
		t.Fatalf("expected firebase identity to win, got %+v", actor)
	}
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor on bare context")
	}
}
