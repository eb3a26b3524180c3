package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/gymhub/api/internal/domain"
)

// Values of the Firebase "role" custom claim. Members carry no claim and
// are treated as customers.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// ErrNoUserDirectory is returned by Identity.User when no directory was wired.
var ErrNoUserDirectory = errors.New("auth: user directory not configured")

// Identity is a member or desk user verified from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	lookup  func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	profile struct {
		once   sync.Once
		record *firebaseauth.UserRecord
		err    error
	}
}

func (i *Identity) hasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, want := range roles {
		want = strings.TrimSpace(want)
		for _, held := range i.Roles {
			if want != "" && strings.EqualFold(held, want) {
				return true
			}
		}
	}
	return false
}

// Actor maps the identity to a domain actor. Admin outranks staff.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	role := domain.RoleCustomer
	if i.hasRole(RoleAdmin) {
		role = domain.RoleAdmin
	} else if i.hasRole(RoleStaff) {
		role = domain.RoleStaff
	}
	return domain.Actor{ID: i.UID, Role: role}
}

// User loads the Firebase profile once per request.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.lookup == nil {
		return nil, ErrNoUserDirectory
	}
	i.profile.once.Do(func() {
		i.profile.record, i.profile.err = i.lookup(ctx, i.UID)
	})
	return i.profile.record, i.profile.err
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

// ActorFromContext resolves who is calling. A Firebase user wins over a
// service account, which wins over a signed webhook sender.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity.Actor(), true
	}
	if svc, ok := ServiceIdentityFromContext(ctx); ok {
		name := svc.Email
		if name == "" {
			name = svc.Subject
		}
		return domain.Actor{ID: "service:" + name, Role: domain.RoleSystem}, true
	}
	if signed, ok := SignedRequestFromContext(ctx); ok {
		return domain.Actor{ID: "webhook:" + signed.Sender, Role: domain.RoleSystem}, true
	}
	return domain.Actor{}, false
}
