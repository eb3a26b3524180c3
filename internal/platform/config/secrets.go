package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecretResolver resolves secret:// references, usually against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errNoResolver = errors.New("secret resolver not configured")

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that resolved empty.
// Error and RedactedNames never reveal the field names themselves.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// Names returns the missing field names, sorted.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns a short hash per missing field, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, n := range e.names {
		out = append(out, redact(n))
	}
	sort.Strings(out)
	return out
}

func redact(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// IsSecretReference reports whether value names a secret instead of holding one.
// sm:// is accepted as an alias of secret://.
func IsSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func canonicalRef(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

// secretFields resolves references in place and remembers every resolved
// field by name for the required-secrets check.
type secretFields struct {
	ctx      context.Context
	resolver SecretResolver
	resolved map[string]string
}

func (s *secretFields) resolve(name string, field *string) error {
	value := *field
	if IsSecretReference(value) {
		ref := canonicalRef(value)
		if s.resolver == nil {
			return &SecretError{Ref: ref, Err: errNoResolver}
		}
		v, err := s.resolver.ResolveSecret(s.ctx, ref)
		if err != nil {
			return &SecretError{Ref: ref, Err: err}
		}
		value = v
	}
	*field = value
	s.resolved[name] = strings.TrimSpace(value)
	return nil
}

func (s *secretFields) missing(required []string) *MissingSecretsError {
	seen := make(map[string]bool)
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if s.resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}
