package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reference identifies one secret. The accepted forms are
//
//	secret://<name>[?version=<v>&project=<p>]
//	sm://<name>[...]
//
// sm:// is an alias kept for the environment files used by operators.
type Reference struct {
	Name    string
	Version string
	Project string
}

// Key returns the reference without version or project qualifiers.
func (r Reference) Key() string {
	return "secret://" + r.Name
}

// ParseReference normalises and validates ref.
func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	q := u.Query()
	return Reference{
		Name:    name,
		Version: strings.TrimSpace(q.Get("version")),
		Project: strings.TrimSpace(q.Get("project")),
	}, nil
}
