// Package pagination parses list query parameters and keyset page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params is a validated page request. Cursor is decoded from PageToken.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options bound the page size. Zero values use the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (def, limit int) {
	def, limit = o.DefaultPageSize, o.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, limit), limit
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token. A non-positive size means the
// default and sizes above the maximum are clamped; only a non-integer size
// or an undecodable token is an error.
func Parse(values url.Values, opts Options) (Params, error) {
	def, limit := opts.bounds()
	p := Params{PageSize: def, PageToken: strings.TrimSpace(values.Get("page_token"))}

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		}
		if n > 0 {
			p.PageSize = min(n, limit)
		}
	}

	cursor, err := DecodeToken(p.PageToken)
	if err != nil {
		return Params{}, err
	}
	p.Cursor = cursor
	return p, nil
}
