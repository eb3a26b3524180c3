package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is the position after the last item of a page. Pages are ordered by
// creation time, then id.
type Cursor struct {
	After time.Time
	ID    string
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.After.IsZero()
}

// EncodeToken renders cursor as an opaque page token. The zero cursor has
// no token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	if cursor.ID == "" {
		return "", fmt.Errorf("pagination: cursor id is required")
	}
	raw := strconv.FormatInt(cursor.After.UnixNano(), 36) + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeToken reverses EncodeToken. Malformed tokens wrap ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	stamp, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidPageToken)
	}
	nanos, err := strconv.ParseInt(stamp, 36, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return Cursor{After: time.Unix(0, nanos).UTC(), ID: id}, nil
}
