// Package httpx holds the JSON error envelope shared by every handler and
// middleware.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gymhub/api/internal/platform/requestctx"
)

// Error is an API failure. It renders as
//
//	{"error": code, "message": msg, "status": 409, "request_id": ..., <details...>}
//
// with details flattened into the top level.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

var reservedKeys = map[string]bool{
	"error": true, "message": true, "status": true, "request_id": true, "trace_id": true,
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clean(code, 80), Message: clean(message, 512), Status: status}
}

// WithDetails returns a copy of e carrying extra fields. Keys that collide
// with the envelope are dropped.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if !reservedKeys[k] {
			merged[k] = v
		}
	}
	e.Details = merged
	return e
}

// Error implements error so handlers can pass it around before writing.
func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError renders e, stamping the request and trace IDs found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := clean(middleware.GetReqID(ctx), 80); id != "" {
		body["request_id"] = id
	}
	if id := clean(requestctx.TraceID(ctx), 64); id != "" {
		body["trace_id"] = id
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// clean strips control characters and truncates to limit runes.
func clean(s string, limit int) string {
	out := make([]rune, 0, len(s))
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsControl(r) {
			r = ' '
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}
