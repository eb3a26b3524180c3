package auth

import (
	"context"
	"net/http"

	"github.com/gymhub/api/internal/platform/httpx"
)

func deny(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
