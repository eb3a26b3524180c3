package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gymhub/api/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}

	for _, bad := range []string{"", "nope", "105445aa7843bc8bf206b12000100000", "zz/1;o=1", "105445aa7843bc8bf206b12000100000/0;o=1"} {
		if _, ok := parseCloudTrace(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTraceMiddlewareContinuesCallerTrace(t *testing.T) {
	var got requestctx.Trace
	handler := TraceMiddleware("gymhub-dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.TraceFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(CloudTraceHeader, "105445aa7843bc8bf206b12000100000/42;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.Project != "gymhub-dev" {
		t.Fatalf("expected project on trace, got %+v", got)
	}
	// Without an SDK provider the span is a no-op that inherits the remote context.
	if got.ID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected caller trace to be continued, got %+v", got)
	}
}

func TestAccessLogLevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := chi.NewRouter()
	r.Use(middleware.RequestID, AccessLog(zap.New(core)), Recover(nil))
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !requestctx.HasLogger(r.Context()) {
			t.Fatal("expected request logger in handler")
		}
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { panic("kaboom") })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), `"error":"internal"`) {
		t.Fatalf("expected 500 envelope after panic, got %d %s", rr.Code, rr.Body.String())
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 2 {
		t.Fatalf("expected two access log lines, got %d", len(completed))
	}
	if completed[0].Level != zapcore.WarnLevel || completed[0].ContextMap()["route"] != "/orders/{id}" {
		t.Fatalf("unexpected 404 entry %+v", completed[0].ContextMap())
	}
	if completed[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected panic to log at error, got %s", completed[1].Level)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(fallbackCore))

	log(context.Background(), "stock.depleted", map[string]any{"productId": "p-1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "event.publish.failed", map[string]any{"orderId": "ord-1"})

	if fallbackLogs.Len() != 1 || fallbackLogs.All()[0].ContextMap()["productId"] != "p-1" {
		t.Fatalf("unexpected fallback entries %+v", fallbackLogs.All())
	}
	entries := requestLogs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["event"] != "event.publish.failed" {
		t.Fatalf("unexpected request entries %+v", entries)
	}
}
