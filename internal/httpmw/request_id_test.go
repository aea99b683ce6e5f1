package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("empty id should not be stored, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("bare context = %q", got)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		inbound   string
		propagate bool
	}{
		{"generates when missing", "X-Request-Id", "", false},
		{"propagates upstream", "X-Request-Id", "upstream-id-abc", true},
		{"custom header", "X-Correlation-Id", "corr-999", true},
		{"default header name", "", "default.header_test", true},
		{"rejects newline", "X-Request-Id", "abc\nforged=1", false},
		{"rejects spaces", "X-Request-Id", "abc def", false},
		{"rejects oversize", "X-Request-Id", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == "" {
				header = "X-Request-Id"
			}
			var ctxID string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = RequestIDFromContext(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.inbound != "" {
				req.Header.Set(header, tt.inbound)
			}
			rec := httptest.NewRecorder()
			RequestID(tt.header)(handler).ServeHTTP(rec, req)

			if got := rec.Header().Get(header); got != ctxID {
				t.Fatalf("response header %q != context %q", got, ctxID)
			}
			if tt.propagate {
				if ctxID != tt.inbound {
					t.Fatalf("id = %q, want %q", ctxID, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(ctxID); err != nil {
				t.Fatalf("generated id %q is not a uuid: %v", ctxID, err)
			}
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	seen := make(map[string]bool)
	mw := RequestID("X-Request-Id")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		id := rec.Header().Get("X-Request-Id")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
