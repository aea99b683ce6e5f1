package httpmw

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

type capturedLog struct {
	msg    string
	fields []any
}

// flatLogger captures With() and Info() calls. With returns itself so everything lands in one place.
type flatLogger struct {
	mu    sync.Mutex
	infos []capturedLog
	withs [][]any
}

func newFlatLogger() *flatLogger { return &flatLogger{} }

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Debug(context.Context, string, ...any)        {}
func (l *flatLogger) Warn(context.Context, string, ...any)         {}
func (l *flatLogger) Error(context.Context, error, string, ...any) {}
func (l *flatLogger) Sync() error                                  { return nil }

func (l *flatLogger) lastInfo() (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.infos) == 0 {
		return capturedLog{}, false
	}
	return l.infos[len(l.infos)-1], true
}

func (l *flatLogger) lastWith() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.withs) == 0 {
		return nil
	}
	return l.withs[len(l.withs)-1]
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

// withContextLogger injects fl the way WithLogger would.
func withContextLogger(fl log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context(), fl)))
	})
}

type flusherRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flusherRecorder) Flush() { f.flushed = true }

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriter_CapturesStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}

	if rw.statusCode() != http.StatusOK {
		t.Fatal("unwritten status should report 200")
	}
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte("hello "))
	_, _ = rw.Write([]byte("world"))

	if rw.status != http.StatusAccepted || rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d/%d, want 202", rw.status, rec.Code)
	}
	if rw.bytes != 11 {
		t.Fatalf("bytes = %d, want 11", rw.bytes)
	}

	// finishing without a recording parent span is a no-op
	rw.finishWriteSpan()
}

func TestResponseWriter_WriteDefaultsTo200(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	_, _ = rw.Write([]byte("x"))
	if rw.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.status)
	}
}

func TestResponseWriter_FlushAndHijack(t *testing.T) {
	fr := &flusherRecorder{ResponseRecorder: httptest.NewRecorder()}
	(&responseWriter{ResponseWriter: fr}).Flush()
	if !fr.flushed {
		t.Fatal("Flush not forwarded")
	}

	hr := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	if _, _, err := (&responseWriter{ResponseWriter: hr}).Hijack(); err != nil || !hr.hijacked {
		t.Fatalf("Hijack not forwarded: %v", err)
	}

	if _, _, err := (&responseWriter{ResponseWriter: httptest.NewRecorder()}).Hijack(); err == nil {
		t.Fatal("Hijack on a non-hijacker should error")
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name      string
		proto     string
		target    string
		urlScheme string
		tls       bool
		want      string
	}{
		{name: "default", want: "http"},
		{name: "forwarded https", proto: "https", want: "https"},
		{name: "forwarded uppercase", proto: "HTTPS", want: "https"},
		{name: "forwarded list takes first", proto: "https, http", want: "https"},
		{name: "forwarded whitespace", proto: "  https  ", want: "https"},
		{name: "forwarded invalid falls through", proto: "ftp", want: "http"},
		{name: "forwarded newline injection", proto: "https\r\nX-Injected: evil", want: "http"},
		{name: "forwarded null byte", proto: "https\x00evil", want: "http"},
		{name: "absolute url", target: "https://example.com/x", want: "https"},
		{name: "invalid url scheme", urlScheme: "gopher", want: "http"},
		{name: "tls", tls: true, want: "https"},
		{name: "forwarded wins over tls", proto: "http", tls: true, want: "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target
			if target == "" {
				target = "/"
			}
			r := httptest.NewRequest(http.MethodGet, target, http.NoBody)
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if tt.urlScheme != "" {
				r.URL.Scheme = tt.urlScheme
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("scheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithLogger_Fields(t *testing.T) {
	fl := newFlatLogger()
	var ctxLogger log.Logger
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = log.FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/api/contact?email=jane@example.com", http.NoBody)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("User-Agent", "EvilBot/1.0")
	req = req.WithContext(WithRequestID(req.Context(), "req-abc-123"))
	req = req.WithContext(WithClientIP(req.Context(), "203.0.113.7"))

	WithLogger(fl)(handler).ServeHTTP(httptest.NewRecorder(), req)

	if ctxLogger == nil {
		t.Fatal("logger not stored in context")
	}
	kv := fl.lastWith()
	want := map[string]any{
		"request_id":           "req-abc-123",
		"client.address":       "203.0.113.7",
		"network.peer.address": "10.0.0.1",
		"http.request.method":  http.MethodPost,
		"url.path":             "/api/contact",
		"url.scheme":           "http",
	}
	for k, v := range want {
		if got, ok := fieldValue(kv, k); !ok || got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	for _, k := range []string{"url.query", "user_agent", "server.address"} {
		if _, found := fieldValue(kv, k); found {
			t.Errorf("field %q must not be logged", k)
		}
	}
}

func TestWithLogger_ClientFallsBackToPeer(t *testing.T) {
	fl := newFlatLogger()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.100:54321"

	WithLogger(fl)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(httptest.NewRecorder(), req)

	if v, _ := fieldValue(fl.lastWith(), "client.address"); v != "192.168.1.100" {
		t.Fatalf("client.address = %v, want peer address", v)
	}
}

func TestAccessLog_LogsRequest(t *testing.T) {
	fl := newFlatLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/subscribe", strings.NewReader("payload"))
	withContextLogger(fl, AccessLog()(handler)).ServeHTTP(httptest.NewRecorder(), req)

	entry, ok := fl.lastInfo()
	if !ok || entry.msg != "http request" {
		t.Fatalf("entry = %+v, want an http request log", entry)
	}
	checks := map[string]any{
		"http.response.status_code": http.StatusCreated,
		"http.response.body.size":   int64(5),
		"http.request.body.size":    int64(7),
		"http.route":                "/api/subscribe",
	}
	for k, v := range checks {
		if got, _ := fieldValue(entry.fields, k); got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	if d, _ := fieldValue(entry.fields, "http.server.request.duration"); d.(float64) < 0 {
		t.Error("negative duration")
	}
}

func TestAccessLog_QuietPaths(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		path   string
		logged bool
	}{
		{"/", true},
		{"/services", true},
		{"/api/contact", true},
		{"/static/css/site.css", false},
		{"/static/js/forms.JS", false},
		{"/favicon.ico", false},
		{"/font.woff2", false},
		{"/-/ready", false},
		{"/-/healthy", false},
	}
	for _, tt := range tests {
		fl := newFlatLogger()
		withContextLogger(fl, AccessLog()(handler)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if _, got := fl.lastInfo(); got != tt.logged {
			t.Errorf("%s logged = %v, want %v", tt.path, got, tt.logged)
		}
	}
}

func TestAccessLog_ChiRoutePattern(t *testing.T) {
	fl := newFlatLogger()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return withContextLogger(fl, next) })
	r.Use(AccessLog())
	r.Get("/services/{slug}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/services/tax-preparation", http.NoBody))

	entry, _ := fl.lastInfo()
	if v, _ := fieldValue(entry.fields, "http.route"); v != "/services/{slug}" {
		t.Fatalf("http.route = %v, want /services/{slug}", v)
	}
}

func TestAccessLog_NoLoggerInContext(t *testing.T) {
	rec := httptest.NewRecorder()
	AccessLog()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestScope(t *testing.T) {
	fl := newFlatLogger()
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(log.WithContext(req.Context(), fl))
	Scope("forms.contact")(handler).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("handler not called")
	}
	if v, _ := fieldValue(fl.lastWith(), "handler"); v != "forms.contact" {
		t.Fatalf("handler = %v", v)
	}
}

// FuzzSchemeFromRequest checks schemeFromRequest only ever returns http or https.
func FuzzSchemeFromRequest(f *testing.F) {
	for _, seed := range []string{"http", "https", "HTTPS", "ftp", "", "https, http", "https\r\nX: y", "javascript:alert(1)", strings.Repeat("A", 10000)} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, proto string) {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.Header.Set("X-Forwarded-Proto", proto)
		if got := schemeFromRequest(r); got != "http" && got != "https" {
			t.Fatalf("schemeFromRequest = %q for %q", got, proto)
		}
	})
}

// FuzzAccessLog_Path checks AccessLog never panics on arbitrary paths.
func FuzzAccessLog_Path(f *testing.F) {
	for _, seed := range []string{"/", "/style.css", "/-/ready", "", "/path\x00with\x00nulls", "/../../../etc/passwd"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, urlPath string) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.URL.Path = urlPath
		withContextLogger(log.Nop(), AccessLog()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))).
			ServeHTTP(httptest.NewRecorder(), req)
	})
}
