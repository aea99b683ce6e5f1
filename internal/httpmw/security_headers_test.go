package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	var hstsInHandler string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hstsInHandler = w.Header().Get("Strict-Transport-Security")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	SecurityHeaders(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, next handler not reached", rec.Code)
	}
	if hstsInHandler == "" {
		t.Fatal("headers must be set before the handler runs")
	}

	required := map[string]string{
		"Strict-Transport-Security":         "max-age=31536000; includeSubDomains; preload",
		"X-Content-Type-Options":            "nosniff",
		"X-Frame-Options":                   "DENY",
		"Referrer-Policy":                   "strict-origin-when-cross-origin",
		"X-Permitted-Cross-Domain-Policies": "none",
		"Cross-Origin-Opener-Policy":        "same-origin",
		"Cross-Origin-Resource-Policy":      "same-origin",
	}
	for header, want := range required {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if got := rec.Header().Get("Cross-Origin-Embedder-Policy"); got != "" {
		t.Errorf("COEP = %q, would block CMS images", got)
	}

	pp := rec.Header().Get("Permissions-Policy")
	for _, d := range []string{"camera=()", "microphone=()", "geolocation=()", "payment=()"} {
		if !strings.Contains(pp, d) {
			t.Errorf("Permissions-Policy missing %q", d)
		}
	}
}

func TestSecurityHeaders_CSP(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	csp := rec.Header().Get("Content-Security-Policy")
	directives := []string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self'",
		"img-src 'self' data: https://cdn.sanity.io",
		"connect-src 'self'",
		"frame-ancestors 'none'",
		"object-src 'none'",
		"upgrade-insecure-requests",
		"base-uri 'self'",
		"form-action 'self'",
	}
	for _, d := range directives {
		if !strings.Contains(csp, d) {
			t.Errorf("CSP missing %q, full CSP: %s", d, csp)
		}
	}
	if strings.Contains(csp, "unsafe-inline") {
		t.Errorf("CSP must not allow inline scripts: %s", csp)
	}
}
