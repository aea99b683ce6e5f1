package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name        string
		remoteAddr  string
		xff         string
		hops        int
		want        string
		wantCleared bool
	}{
		// no trusted hops, XFF never believed
		{"private ignores xff without hops", "10.0.0.1:1234", "203.0.113.50", 0, "10.0.0.1", true},
		{"private 192.168 ignores xff", "192.168.1.1:1234", "198.51.100.1", 0, "192.168.1.1", true},
		{"public ignores xff", "203.0.113.1:1234", "10.0.0.1", 0, "203.0.113.1", true},
		{"loopback ignores xff", "127.0.0.1:1234", "203.0.113.50", 0, "127.0.0.1", true},
		{"ipv6 private ignores xff", "[fd00::1]:1234", "2001:db8::1", 0, "fd00::1", true},
		{"ipv6 loopback", "[::1]:1234", "", 0, "::1", true},

		// single ALB
		{"alb takes rightmost", "10.0.0.1:1234", "198.51.100.7, 203.0.113.50", 1, "203.0.113.50", false},
		{"alb no xff uses peer", "10.0.0.1:1234", "", 1, "10.0.0.1", false},
		{"alb garbage entry uses peer", "10.0.0.1:1234", "not-an-ip", 1, "10.0.0.1", false},
		{"alb public peer not trusted", "203.0.113.9:1234", "198.51.100.7", 1, "203.0.113.9", true},
		{"alb ipv4-mapped entry", "10.0.0.1:1234", "::ffff:203.0.113.50", 1, "203.0.113.50", false},

		// CDN + ALB
		{"two hops takes second from end", "10.0.0.1:1234", "203.0.113.50, 10.0.0.5, 10.0.0.6", 2, "10.0.0.5", false},
		{"too few entries fails closed", "10.0.0.1:1234", "203.0.113.50", 2, "10.0.0.1", true},

		// malformed peers
		{"no port", "203.0.113.1", "10.0.0.1", 0, "203.0.113.1", true},
		{"garbage peer", "not-an-ip", "203.0.113.50", 1, UnknownClient, false},
		{"garbage host with port", "nope:80", "", 0, UnknownClient, false},
		{"empty peer", "", "203.0.113.50", 1, UnknownClient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			r.Header.Set("X-Forwarded-Proto", "https")

			if got := extractRealClientAddr(r, tt.hops); got != tt.want {
				t.Fatalf("extractRealClientAddr(hops=%d) = %q, want %q", tt.hops, got, tt.want)
			}
			cleared := r.Header.Get("X-Forwarded-Proto") == ""
			if cleared != tt.wantCleared {
				t.Fatalf("forwarded headers cleared = %v, want %v", cleared, tt.wantCleared)
			}
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	tests := []struct {
		name string
		mw   func(http.Handler) http.Handler
		xff  string
		want string
	}{
		{"default ignores xff", ClientIP, "203.0.113.50", "10.0.0.1"},
		{"alb", ClientIPWithOptions(ClientIPOptions{TrustedHops: 1}), "203.0.113.50", "203.0.113.50"},
		{"cdn and alb", ClientIPWithOptions(ClientIPOptions{TrustedHops: 2}), "203.0.113.50, 10.0.0.5, 10.0.0.6", "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			h := tt.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = ClientIPFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = "10.0.0.1:1234"
			r.Header.Set("X-Forwarded-For", tt.xff)
			h.ServeHTTP(httptest.NewRecorder(), r)

			if captured != tt.want {
				t.Fatalf("ClientIPFromContext() = %q, want %q", captured, tt.want)
			}
		})
	}
}

func TestClientIPContext(t *testing.T) {
	if got := ClientIPFromContext(WithClientIP(context.Background(), "203.0.113.50")); got != "203.0.113.50" {
		t.Errorf("round trip = %q", got)
	}
	if got := ClientIPFromContext(WithClientIP(context.Background(), "")); got != "" {
		t.Errorf("empty input stored %q", got)
	}
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Errorf("missing key = %q", got)
	}
}

func FuzzExtractClientAddr(f *testing.F) {
	f.Add("10.0.0.1:8080", "203.0.113.50, 10.0.0.1", 1)
	f.Add("203.0.113.50:443", "192.168.1.1", 0)
	f.Add("garbage", "", 0)
	f.Add("[::1]:8080", "2001:db8::1", 1)
	f.Add("10.0.0.1:1234", "a, b, c", 2)
	f.Fuzz(func(t *testing.T, remoteAddr, xff string, hops int) {
		if hops < 0 || hops > 10 {
			return
		}
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.RemoteAddr = remoteAddr
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		if extractRealClientAddr(r, hops) == "" {
			t.Fatal("extractRealClientAddr returned empty string")
		}
	})
}
