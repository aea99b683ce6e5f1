package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownClient is the client address used when none can be determined.
// All such requests share one admission identity ("contact:unknown").
const UnknownClient = "unknown"

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = single ALB
	// (rightmost XFF entry), 2 = CDN + ALB (second from end), etc.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that resolves the client address and stores it in the context.
// The address feeds rate limiting and form admission identities, so forwarded headers are only
// believed when the peer is on a private network and a trusted hop count is configured.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// stripForwarded removes forwarded headers so nothing downstream trusts them by accident.
func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// extractRealClientAddr returns the client address for r.
// With trustedHops > 0 and a private peer, it takes the Nth-from-end X-Forwarded-For entry.
// Too few entries means misconfiguration or spoofing and falls back to the peer.
// Never returns "".
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return UnknownClient
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// no port, use as-is if it is an address at all
		if _, perr := netip.ParseAddr(r.RemoteAddr); perr == nil {
			stripForwarded(r)
			return r.RemoteAddr
		}
		return UnknownClient
	}

	peer, err := netip.ParseAddr(host)
	if err != nil {
		return UnknownClient
	}
	peerStr := peer.Unmap().String()

	if !peer.IsPrivate() || trustedHops <= 0 {
		stripForwarded(r)
		return peerStr
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return peerStr
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		stripForwarded(r)
		return peerStr
	}
	candidate, err := netip.ParseAddr(strings.TrimSpace(parts[idx]))
	if err != nil {
		return peerStr
	}
	return candidate.Unmap().String()
}

// ClientIPFromContext returns the resolved client address, or "" when ClientIP did not run.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
