package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// shortRevisionLen is how much of the revision hash goes in the response header.
const shortRevisionLen = 12

// ContentInfo describes the content snapshot currently being served.
type ContentInfo interface {
	// ContentSource is where the snapshot came from: "cms" or "seed".
	ContentSource() string
	// ContentRevision is the snapshot's sha256 hex digest.
	ContentRevision() string
}

// ContentHeaders adds X-Content-Source and X-Content-Revision to every response and
// tags the active span, so a rendered page can be traced back to the CMS revision behind it.
// Values are read per request, a snapshot swap is visible on the next response.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			src := info.ContentSource()
			rev := info.ContentRevision()
			if src != "" {
				w.Header().Set("X-Content-Source", src)
			}
			if rev != "" {
				short := rev
				if len(short) > shortRevisionLen {
					short = short[:shortRevisionLen]
				}
				w.Header().Set("X-Content-Revision", short)
			}

			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("content.source", src),
					attribute.String("content.revision", rev),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
