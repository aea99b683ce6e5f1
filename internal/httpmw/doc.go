// Package httpmw provides HTTP middleware for the public-facing server.
//
// httpserver composes them outermost first: recover, security headers, request ID,
// client IP, per-IP rate limit, OTEL tracing, content revision headers, metrics,
// structured logging, then the chi router with per-group body limits.
//
// Each middleware is independent and testable on its own. Form fields, query strings,
// user agents and other request-supplied values are kept out of log fields.
package httpmw
