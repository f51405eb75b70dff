// Package httpmw holds the middleware for the public modpack listener.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client IP extraction, rate limiting,
// otel tracing, metrics, request logger, access log, then the chi router.
//
// Logs only carry values the server derived itself. Query strings,
// user agents and other headers are left out.
package httpmw
