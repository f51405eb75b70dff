package httpmw

import "net/http"

// The API is stateless and read-only (GET only, no cookies, no auth), so
// there is nothing for CSRF protection to guard.

// apiCSP forbids every resource type; responses are JSON or file bytes and
// are never rendered as documents.
const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// SecurityHeaders adds hardening headers suited to a JSON and binary
// download API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", apiCSP)
		// downloads are octet-stream; never let a browser sniff them into html
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("Cross-Origin-Resource-Policy", "same-site")

		next.ServeHTTP(w, r)
	})
}
