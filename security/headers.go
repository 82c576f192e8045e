package security

import "net/http"

// SetRejectionHeaders sets headers on throttling rejections so that the
// response is never cached and is not reinterpreted by the browser.
func SetRejectionHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
