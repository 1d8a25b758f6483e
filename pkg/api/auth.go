// API authentication middleware, static API key.
//
// When gateway.api_key is non-empty, every request except the health check
// MUST carry:
//
//	Authorization: Bearer <api_key>
//
// or:
//
//	X-API-Key: <api_key>
//
// WebSocket upgrade requests may pass the key as a query param instead:
//
//	ws://host/ws?token=<api_key>
//
// When api_key is empty all requests are allowed through, matching the
// open contract existing senders were built against.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/broadcastio/wagateway/pkg/logger"
)

// authMiddleware wraps a handler with API key checking.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "API auth disabled; set WAGW_API_KEY to require a key")
		return next
	}

	logger.InfoC("auth", "API key auth enabled")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// OPTIONS preflight is answered by the CORS middleware
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wagateway"`)
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "unauthorized: API key required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the key from the Authorization header, the X-API-Key
// header, or the ?token= query param.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	return ""
}

// tokenValid does a constant-time comparison.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// isPublicPath returns true for paths that never require authentication.
func isPublicPath(path string) bool {
	return path == "/health"
}
