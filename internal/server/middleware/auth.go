package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// apiKeyHeader carries the operator key when no bearer token is sent.
const apiKeyHeader = "X-API-Key"

// Auth returns middleware that guards operator endpoints with either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// If apiKey is empty the guarded endpoints are disabled and answer 404.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				http.NotFound(w, r)
				return
			}

			token := operatorToken(r)
			switch {
			case token == "":
				writeUnauthorized(w, "missing operator key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				writeUnauthorized(w, "invalid operator key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// operatorToken returns the bearer token, or the X-API-Key header when no
// bearer token is present.
func operatorToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// writeFailure sends a JSON error body in the same shape the handlers use.
// code is omitted when empty.
func writeFailure(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeFailure(w, http.StatusUnauthorized, msg, "")
}
