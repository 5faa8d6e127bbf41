package httpx

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// requireToken guards a route group with a static shared bearer token. Websocket
// handshakes cannot set headers from browsers, so a token query parameter is also read.
func (r *Router) requireToken(name, expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if expected == "" {
				r.logger.Error("token not configured", "token", name, "path", req.URL.Path)
				writeError(w, http.StatusServiceUnavailable, name+" authentication misconfigured")
				return
			}
			token, err := bearerToken(req.Header.Get("Authorization"))
			if err != nil {
				token = strings.TrimSpace(req.URL.Query().Get("token"))
			}
			if token == "" {
				r.logger.Warn("authorization header invalid", "token", name, "error", err, "path", req.URL.Path)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !tokensEqual(token, expected) {
				r.logger.Warn("token mismatch", "token", name, "path", req.URL.Path)
				writeError(w, http.StatusUnauthorized, "authentication failed")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func tokensEqual(got, expected string) bool {
	return len(got) == len(expected) && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
