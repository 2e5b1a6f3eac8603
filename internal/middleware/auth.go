package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/auth"
)

// publicPaths are served without a bearer token. Sub-paths are public too.
var publicPaths = map[string]bool{
	"/health":       true,
	"/ready":        true,
	"/metrics":      true,
	"/api/auth":     true,
	"/api/products": true,
}

// Auth returns a middleware that authenticates requests and stores the
// resulting AuthInfo in the request context. Public paths and CORS
// preflight requests pass through unauthenticated. The event stream
// upgrade is authenticated like any other request.
func Auth(
	authenticator auth.Authenticator,
	logger *zap.Logger,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(
			w http.ResponseWriter,
			r *http.Request,
		) {
			if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			info, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", getRequestID(r)),
					zap.Error(err),
				)
				writeAuthError(w, err)
				return
			}

			logger.Debug("authentication successful",
				zap.String("subject", info.Subject),
				zap.String("method", string(info.Method)),
				zap.String("path", r.URL.Path),
			)

			ctx := auth.WithAuthInfo(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isPublicPath matches exact public paths and their sub-paths, so
// /api/products/3 is public but /api/productsX is not.
func isPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}

	for p := range publicPaths {
		if strings.HasPrefix(path, p+"/") {
			return true
		}
	}

	return false
}

// writeAuthError writes a 401 with a WWW-Authenticate challenge matching
// the failure.
func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", bearerChallenge(err))

	message := "authentication required"
	if !errors.Is(err, auth.ErrUnauthenticated) {
		message = err.Error()
	}
	writeErrorBody(w, http.StatusUnauthorized, message)
}

func bearerChallenge(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return `Bearer realm="cartapi", error="invalid_token", error_description="token expired"`
	case errors.Is(err, auth.ErrInvalidToken):
		return `Bearer realm="cartapi", error="invalid_token"`
	default:
		return `Bearer realm="cartapi"`
	}
}
