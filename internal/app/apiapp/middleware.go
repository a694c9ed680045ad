package apiapp

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authsvc "github.com/gatewaylabs/bffgate/backend/internal/services/auth"
	httperrors "github.com/gatewaylabs/bffgate/backend/internal/transport/http/errors"
)

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

// CookieAuthMiddleware resolves the session cookie into a request identity.
// There is no bearer fallback: the cookie is the only browser credential.
func CookieAuthMiddleware(cookies *authsvc.CookieManager, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookies == nil {
				httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
					Code:    "AUTH_UNAVAILABLE",
					Message: "cookie manager is unavailable",
				})
				return
			}

			identity, err := cookies.Parse(r)
			if err != nil {
				if log != nil {
					log.Debug("cookie auth failed", zap.Error(err))
				}
				httperrors.Unauthorized(w, "REAUTH_REQUIRED", "valid session cookie required")
				return
			}

			ctx := authsvc.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
