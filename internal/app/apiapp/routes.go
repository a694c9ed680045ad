package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gatewaylabs/bffgate/backend/internal/proxy"
	authsvc "github.com/gatewaylabs/bffgate/backend/internal/services/auth"
	sessionsvc "github.com/gatewaylabs/bffgate/backend/internal/services/sessions"
	tokensvc "github.com/gatewaylabs/bffgate/backend/internal/services/tokens"
	"github.com/gatewaylabs/bffgate/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	Coordinator    *tokensvc.Coordinator
	SessionService *sessionsvc.Service
	CookieManager  *authsvc.CookieManager
	Injector       *proxy.Injector
	Logger         *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.Coordinator, deps.SessionService, deps.CookieManager, deps.Logger)
	authMW := CookieAuthMiddleware(deps.CookieManager, deps.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.With(authMW).Post("/refresh", authHandler.Refresh)
		r.With(authMW).Post("/logout", authHandler.Logout)
		r.With(authMW).Post("/logout-all", authHandler.LogoutAll)
		r.With(authMW).Post("/logout-others", authHandler.LogoutOthers)
		r.With(authMW).Get("/sessions", authHandler.ListSessions)
	})

	r.With(authMW).Handle("/api/*", deps.Injector)
}
