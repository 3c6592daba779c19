package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/http/handlers"
	"github.com/quickauth/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	flowHandler *handlers.FlowHandler,
	sessionHandler *handlers.SessionHandler,
	jwtService *auth.JWTService,
	revocations auth.RevocationList,
	log *zap.Logger,
) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	// Device-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireDevice)

		r.Route("/flows", func(r chi.Router) {
			r.Post("/", flowHandler.HandleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", flowHandler.HandleGet)
				r.Delete("/", flowHandler.HandleDelete)
				r.Post("/request", flowHandler.HandleRequestAgain)
				r.Put("/code", flowHandler.HandleEnterCode)
				r.Post("/verify", flowHandler.HandleVerify)
				r.Post("/resend", flowHandler.HandleResend)
				r.Post("/timeout", flowHandler.HandleTimeout)
				r.Post("/complete", flowHandler.HandleComplete)
			})
		})

		r.Get("/session", sessionHandler.HandleGetSession)
		r.Post("/logout", sessionHandler.HandleLogout)
	})

	// Protected routes (require a valid credential)
	r.Group(func(r chi.Router) {
		r.Use(middleware.CredentialMiddleware(jwtService, revocations))
		r.Get("/me", sessionHandler.HandleMe)
	})

	return r
}
