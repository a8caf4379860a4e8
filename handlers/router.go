// modgate/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)

	if dir := app.UploadDir(); dir != "" {
		mux.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(dir))))
	}

	mux.Get("/healthz", MakeHandler(app, HandleHealth))
	mux.Handle("/metrics", promhttp.Handler())

	// Forum post API
	mux.Post("/posts", MakeHandler(app, HandleCreatePost))
	mux.Get("/posts/{postID}", MakeHandler(app, HandleGetPost))
	mux.Put("/posts/{postID}", MakeHandler(app, HandleEditPost))
	mux.Get("/users/{userID}/notifications", MakeHandler(app, HandleNotifications))

	// Vendor callbacks
	mux.Post("/moderation-api/webhook", MakeHandler(app, HandleModerationWebhook))

	// Moderation handlers
	mux.Route("/mod", func(r chi.Router) {
		r.Use(RequireLAN)
		r.Get("/reviewables", MakeHandler(app, HandleListReviewables))
		r.Post("/reviewables/{reviewableID}/approve", MakeHandler(app, HandleApproveReviewable))
		r.Post("/reviewables/{reviewableID}/reject", MakeHandler(app, HandleRejectReviewable))
		r.Get("/log", MakeHandler(app, HandleModLog))
		r.Post("/backup-db", MakeHandler(app, HandleDatabaseBackup))
		r.Post("/users", MakeHandler(app, HandleCreateUser))
	})

	return mux
}
