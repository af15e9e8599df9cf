package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func NewRouter(apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.StandardLogger(), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(MetricsMiddleware)

	r.Get("/health", apiHandler.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Chat sessions
	r.Get("/start_chat/{user_id}", apiHandler.StartChatHandler)
	r.Post("/chat/{session_id}", apiHandler.ChatHandler)
	r.Post("/quiz/{session_id}", apiHandler.QuizHandler)

	// Profile quiz
	r.Get("/get_quiz/{user_id}", apiHandler.GetQuizHandler)
	r.Post("/post_quiz/{user_id}", apiHandler.PostQuizHandler)

	// Profile
	r.Post("/save_user/{user_id}", apiHandler.SaveUserHandler)
	r.Post("/create_user", apiHandler.CreateUserHandler)
	r.Post("/create_preference", apiHandler.CreatePreferenceHandler)
	r.Post("/create_life_event", apiHandler.CreateLifeEventHandler)
	r.Post("/create_image", apiHandler.CreateImageHandler)
	r.Get("/get_user/{user_id}", apiHandler.GetUserHandler)
	r.Get("/get_preferences/{user_id}", apiHandler.GetPreferencesHandler)
	r.Get("/get_life_events/{user_id}", apiHandler.GetLifeEventsHandler)
	r.Get("/get_images/{user_id}", apiHandler.GetImagesHandler)
	r.Post("/request_login", apiHandler.LoginHandler)

	r.Post("/extract", apiHandler.ExtractHandler)

	// Token-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)
		r.Get("/whoami", apiHandler.WhoAmIHandler)
	})

	return r
}
