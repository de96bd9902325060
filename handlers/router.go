package handlers

import (
	"net/http"
	"time"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// RouterDeps are the handlers mounted by NewRouter. Events may be nil.
type RouterDeps struct {
	Faces          *FaceHandler
	Model          *ModelHandler
	Identities     *IdentityHandler
	Samples        *SampleHandler
	Debug          *DebugHandler
	Events         http.HandlerFunc
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger.StdLogger(), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	r.Get("/healthz", Health)

	// the event stream is long lived and stays out of the request timeout
	if deps.Events != nil {
		r.Get("/api/events", deps.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Post("/guardar_rostro", deps.Faces.LegacyEnroll)
		r.Post("/reconocer_rostro", deps.Faces.LegacyRecognize)

		r.Route("/api", func(r chi.Router) {
			r.Route("/faces", func(r chi.Router) {
				r.Post("/enroll", deps.Faces.Enroll)
				r.Post("/recognize", deps.Faces.Recognize)
			})

			r.Route("/model", func(r chi.Router) {
				r.Get("/", deps.Model.Status)
				r.Post("/train", deps.Model.Train)
			})

			r.Route("/identities", func(r chi.Router) {
				r.Get("/", deps.Identities.ListIdentities)
				r.Get("/{identity_id}", deps.Identities.GetIdentity)
			})

			r.Get("/samples/{key}", deps.Samples.ServeSample)
		})

		if deps.Debug != nil {
			r.Route("/debug", func(r chi.Router) {
				r.Post("/detect", deps.Debug.DetectPreview)
			})
		}
	})

	return r
}
