package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/docpipe/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/docpipe/internal/api/middlewares"
	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/metrics"
)

// ServerDeps are the collaborators behind the HTTP routes.
type ServerDeps struct {
	Documents  handlers.DocumentService
	Retrieval  handlers.Retriever
	Dispatcher handlers.Dispatcher
	Metrics    *metrics.Metrics
	Ping       func(ctx context.Context) error
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, deps ServerDeps) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func NewRouter(cfg *config.Config, deps ServerDeps) http.Handler {
	docHandler := handlers.NewDocumentHandler(deps.Documents)
	chatHandler := handlers.NewChatHandler(deps.Retrieval, deps.Dispatcher)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ping != nil {
			if err := deps.Ping(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret)))

		api.Post("/documents/upload", docHandler.UploadDocument)
		api.Get("/documents/{documentID}", docHandler.GetDocument)
		api.Delete("/documents/{documentID}", docHandler.DeleteDocument)

		api.Post("/chats/{chatID}/context", chatHandler.RetrieveContext)
		api.Post("/chats/{chatID}/messages/{messageID}/respond", chatHandler.RequestResponse)
	})

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
