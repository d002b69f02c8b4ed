package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/data", s.handleData)
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleStartSync)
		r.Get("/sync/events", s.handleSyncEvents)
	})

	r.Handle("/*", http.FileServer(http.Dir(s.webDir)))
}
