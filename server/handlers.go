package server

import (
	"net/http"
)

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}
}

// TenantNotFoundHandler serves the page shown when a request's host matches
// no tenant. The originally requested path travels in the query but is never
// echoed back into the page.
func (s *Server) TenantNotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("This domain is not connected to a workspace."))
	}
}
