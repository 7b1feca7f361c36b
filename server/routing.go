package server

import (
	"net/http"
)

// routes configures all HTTP handlers
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))               // Live run events
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))              // Liveness and run status
	mux.HandleFunc("/api/run", s.corsMiddleware(s.HandleRun))                // Status (GET) / start (POST)
	mux.HandleFunc("/api/run/{action}", s.corsMiddleware(s.HandleRunAction)) // pause/resume/cancel/reset (POST)
	mux.HandleFunc("/api/results", s.corsMiddleware(s.HandleResults))        // Outcomes with kind/bank/q/order filters (GET)
	mux.HandleFunc("/api/banks", s.corsMiddleware(s.HandleBanks))            // Bank distribution and grouping (GET)
	mux.HandleFunc("/api/events", s.corsMiddleware(s.HandleEvents))          // Activity log (GET)
	mux.HandleFunc("/api/runs", s.corsMiddleware(s.HandleRuns))              // Archived runs (GET)
	mux.HandleFunc("/api/runs/{id}", s.corsMiddleware(s.HandleRunHistory))   // One archived run with outcomes (GET)

	return mux
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
