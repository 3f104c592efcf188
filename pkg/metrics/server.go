package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dsdeploy/pkg/logging"
)

// Server exposes /metrics and /healthz while a run is in flight
type Server struct {
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer builds the observability listener
func NewServer(addr string, collector *Collector, log *logging.Logger) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", collector.Handler()).Methods("GET")
	router.HandleFunc("/healthz", handleHealth).Methods("GET")

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start serves until Stop is called. It returns on listener failure.
func (s *Server) Start() error {
	s.log.Info("Metrics listener starting", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
