package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/metrics"
	"github.com/cuemby/compactor/pkg/types"
)

// StatusSource provides per-node worker progress
type StatusSource interface {
	Status() []types.NodeStatus
	NodeStatus(node types.NodeID) (types.NodeStatus, bool)
}

// Enqueuer accepts forced compactions
type Enqueuer interface {
	Enqueue(ctx context.Context, regions []types.RegionLocation) error
}

// StatusServer serves health, metrics and worker progress over HTTP
type StatusServer struct {
	router     *mux.Router
	httpServer *http.Server
	source     StatusSource
	health     *metrics.HealthChecker
	logger     zerolog.Logger
}

// StatusResponse is the body of /status
type StatusResponse struct {
	Timestamp time.Time          `json:"timestamp"`
	Nodes     []types.NodeStatus `json:"nodes"`
}

// QueueRequest is the body of POST /queue
type QueueRequest struct {
	Regions []types.RegionLocation `json:"regions"`
}

// ErrorResponse is the body of failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewStatusServer creates a status server listening on addr
func NewStatusServer(addr string, source StatusSource, health *metrics.HealthChecker) *StatusServer {
	router := mux.NewRouter()
	s := &StatusServer{
		router: router,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		source: source,
		health: health,
		logger: log.WithComponent("api"),
	}

	router.HandleFunc("/health", health.HealthHandler()).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.ReadyHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/status/{node}", s.nodeStatusHandler).Methods(http.MethodGet)
	if q, ok := source.(Enqueuer); ok {
		router.HandleFunc("/queue", s.queueHandler(q)).Methods(http.MethodPost)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "endpoint not found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})

	return s
}

// Start serves until Shutdown is called
func (s *StatusServer) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router for embedding and tests
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	nodes := s.source.Status()
	if nodes == nil {
		nodes = []types.NodeStatus{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Timestamp: time.Now(), Nodes: nodes})
}

func (s *StatusServer) nodeStatusHandler(w http.ResponseWriter, r *http.Request) {
	node := types.NodeID(mux.Vars(r)["node"])
	st, ok := s.source.NodeStatus(node)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("no worker for node %s", node)})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *StatusServer) queueHandler(q Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		for _, loc := range req.Regions {
			if loc.Region == "" || loc.Node == "" {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "every region needs a region and a node"})
				return
			}
		}

		if err := q.Enqueue(r.Context(), req.Regions); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to queue compactions")
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, req)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
