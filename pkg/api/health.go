package api

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/types"
)

// ServicePrefix prefixes the per-node health service names
const ServicePrefix = "compactor.node/"

// ServiceName returns the health service name of node
func ServiceName(node types.NodeID) string {
	return ServicePrefix + string(node)
}

// HealthService exposes the standard gRPC health service. The empty
// service reports the process; every node with a running worker is
// SERVING under ServiceName(node).
type HealthService struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger

	mu    sync.Mutex
	known map[types.NodeID]bool
}

// NewHealthService creates the gRPC server with the health service
// registered
func NewHealthService() *HealthService {
	hs := health.NewServer()
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoveryInterceptor(), LoggingInterceptor()))
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &HealthService{
		grpc:   srv,
		health: hs,
		logger: log.WithComponent("grpc"),
		known:  make(map[types.NodeID]bool),
	}
}

// Start listens on addr and serves until Stop
func (h *HealthService) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.logger.Info().Str("addr", addr).Msg("gRPC health service listening")
	return h.Serve(lis)
}

// Serve serves on lis until Stop
func (h *HealthService) Serve(lis net.Listener) error {
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// Sync sets every node in statuses with a running worker SERVING and
// every other node seen before NOT_SERVING
func (h *HealthService) Sync(statuses []types.NodeStatus) {
	running := make(map[types.NodeID]bool, len(statuses))
	for _, st := range statuses {
		if st.State != types.WorkerStateStopped {
			running[st.Node] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for node := range running {
		h.known[node] = true
	}
	for node := range h.known {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if running[node] {
			status = healthpb.HealthCheckResponse_SERVING
		}
		h.health.SetServingStatus(ServiceName(node), status)
	}
}

// Follow resyncs from source on every worker lifecycle event until ctx is
// done or sub is closed
func (h *HealthService) Follow(ctx context.Context, sub events.Subscriber, source StatusSource) {
	h.Sync(source.Status())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if strings.HasPrefix(string(ev.Type), "worker.") {
				h.Sync(source.Status())
			}
		}
	}
}
