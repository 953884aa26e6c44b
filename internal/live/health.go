package live

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the live loop reports under.
const ServiceName = "pairsbot.live"

// HealthServer exposes the standard gRPC health protocol for orchestrators.
type HealthServer struct {
	addr   string
	srv    *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// NewHealthServer starts NOT_SERVING until SetServing(true).
func NewHealthServer(addr string, log zerolog.Logger) *HealthServer {
	h := &HealthServer{addr: addr, srv: grpc.NewServer(), health: health.NewServer(), log: log}
	healthpb.RegisterHealthServer(h.srv, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips both the overall and the named service status.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serve listens on the configured address until ctx ends.
func (h *HealthServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", h.addr, err)
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx ends, then stops gracefully.
func (h *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Serve(lis) }()
	h.log.Info().Str("addr", lis.Addr().String()).Msg("health server listening")
	select {
	case <-ctx.Done():
		h.health.Shutdown()
		h.srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
