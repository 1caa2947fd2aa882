// Package health exposes the standard gRPC health protocol for the TAK
// session and the stream supervisor.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fusion-svr/internal/stream"
	"fusion-svr/internal/tak"
)

// Service names reported by the health server.
const (
	ServiceTAK     = "tak"
	ServiceStreams = "streams"
)

const defaultPollInterval = 5 * time.Second

// GatewayState is the part of the TAK gateway the reporter reads.
type GatewayState interface {
	State() tak.State
}

// StreamCounter is the part of the stream supervisor the reporter reads.
type StreamCounter interface {
	ListActiveStreams() []stream.Info
}

// Reporter polls the components and publishes their status. The overall
// ("") status is SERVING while the TAK session is up.
type Reporter struct {
	srv      *health.Server
	gateway  GatewayState
	streams  StreamCounter
	interval time.Duration
	logger   *slog.Logger
}

func NewReporter(gw GatewayState, streams StreamCounter, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		srv:      health.NewServer(),
		gateway:  gw,
		streams:  streams,
		interval: interval,
		logger:   logger.With("component", "health"),
	}
	r.Refresh()
	return r
}

func (r *Reporter) Server() *health.Server { return r.srv }

// Refresh recomputes every status once.
func (r *Reporter) Refresh() {
	takStatus := healthpb.HealthCheckResponse_NOT_SERVING
	if r.gateway.State() == tak.StateConnected {
		takStatus = healthpb.HealthCheckResponse_SERVING
	}
	r.srv.SetServingStatus(ServiceTAK, takStatus)
	r.srv.SetServingStatus("", takStatus)

	// streams are unhealthy when jobs exist but none of them is playable
	streamStatus := healthpb.HealthCheckResponse_SERVING
	if infos := r.streams.ListActiveStreams(); len(infos) > 0 {
		streamStatus = healthpb.HealthCheckResponse_NOT_SERVING
		for _, info := range infos {
			if info.State == stream.StateRunning {
				streamStatus = healthpb.HealthCheckResponse_SERVING
				break
			}
		}
	}
	r.srv.SetServingStatus(ServiceStreams, streamStatus)
}

// Serve refreshes the statuses every interval until ctx is done, then marks
// everything NOT_SERVING.
func (r *Reporter) Serve(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.srv.Shutdown()
			return ctx.Err()
		case <-t.C:
			r.Refresh()
		}
	}
}

func (r *Reporter) String() string { return "health-reporter" }

// GRPCServerService runs a gRPC server carrying the health service.
type GRPCServerService struct {
	addr   string
	lis    net.Listener
	server *grpc.Server
	logger *slog.Logger
}

// NewGRPCServerService listens on addr when Serve starts. A non-nil lis is
// used instead of addr.
func NewGRPCServerService(addr string, lis net.Listener, r *Reporter, logger *slog.Logger) *GRPCServerService {
	if logger == nil {
		logger = slog.Default()
	}
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, r.Server())
	return &GRPCServerService{
		addr:   addr,
		lis:    lis,
		server: s,
		logger: logger.With("component", "grpc"),
	}
}

func (g *GRPCServerService) Serve(ctx context.Context) error {
	lis := g.lis
	g.lis = nil
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", g.addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", g.addr, err)
		}
	}
	g.logger.Info("grpc server listening", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(lis) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		g.server.GracefulStop()
		<-errCh
		return ctx.Err()
	}
}

func (g *GRPCServerService) String() string { return "grpc-server" }
