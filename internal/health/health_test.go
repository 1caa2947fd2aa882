package health

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"fusion-svr/internal/stream"
	"fusion-svr/internal/tak"
)

type fakeGateway struct {
	mu    sync.Mutex
	state tak.State
}

func (f *fakeGateway) State() tak.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeGateway) set(s tak.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type fakeStreams struct {
	mu    sync.Mutex
	infos []stream.Info
}

func (f *fakeStreams) ListActiveStreams() []stream.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Info(nil), f.infos...)
}

func (f *fakeStreams) set(states ...stream.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = nil
	for _, st := range states {
		f.infos = append(f.infos, stream.Info{ID: "cam", State: st})
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, r *Reporter) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	svc := NewGRPCServerService("", lis, r, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestReporterStatuses(t *testing.T) {
	gw := &fakeGateway{}
	streams := &fakeStreams{}
	r := NewReporter(gw, streams, time.Hour, quietLogger())
	client := startServer(t, r)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceTAK))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceStreams), "idle supervisor")

	gw.set(tak.StateConnected)
	streams.set(stream.StateStarting)
	r.Refresh()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceTAK))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceStreams))

	streams.set(stream.StateStarting, stream.StateRunning)
	r.Refresh()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceStreams))
}

func TestReporterPolls(t *testing.T) {
	gw := &fakeGateway{}
	r := NewReporter(gw, &fakeStreams{}, 10*time.Millisecond, quietLogger())
	client := startServer(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	gw.set(tak.StateConnected)
	require.Eventually(t, func() bool {
		return check(t, client, ServiceTAK) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceTAK))
}
