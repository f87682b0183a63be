package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/types"
)

func startHealthService(t *testing.T) (*HealthService, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	hs := NewHealthService()
	go func() { _ = hs.Serve(lis) }()
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hs, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

func TestHealthServiceProcess(t *testing.T) {
	_, client := startHealthService(t)

	st, err := check(t, client, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = check(t, client, ServiceName("rs1:16020"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealthServiceSync(t *testing.T) {
	hs, client := startHealthService(t)

	hs.Sync([]types.NodeStatus{
		{Node: "rs1:16020", State: types.WorkerStateDraining},
		{Node: "rs2:16020", State: types.WorkerStateStopped},
	})

	st, err := check(t, client, ServiceName("rs1:16020"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = check(t, client, ServiceName("rs2:16020"))
	assert.Equal(t, codes.NotFound, status.Code(err))

	hs.Sync(nil)
	st, err = check(t, client, ServiceName("rs1:16020"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}

func TestHealthServiceFollow(t *testing.T) {
	hs, client := startHealthService(t)
	source := &fakeSource{}

	b := events.NewBroker()
	b.Start()
	defer b.Stop()
	sub := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		hs.Follow(ctx, sub, source)
	}()

	source.set(types.NodeStatus{Node: "rs1:16020", State: types.WorkerStateIdle})
	b.Publish(&events.Event{Type: events.EventWorkerStarted, Node: "rs1:16020"})

	require.Eventually(t, func() bool {
		st, err := check(t, client, ServiceName("rs1:16020"))
		return err == nil && st == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	source.set()
	b.Publish(&events.Event{Type: events.EventWorkerStopped, Node: "rs1:16020"})

	require.Eventually(t, func() bool {
		st, err := check(t, client, ServiceName("rs1:16020"))
		return err == nil && st == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/compactor.Test/Panic"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestLoggingInterceptorPassesThrough(t *testing.T) {
	interceptor := LoggingInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/compactor.Test/Fail"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
