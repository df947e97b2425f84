package api

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"binsync/internal/config"
	"binsync/internal/connectivity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
)

func TestGRPCHealthMirrorsConnectivity(t *testing.T) {
	monitor := connectivity.NewMonitor(context.Background(), connectivity.ProberFunc(func(context.Context) (bool, error) {
		return true, nil
	}), nil, nil)

	cfg := &config.APIConfig{GRPC: config.APIGRPCConfig{Enabled: true, Port: 0}}
	srv, err := NewGRPCServer(cfg, monitor, nil)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	port := srv.listener.Addr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(SyncServiceName))

	monitor.Update(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	monitor.Update(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(SyncServiceName))
}

func TestGRPCReflectionRequiresAPIKey(t *testing.T) {
	monitor := connectivity.NewMonitor(context.Background(), connectivity.ProberFunc(func(context.Context) (bool, error) {
		return true, nil
	}), nil, nil)

	cfg := &config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		GRPC: config.APIGRPCConfig{Enabled: true, Port: 0, Reflection: true},
	}
	srv, err := NewGRPCServer(cfg, monitor, nil)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	port := srv.listener.Addr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	listServices := func(ctx context.Context) (*reflectionpb.ServerReflectionResponse, error) {
		stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
		if err != nil {
			return nil, err
		}
		_ = stream.Send(&reflectionpb.ServerReflectionRequest{
			MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{ListServices: "*"},
		})
		return stream.Recv()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = listServices(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = listServices(metadata.AppendToOutgoingContext(ctx, "x-api-key", "wrong"))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	resp, err := listServices(metadata.AppendToOutgoingContext(ctx, "x-api-key", "secret"))
	require.NoError(t, err)
	var names []string
	for _, svc := range resp.GetListServicesResponse().GetService() {
		names = append(names, svc.GetName())
	}
	assert.Contains(t, names, "grpc.health.v1.Health")

	// health stays reachable without a key
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}
