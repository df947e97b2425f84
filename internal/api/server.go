package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"binsync/internal/config"
	"binsync/internal/logging"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SyncServiceName is the health service name reported next to the
// overall ("") status.
const SyncServiceName = "binsync.Sync"

// ConnectivitySource is what the gRPC health service mirrors.
type ConnectivitySource interface {
	IsOnline() bool
	Subscribe(listener func(isOnline, wasOffline bool)) func()
}

// GRPCServer serves the standard health protocol. SERVING means the
// remote is reachable, NOT_SERVING means the engine runs offline.
type GRPCServer struct {
	cfg         *config.APIConfig
	server      *grpc.Server
	health      *health.Server
	listener    net.Listener
	unsubscribe func()
	log         *zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, conn ConnectivitySource, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	// health is the only unary service and stays open; the key is checked
	// on streams (reflection)
	auth := NewAuth(*cfg)
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(LoggingUnaryInterceptor(logger)),
		grpc.StreamInterceptor(auth.Stream()),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	s := &GRPCServer{
		cfg:      cfg,
		server:   grpcServer,
		health:   hs,
		listener: lis,
		log:      logging.Component(logger, "grpc"),
	}

	s.setServing(conn.IsOnline())
	s.unsubscribe = conn.Subscribe(func(isOnline, _ bool) {
		s.setServing(isOnline)
	})

	return s, nil
}

func (s *GRPCServer) setServing(online bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(SyncServiceName, st)
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	}
}
