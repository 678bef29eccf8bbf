package api

import (
	"context"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-remediate/internal/config"
)

// ProbeServer exposes the platform's standard gRPC health-check surface.
// The engine carries no custom gRPC API; the data surface is HTTP. Probes
// and service meshes speak grpc.health.v1, so the probe server registers
// the health service plus reflection, instrumented like every other
// mirador gRPC endpoint.
type ProbeServer struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	healthSrv  *health.Server
	listener   net.Listener
}

// NewProbeServer constructs a gRPC probe server bound to the configured address.
func NewProbeServer(cfg config.ServerConfig, opts ...grpc.ServerOption) (*ProbeServer, error) {
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	grpc_prometheus.Register(grpcServer)

	// Register health service so probes can check readiness via gRPC tooling.
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	// Enable server reflection in development environments.
	reflection.Register(grpcServer)

	return &ProbeServer{
		cfg:        cfg,
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
		listener:   lis,
	}, nil
}

// Start serves incoming gRPC requests until Stop/Shutdown is invoked.
func (s *ProbeServer) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("probe server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// SetDraining flips the health status to NOT_SERVING so load balancers stop
// routing new work while in-flight executions finish.
func (s *ProbeServer) SetDraining() {
	if s.healthSrv == nil {
		return
	}
	s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// Shutdown attempts a graceful shutdown, falling back to Stop after timeout.
func (s *ProbeServer) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *ProbeServer) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *ProbeServer) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
