package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service reported for the flow monitor
const ServiceName = "aquaflow.FlowMonitor"

// Readiness is satisfied by the flow monitor
type Readiness interface {
	WaitReady(ctx context.Context) error
}

// HealthReporter publishes the monitor's readiness over the standard gRPC
// health protocol. The overall server ("") is SERVING as soon as it is up;
// ServiceName turns SERVING once the usage baseline is loaded.
type HealthReporter struct {
	health  *health.Server
	monitor Readiness
}

// NewHealthReporter creates a reporter with ServiceName NOT_SERVING
func NewHealthReporter(monitor Readiness) *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		health:  hs,
		monitor: monitor,
	}
}

// Register attaches the health service and reflection to srv
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)

	// Enable gRPC reflection for grpcurl testing
	reflection.Register(srv)
}

// Run flips ServiceName to SERVING once the monitor is ready and marks
// everything NOT_SERVING when ctx ends
func (h *HealthReporter) Run(ctx context.Context) {
	if err := h.monitor.WaitReady(ctx); err == nil {
		h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		log.Info().Str("service", ServiceName).Msg("health status SERVING")
	}

	<-ctx.Done()
	h.health.Shutdown()
}

// NewServer creates a gRPC server, with TLS when tlsCfg is set
func NewServer(tlsCfg *tls.Config) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(logUnary),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	return grpc.NewServer(opts...)
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	log.Debug().
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("grpc call")
	return resp, err
}
