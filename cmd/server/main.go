package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcAdapter "github.com/quentinrf/aquaflow/internal/adapters/grpc"
	httpserver "github.com/quentinrf/aquaflow/internal/adapters/http"
	"github.com/quentinrf/aquaflow/internal/adapters/mock"
	"github.com/quentinrf/aquaflow/internal/metrics"
	"github.com/quentinrf/aquaflow/internal/ports"
	"github.com/quentinrf/aquaflow/internal/usage"
	"github.com/quentinrf/aquaflow/pkg/tlsconfig"
)

// simulated pump: 30 pulses/s ≈ 4 L/min, +/- 3 pulses
const (
	simulatorPulses    = 30
	simulatorVariation = 3
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "query the gRPC health service and exit")
	flag.Parse()

	// Read configuration from environment
	config, err := loadConfig(os.Getenv)
	if err != nil {
		setupLogger(os.Stderr, defaultConfig())
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogger(os.Stderr, config)

	if *healthcheck {
		if err := runHealthcheck(config); err != nil {
			log.Error().Err(err).Msg("healthcheck failed")
			os.Exit(1)
		}
		return
	}

	if err := run(config); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func setupLogger(out io.Writer, config Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.LogFormat == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

func run(config Config) error {
	log.Info().Str("store", config.StoreType).Msg("starting aquaflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize state store
	store, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer store.Close()

	policy, err := usage.PolicyByName(config.CounterResetPolicy)
	if err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stats := metrics.New(reg)

	// TLS and both listeners come first so a bad certificate or a busy port
	// fails before anything is running
	var tlsCfg *tls.Config
	if config.TLSCert != "" {
		tlsCfg, err = tlsconfig.LoadServerTLS(config.TLSCert, config.TLSKey, config.TLSCA)
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		log.Info().Bool("mtls", config.TLSCA != "").Msg("TLS enabled")
	} else {
		log.Warn().Msg("TLS_CERT not set, gRPC health server runs without TLS (dev mode only)")
	}

	httpListener, err := net.Listen("tcp", ":"+config.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port: %w", err)
	}
	grpcListener, err := net.Listen("tcp", ":"+config.GRPCPort)
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	// Monitor with its display sinks
	hub := httpserver.NewHub()
	display := ports.MultiDisplay{hub, stats, &logDisplay{}}
	monitor := ports.NewMonitor(store, usage.NewAccumulator(store, policy), display, stats)

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- monitor.Run(ctx)
	}()

	// HTTP server
	if config.TrustProxyHeaders {
		log.Warn().Msg("TRUST_PROXY_HEADERS set, client addresses are taken from forwarding headers")
	}
	limiter := httpserver.NewIPRateLimiter(rate.Limit(config.ActionRate), config.ActionBurst, quartz.NewReal())
	go limiter.Run(ctx)

	router := httpserver.NewRouter(monitor, hub, httpserver.Options{
		Observer:          stats,
		Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ActionLimiter:     limiter,
		OriginPatterns:    config.AllowedOrigins,
		TrustProxyHeaders: config.TrustProxyHeaders,
	})
	httpSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /api/stream holds connections open.
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpListener.Addr().String()).Msg("HTTP server listening")
		if err := httpSrv.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC health server
	grpcServer := grpcAdapter.NewServer(tlsCfg)
	reporter := grpcAdapter.NewHealthReporter(monitor)
	reporter.Register(grpcServer)
	go reporter.Run(ctx)

	go func() {
		log.Info().Str("addr", grpcListener.Addr().String()).Msg("gRPC server listening")
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Simulated controller
	if config.Simulator {
		controller := mock.NewFakeController(store, quartz.NewReal(), config.SimulatorInterval, simulatorPulses, simulatorVariation)
		controller.SetLeak(config.SimulatorLeak)
		go controller.Start(ctx)
	}

	// Wait for interrupt signal or a failing component
	var runErr error
	select {
	case <-ctx.Done():
	case err := <-monitorErr:
		if !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("monitor stopped: %w", err)
		}
	case err := <-serveErr:
		runErr = err
	}
	stop()

	log.Info().Msg("shutting down server...")

	// Graceful shutdown
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	grpcServer.GracefulStop()

	return runErr
}

// runHealthcheck asks the local gRPC health service whether the monitor is
// ready, for container health probes
func runHealthcheck(config Config) error {
	creds := insecure.NewCredentials()
	if config.TLSCert != "" {
		tlsCfg, err := tlsconfig.LoadClientTLS(config.TLSCert, config.TLSKey, config.TLSCA)
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		tlsCfg.ServerName = "localhost"
		creds = credentials.NewTLS(tlsCfg)
	}

	conn, err := grpc.NewClient("localhost:"+config.GRPCPort, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: grpcAdapter.ServiceName,
	})
	if err != nil {
		return err
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("monitor status %s", resp.Status)
	}
	return nil
}
