package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/app"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

const grpcServiceName = "research.Orchestrator"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader("", nil)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	a, err := app.Build(ctx, cfg, app.Options{}, logger)
	if err != nil {
		logger.Fatal("Failed to build research stack", zap.Error(err))
	}
	defer a.Close()

	loader.Watch(a.ApplyConfig)

	// ------------------------------------------------------------------
	// Admin server: health endpoints come up first so probes answer while
	// the rest of the process starts.
	// ------------------------------------------------------------------
	if err := a.Health.Start(ctx); err != nil {
		logger.Warn("Health manager start failed", zap.Error(err))
	}
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(a.Health, logger).RegisterRoutes(adminMux)
	adminServer := newHTTPServer(cfg.Server.AdminPort, adminMux, 10*time.Second)
	go serveHTTP(adminServer, "Admin HTTP server", logger)

	metricsServer := newHTTPServer(cfg.Server.MetricsPort, promhttp.Handler(), 10*time.Second)
	go serveHTTP(metricsServer, "Metrics server", logger)

	// ------------------------------------------------------------------
	// Research API
	// ------------------------------------------------------------------
	apiMux := http.NewServeMux()
	runs := httpapi.NewRunRegistry(cfg.Server.MaxRuns)
	researchHandler := httpapi.NewResearchHandler(ctx, a.Orchestrator, runs, logger)
	researchHandler.RegisterRoutes(apiMux)
	httpapi.NewStreamingHandler(a.Events, logger).RegisterRoutes(apiMux)

	var snapshots httpapi.SnapshotLoader
	if a.Snapshots != nil {
		snapshots = a.Snapshots
	}
	httpapi.NewArchiveHandler(a.Reports, snapshots, cfg.Research.MemoryLimitTokens, logger).RegisterRoutes(apiMux)

	var apiHandler http.Handler = apiMux
	if cfg.Auth.Enabled {
		jm := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
		apiHandler = auth.NewMiddleware(jm, false, logger).HTTPMiddleware(apiMux)
	}
	logger.Info("Auth configuration", zap.Bool("enabled", cfg.Auth.Enabled))

	// Streams and synchronous runs outlive a normal write timeout.
	apiServer := newHTTPServer(cfg.Server.Port, apiHandler, 0)
	go serveHTTP(apiServer, "Research API server", logger)

	// ------------------------------------------------------------------
	// gRPC health service mirroring readiness
	// ------------------------------------------------------------------
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)
	go syncGRPCHealth(ctx, a.Health, hs)
	go func() {
		logger.Info("gRPC health service listening", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down research orchestrator")

	hs.Shutdown()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTTL)
	defer stop()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Research API shutdown failed", zap.Error(err))
	}
	// Cancelling the base context stops async runs; wait for them to record
	// their results.
	cancel()
	researchHandler.Wait()

	grpcServer.GracefulStop()
	_ = a.Health.Stop()
	for _, srv := range []*http.Server{adminServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
}

func newHTTPServer(port int, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func serveHTTP(srv *http.Server, name string, logger *zap.Logger) {
	logger.Info(name+" listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(name+" failed", zap.Error(err))
	}
}

// syncGRPCHealth publishes the cached readiness to the gRPC health service.
func syncGRPCHealth(ctx context.Context, hm *health.Manager, hs *grpchealth.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if !hm.CachedHealth().Overall.Ready {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(grpcServiceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
