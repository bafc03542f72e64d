// Package app wires the engine runtime: durable storage, the rule catalog,
// the orchestration service, and the health gRPC server.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/openguild/turnengine/internal/engine"
	"github.com/openguild/turnengine/internal/engine/rules"
	"github.com/openguild/turnengine/internal/platform/errors"
	"github.com/openguild/turnengine/internal/storage/sqlite"
)

// RuntimeConfig controls engine startup and runtime behavior.
type RuntimeConfig struct {
	Port      int
	DBPath    string
	RulesPath string
	// ManualEscalationAfter re-notifies arbiters about conflicts suspended
	// longer than this. Zero disables escalation.
	ManualEscalationAfter time.Duration
	// EscalationInterval is how often suspended conflicts are scanned.
	EscalationInterval time.Duration

	// Deps optionally overrides service collaborators; used by embedding
	// hosts that own world state and notification delivery.
	Deps engine.Deps
}

const (
	defaultEnginePort         = 8095
	defaultEngineDB           = "data/engine.db"
	defaultEscalationInterval = time.Minute
)

// Run starts the engine runtime and blocks until the context is canceled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultEnginePort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultEngineDB
	}
	if strings.TrimSpace(cfg.RulesPath) == "" {
		return fmt.Errorf("rules path is required")
	}
	if cfg.EscalationInterval <= 0 {
		cfg.EscalationInterval = defaultEscalationInterval
	}

	catalog, err := rules.LoadFile(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}
	log.Printf("rule catalog loaded version=%s path=%s", catalog.Version(), cfg.RulesPath)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create engine storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open engine sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close engine sqlite store: %v", closeErr)
		}
	}()

	deps := cfg.Deps
	deps.ManualEscalationAfter = cfg.ManualEscalationAfter
	service := engine.New(store, catalog, deps)

	if err := service.Recover(ctx); err != nil {
		return fmt.Errorf("recover open batches: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on engine port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(errorUnaryInterceptor(errors.DefaultLocale)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("engine.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("engine server listening at %v", listener.Addr())
	return runEscalationLoop(ctx, service, cfg.EscalationInterval)
}

// runEscalationLoop periodically re-notifies arbiters about stale suspended
// conflicts until the context is canceled.
func runEscalationLoop(ctx context.Context, service *engine.Service, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := service.EscalateStale(ctx); err != nil {
				log.Printf("escalate stale conflicts: %v", err)
			}
		}
	}
}
