// Package app assembles the identity engine and runs the service process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tessera-id/tessera/internal/identity/client"
	"github.com/tessera-id/tessera/internal/identity/directory"
	"github.com/tessera-id/tessera/internal/oauth"
	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/otel"
	"github.com/tessera-id/tessera/internal/platform/telemetry"
	"github.com/tessera-id/tessera/internal/roles"
	"github.com/tessera-id/tessera/internal/runtime"
	"github.com/tessera-id/tessera/internal/signing"
	"github.com/tessera-id/tessera/internal/storage"
	"github.com/tessera-id/tessera/internal/storage/sqlite"
)

// Config controls service startup.
type Config struct {
	GRPCPort    int    `env:"TESSERA_GRPC_PORT" envDefault:"8086"`
	MetricsAddr string `env:"TESSERA_METRICS_ADDR" envDefault:":9086"`
	DBPath      string `env:"TESSERA_DB_PATH" envDefault:"data/tessera.db"`
	Issuer      string `env:"TESSERA_ISSUER" envDefault:"https://tessera.local"`

	// BootstrapTenant, when set, is a tenant identifier created on startup
	// with a signing key rotated in, so a fresh install can mint tokens
	// without manual setup.
	BootstrapTenant string `env:"TESSERA_BOOTSTRAP_TENANT"`
}

// Engine bundles every entity facade over one shared runtime. It is the
// composition root the transport layers and tests build on.
type Engine struct {
	Runtime       *runtime.Runtime
	Directory     *directory.Directory
	Clients       *client.Clients
	Codes         *oauth.Codes
	RefreshTokens *oauth.RefreshTokens
	Scopes        *oauth.Scopes
	Keyring       *signing.Keyring
	Minter        *signing.Minter
	Roles         *roles.Assignments
}

// NewEngine wires the facades over store. issuer becomes the iss claim of
// minted tokens.
func NewEngine(store storage.StateStore, issuer string) *Engine {
	rt := runtime.New(store)
	keyring := signing.NewKeyring(rt, nil, nil)
	return &Engine{
		Runtime:       rt,
		Directory:     directory.New(rt, nil, nil),
		Clients:       client.New(rt, nil, nil),
		Codes:         oauth.NewCodes(rt, nil),
		RefreshTokens: oauth.NewRefreshTokens(rt, nil),
		Scopes:        oauth.NewScopes(rt, nil),
		Keyring:       keyring,
		Minter:        signing.NewMinter(keyring, issuer, nil),
		Roles:         roles.New(rt, nil),
	}
}

// Run starts the service: durable entity store, gRPC health endpoint, and
// the prometheus metrics listener. It blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	shutdownTracing, err := otel.Setup(ctx, "tessera")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if shutdownErr := shutdownTracing(context.Background()); shutdownErr != nil {
			log.Printf("shutdown tracing: %v", shutdownErr)
		}
	}()
	telemetry.Register()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close sqlite store: %v", closeErr)
		}
	}()

	engine := NewEngine(store, cfg.Issuer)
	if err := bootstrapTenant(ctx, engine, cfg.BootstrapTenant); err != nil {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on grpc port %d: %w", cfg.GRPCPort, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("tessera.identity", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux(),
	}
	metricsErr := make(chan error, 1)
	go func() {
		metricsErr <- metricsServer.ListenAndServe()
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("shutdown metrics server: %v", shutdownErr)
		}
	}()

	log.Printf("identity server listening at %v, metrics at %s", listener.Addr(), cfg.MetricsAddr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return fmt.Errorf("grpc serve: %w", err)
	case err := <-metricsErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics serve: %w", err)
	}
}

// bootstrapTenant ensures the named tenant exists with an active signing
// key. Re-running on an existing tenant is a no-op.
func bootstrapTenant(ctx context.Context, engine *Engine, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil
	}
	tenantID, err := engine.Directory.TenantIDByIdentifier(ctx, identifier)
	if apperrors.CodeOf(err) == apperrors.CodeNotFound {
		created, createErr := engine.Directory.CreateTenant(ctx, identifier, identifier)
		if createErr != nil {
			return createErr
		}
		tenantID = created.ID
		log.Printf("bootstrapped tenant %q (%s)", identifier, tenantID)
	} else if err != nil {
		return err
	}
	if _, err := engine.Keyring.ActiveKey(ctx, tenantID); apperrors.CodeOf(err) == apperrors.CodeKeyNoActive {
		if _, rotateErr := engine.Keyring.Rotate(ctx, tenantID); rotateErr != nil {
			return rotateErr
		}
		log.Printf("rotated initial signing key for tenant %q", identifier)
	} else if err != nil {
		return err
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
