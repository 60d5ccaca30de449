// Command beacon launches the Beacon discovery runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/strobelight/beacon/internal/bridge/wsbridge"
	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/config"
	"github.com/strobelight/beacon/internal/discovery"
	"github.com/strobelight/beacon/internal/observability"
	"github.com/strobelight/beacon/internal/persistence/migrations"
	"github.com/strobelight/beacon/internal/persistence/postgres"
	"github.com/strobelight/beacon/internal/policy"
	"github.com/strobelight/beacon/internal/providersim"
	"github.com/strobelight/beacon/internal/schema"
	"github.com/strobelight/beacon/internal/telemetry"
)

const (
	defaultConfigPath        = "config/beacon.yaml"
	beaconLoggerPrefix       = "beacon "
	shutdownTimeout          = 15 * time.Second
	bridgeShutdownTimeout    = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	auditConnectTimeout      = 10 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newBeaconLogger()

	cfg, loadedFromFile, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Print("configuration file not found, using defaults")
	}
	cfg = config.FromEnv(cfg)
	logger.Printf("configuration initialised: env=%s, providers=%d",
		cfg.Environment, len(cfg.Providers))

	observability.SetLogger(observability.NewStdLogger(logger, cfg.Debug))

	telemetryProvider, err := initTelemetry(ctx, logger, cfg.Environment)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	channel := eventchannel.NewMemoryChannel()

	admission, err := loadAdmissionPolicy(cfg.Admission)
	if err != nil {
		logger.Fatalf("load admission policy: %v", err)
	}
	if admission != nil {
		logger.Printf("admission policy loaded from %s", cfg.Admission.ScriptPath)
	}

	service, err := discovery.NewService(channel, discovery.Config{Admission: admission})
	if err != nil {
		logger.Fatalf("initialise discovery service: %v", err)
	}

	unsubscribeLog, err := service.Subscribe(ctx, func(records []schema.ProviderRecord, version uint64) {
		logger.Printf("registry changed: providers=%d version=%d", len(records), version)
	})
	if err != nil {
		logger.Fatalf("subscribe registry log: %v", err)
	}

	fleet, err := startFleet(ctx, logger, channel, cfg.Providers)
	if err != nil {
		logger.Fatalf("start providers: %v", err)
	}

	var lifecycle conc.WaitGroup

	startRequester(ctx, &lifecycle, logger, service, cfg.Requester)

	bridge, err := startBridge(ctx, logger, service, cfg.Bridge)
	if err != nil {
		logger.Fatalf("start inspect bridge: %v", err)
	}

	auditPool, unwatchAudit, err := startAudit(ctx, logger, service, cfg.Audit)
	if err != nil {
		logger.Fatalf("start audit store: %v", err)
	}

	logger.Print("beacon started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	printSnapshot(logger, service)

	unsubscribeLog()
	if unwatchAudit != nil {
		unwatchAudit()
	}
	if bridge != nil {
		bridgeCtx, bridgeCancel := context.WithTimeout(shutdownCtx, bridgeShutdownTimeout)
		if err := bridge.Shutdown(bridgeCtx); err != nil {
			logger.Printf("bridge shutdown: %v", err)
		}
		bridgeCancel()
	}
	if fleet != nil {
		fleet.Stop()
	}
	cancel()
	lifecycle.Wait()
	service.Close()
	channel.Close()
	if auditPool != nil {
		auditPool.Close()
	}
	if telemetryProvider != nil {
		telCtx, telCancel := context.WithTimeout(shutdownCtx, telemetryShutdownTimeout)
		if err := telemetryProvider.Shutdown(telCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
		telCancel()
	}

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration manifest (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newBeaconLogger() *log.Logger {
	return log.New(os.Stdout, beaconLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("BEACON_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Environment = string(env)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Print("telemetry disabled")
	}
	return provider, nil
}

func loadAdmissionPolicy(cfg config.AdmissionSettings) (policy.Policy, error) {
	if cfg.ScriptPath == "" {
		return nil, nil
	}
	source, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("read admission script %q: %w", cfg.ScriptPath, err)
	}
	script, err := policy.CompileScript(string(source))
	if err != nil {
		return nil, fmt.Errorf("compile admission script %q: %w", cfg.ScriptPath, err)
	}
	return script, nil
}

func startFleet(ctx context.Context, logger *log.Logger, channel eventchannel.Channel, specs []config.ProviderSpec) (*providersim.Fleet, error) {
	if len(specs) == 0 {
		logger.Print("no providers configured; skipping provider bootstrap")
		return nil, nil
	}
	opts := make([]providersim.Options, 0, len(specs))
	for _, spec := range specs {
		opts = append(opts, providersim.Options{
			UUID: spec.UUID,
			Name: spec.Name,
			Icon: spec.Icon,
			RDNS: spec.RDNS,
		})
	}
	fleet, err := providersim.NewFleet(channel, opts)
	if err != nil {
		return nil, fmt.Errorf("build provider fleet: %w", err)
	}
	if err := fleet.Start(ctx); err != nil {
		return nil, fmt.Errorf("start provider fleet: %w", err)
	}
	logger.Printf("providers started: %d", len(fleet.Providers()))
	return fleet, nil
}

func startRequester(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, service *discovery.Service, cfg config.RequesterSettings) {
	if !cfg.Enabled {
		logger.Print("requester disabled")
		return
	}
	requester := discovery.NewRequester(service, discovery.RequesterConfig{
		InitialInterval:    cfg.InitialInterval,
		MaxInterval:        cfg.MaxInterval,
		StopWhenDiscovered: cfg.StopWhenDiscovered,
	})
	lifecycle.Go(func() {
		if err := requester.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("requester stopped: %v", err)
		}
	})
}

func startBridge(ctx context.Context, logger *log.Logger, service *discovery.Service, cfg config.BridgeSettings) (*wsbridge.Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	bridge, err := wsbridge.NewServer(service, wsbridge.Config{ListenAddr: cfg.ListenAddr})
	if err != nil {
		return nil, fmt.Errorf("build inspect bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("start inspect bridge: %w", err)
	}
	logger.Printf("inspect bridge listening on %s", bridge.Addr())
	return bridge, nil
}

func startAudit(ctx context.Context, logger *log.Logger, service *discovery.Service, cfg config.AuditSettings) (*pgxpool.Pool, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if cfg.DSN == "" {
		return nil, nil, errors.New("audit enabled without dsn")
	}
	migrateCtx, migrateCancel := context.WithTimeout(ctx, auditConnectTimeout)
	defer migrateCancel()
	if err := migrations.Apply(migrateCtx, cfg.DSN, logger); err != nil {
		return nil, nil, fmt.Errorf("apply audit migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect audit store: %w", err)
	}
	store := postgres.NewAuditStore(pool)
	unwatch, err := store.Watch(ctx, service)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("watch discoveries: %w", err)
	}
	logger.Print("audit store attached")
	return pool, unwatch, nil
}

func printSnapshot(logger *log.Logger, service *discovery.Service) {
	snapshot := service.Snapshot()
	infos := make([]schema.ProviderInfo, 0, len(snapshot))
	for _, record := range snapshot {
		infos = append(infos, record.Info)
	}
	encoded, err := json.Marshal(infos)
	if err != nil {
		logger.Printf("encode snapshot: %v", err)
		return
	}
	logger.Printf("final registry snapshot (version=%d): %s", service.Version(), encoded)
}
