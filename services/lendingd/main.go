package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	protocfg "openlend/config"
	"openlend/crypto"
	"openlend/gateway/middleware"
	"openlend/native/lending"
	"openlend/native/oracle"
	"openlend/observability/logging"
	telemetry "openlend/observability/otel"
	svccfg "openlend/services/lendingd/config"
	"openlend/services/lendingd/server"
	"openlend/storage"
)

const moduleName = "lending"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := svccfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("OPENLEND_ENV"))
	var logger *slog.Logger
	if cfg.LogFile != "" {
		logger = logging.SetupRotating("lendingd", env, cfg.LogFile)
	} else {
		logger = logging.Setup("lendingd", env)
	}

	if cfg.Telemetry.Enabled {
		endpoint := cfg.Telemetry.Endpoint
		if endpoint == "" {
			endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "lendingd",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	protocol, err := protocfg.Load(cfg.ProtocolConfig)
	if err != nil {
		log.Fatalf("load protocol config: %v", err)
	}

	var db storage.Database
	if cfg.DataDir != "" {
		leveldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, moduleName))
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		db = leveldb
	} else {
		logger.Warn("no data_dir configured, state is in-memory and will not survive restarts")
		db = storage.NewMemDB()
	}
	defer db.Close()

	engine, pauses, err := buildEngine(cfg, protocol, storage.NewLendingStore(db), logger)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for key, limit := range cfg.RateLimits {
		limits[key] = middleware.RateLimit{
			RatePerSecond: limit.RatePerSecond,
			Burst:         limit.Burst,
		}
	}

	srv := server.New(engine, pauses, logger)
	handler := srv.Router(server.RouterConfig{
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "lendingd",
			Enabled:     true,
			LogRequests: strings.EqualFold(env, "dev"),
		}, logger),
		CORS: middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// buildEngine assembles the lending engine from persisted state, the protocol
// configuration and the oracle seeds, and activates any reserve not yet in
// the store.
func buildEngine(cfg svccfg.Config, protocol *protocfg.Config, store *storage.LendingStore, logger *slog.Logger) (*lending.Engine, *server.PauseSwitch, error) {
	manual := oracle.NewManualOracle()
	now := time.Now()
	for asset, price := range protocol.Oracle.Prices {
		if err := manual.SetDecimal(asset, price, now); err != nil {
			return nil, nil, fmt.Errorf("seed oracle price for %s: %w", asset, err)
		}
	}
	cached := oracle.NewCachedOracle(manual, time.Duration(protocol.Oracle.MaxAgeSeconds)*time.Second)

	engine := lending.NewEngine(crypto.ModuleAddress(moduleName))
	engine.SetState(store)
	engine.SetOracle(cached)
	engine.SetEmitter(server.NewEventSink(logger))
	engine.SetCloseFactor(protocol.CloseFactorBps)
	engine.SetFlashLoanPremium(protocol.FlashLoanPremiumBps)

	pauses := server.NewPauseSwitch()
	engine.SetPauses(pauses)

	// The module's own address is accepted as authority so startup can
	// activate configured reserves before any admin acts.
	bootstrap := engine.ModuleAddress()
	admins := make(map[string]bool, len(cfg.Admins)+1)
	admins[bootstrap.String()] = true
	for _, addr := range cfg.AdminAddresses() {
		admins[addr.String()] = true
	}
	engine.SetAuthorizer(func(addr crypto.Address) bool {
		return admins[addr.String()]
	})

	engine.SetTimestamp(uint64(now.Unix()))
	for _, def := range protocol.Reserves {
		id, err := engine.AddReserve(bootstrap, def.Asset, def.Config)
		if errors.Is(err, lending.ErrReserveAlreadyActive) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("activate reserve %s: %w", def.Asset, err)
		}
		logger.Info("reserve activated", "asset", def.Asset, "id", id)
	}
	return engine, pauses, nil
}
