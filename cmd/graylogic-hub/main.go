// Gray Logic Hub - device abstraction hub
//
// The hub loads protocol modules, publishes the devices they find under
// stable ids, and exposes connection, control and event subscription over
// an HTTP and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/gray-logic-hub/migrations"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/drivers/mqttbridge"
	"github.com/nerrad567/gray-logic-hub/internal/drivers/virtual"
	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/identity"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/module"
	"github.com/nerrad567/gray-logic-hub/internal/oauth"
	"github.com/nerrad567/gray-logic-hub/internal/subscription"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// redisPingTimeout bounds the startup check of the Redis identity backend.
const redisPingTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store, closeStore, err := openIdentityStore(ctx, cfg.Identity, db)
	if err != nil {
		return fmt.Errorf("opening identity store: %w", err)
	}
	defer closeStore()
	log.Info("identity store ready", "backend", cfg.Identity.Backend)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Hub.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	subs := subscription.NewRegistry()
	subs.SetLogger(log.Component("subscription"))

	hubOpts := hub.Options{
		Identity:      store,
		Subscriptions: subs,
		QoS:           byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2 by config
		DeviceTimeout: cfg.GetDeviceTimeout(),
		Hash: device.HashParams{
			Time:       cfg.Security.SecretHash.Time,
			MemoryKiB:  cfg.Security.SecretHash.MemoryKiB,
			Threads:    cfg.Security.SecretHash.Threads,
			KeyLength:  cfg.Security.SecretHash.KeyLength,
			SaltLength: cfg.Security.SecretHash.SaltLength,
		},
		Logger: log.Component("hub"),
	}
	// Interfaces stay nil when a backend is off.
	if mqttClient != nil {
		hubOpts.Publisher = mqttClient
	}
	if influxClient != nil {
		hubOpts.Telemetry = influxClient
	}
	if len(cfg.OAuth.Providers) > 0 {
		registry, regErr := oauth.NewRegistry(cfg.OAuth, oauth.NewSQLiteTokenStore(db.DB))
		if regErr != nil {
			return fmt.Errorf("configuring OAuth providers: %w", regErr)
		}
		hubOpts.OAuth = registry
		log.Info("OAuth providers configured", "modules", registry.Modules())
	}

	devices, err := hub.New(hubOpts)
	if err != nil {
		return fmt.Errorf("creating device manager: %w", err)
	}

	catalog, err := buildCatalog()
	if err != nil {
		return fmt.Errorf("building module catalogue: %w", err)
	}

	modules := module.NewManager(catalog, devices, module.Options{
		AutoDiscover:   cfg.Hub.AutoDiscover,
		DiscoverWindow: cfg.GetDiscoverWindow(),
		MQTT:           mqttClient,
		Fetcher:        module.NewHTTPFetcher(cfg.Modules.Registry.InstallDir),
		Metadata:       module.NewSQLiteMetadataStore(db.DB),
		Registry:       cfg.Modules.Registry,
		Logger:         log.Component("modules"),
	})
	devices.SetModules(modules)
	defer func() {
		log.Info("closing device manager")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		devices.Close(shutdownCtx)
	}()

	loaded := modules.LoadAll(ctx, cfg.Modules.Load)
	installed := modules.LoadInstalled(ctx)
	log.Info("modules loaded",
		"configured", loaded,
		"installed", installed,
		"drivers", catalog.Drivers(),
	)

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Devices: devices,
		Modules: modules,
		DB:      db,
		MQTT:    mqttClient,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: API, devices and modules, InfluxDB,
	// MQTT, identity store, database.
	return nil
}

// getConfigPath returns GRAYLOGIC_HUB_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_HUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildCatalog registers every compiled-in driver.
func buildCatalog() (*module.Catalog, error) {
	catalog := module.NewCatalog()
	if err := virtual.Register(catalog); err != nil {
		return nil, err
	}
	if err := mqttbridge.Register(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// openIdentityStore returns the configured identity backend and a function
// releasing it.
func openIdentityStore(ctx context.Context, cfg config.IdentityConfig, db *database.DB) (identity.Store, func(), error) {
	switch cfg.Backend {
	case "", "sqlite":
		return identity.NewSQLiteStore(db.DB), func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return identity.NewRedisStore(rdb, cfg.Redis.KeyPrefix), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown identity backend %q", cfg.Backend)
	}
}

// healthCheck verifies every enabled infrastructure connection.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}
