// myq-sync - MyQ cloud device synchronisation for the hub
//
// This is the main entry point for the myq-sync service. It keeps a
// local mirror of MyQ garage door openers and lamp modules, publishes
// their state over MQTT, accepts commands from the hub, and verifies
// door positions against locally paired sensors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/hearthward/myq-sync/migrations"

	"github.com/hearthward/myq-sync/internal/api"
	"github.com/hearthward/myq-sync/internal/bridge"
	"github.com/hearthward/myq-sync/internal/infrastructure/config"
	"github.com/hearthward/myq-sync/internal/infrastructure/database"
	"github.com/hearthward/myq-sync/internal/infrastructure/influxdb"
	"github.com/hearthward/myq-sync/internal/infrastructure/logging"
	"github.com/hearthward/myq-sync/internal/infrastructure/mqtt"
	"github.com/hearthward/myq-sync/internal/myq"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	rollback := flag.Bool("rollback", false, "roll back the most recent database migration and exit")
	flag.Parse()

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *rollback); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, rollback bool) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting myq-sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	if rollback {
		if downErr := db.MigrateDown(ctx); downErr != nil {
			return fmt.Errorf("rolling back migration: %w", downErr)
		}
		log.Info("latest migration rolled back")
		return nil
	}

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise binding registry
	repo := bridge.NewSQLiteRepository(db.DB)
	registry := bridge.NewRegistry(repo)
	registry.SetLogger(log)

	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading binding registry: %w", loadErr)
	}
	log.Info("binding registry initialised", "bindings", len(registry.List()))

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Authenticate against the MyQ cloud and pull the first device
	// snapshot. Invalid credentials are terminal: retrying would lock
	// the vendor account.
	cloud, err := myq.Login(ctx, cfg.MyQ.Username, cfg.MyQ.Password)
	if err != nil {
		if errors.Is(err, myq.ErrInvalidCredentials) {
			return fmt.Errorf("myq login rejected, check username and password: %w", err)
		}
		return fmt.Errorf("logging in to myq: %w", err)
	}
	defer func() {
		log.Info("closing myq client")
		cloud.Close()
	}()
	cloud.SetLogger(log)
	log.Info("myq authenticated",
		"accounts", len(cloud.Accounts()),
		"devices", len(cloud.Devices()),
	)

	// Assemble the sync engine
	source := &cloudSource{api: cloud}
	dispatcher := bridge.NewDispatcher(source, registry)
	dispatcher.SetLogger(log)
	dispatcher.SetRecheckDelay(cfg.GetStatusDelay())
	reconciler := bridge.NewReconciler(registry, mqttClient)
	reconciler.SetLogger(log)

	var recorder bridge.StateRecorder
	if influxClient != nil {
		recorder = influxClient
		dispatcher.SetRecorder(influxClient)
	}

	engine := bridge.NewEngine(source, registry, dispatcher, reconciler, mqttClient, mqttClient, recorder, bridge.EngineOptions{
		StatusInterval: cfg.GetStatusInterval(),
	})
	engine.SetLogger(log)

	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting sync engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping sync engine")
		engine.Stop()
	}()
	log.Info("sync engine started",
		"status_interval", cfg.GetStatusInterval(),
	)

	// Start local API (if enabled)
	if cfg.API.Enabled {
		apiServer, newErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Cloud:      cloud,
			Registry:   registry,
			Dispatcher: dispatcher,
			Engine:     engine,
			DB:         db,
			Version:    version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. Sync engine
	// 3. MyQ client
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("myq-sync stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MYQSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MYQSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// cloudSource adapts the myq client to the sync engine's device source
// interface. The conversion from concrete device maps to interface
// maps happens here so the bridge package stays decoupled from the
// cloud client.
type cloudSource struct {
	api *myq.API
}

// Covers implements bridge.DeviceSource.
func (s *cloudSource) Covers() map[string]bridge.Door {
	covers := s.api.Covers()
	out := make(map[string]bridge.Door, len(covers))
	for serial, door := range covers {
		out[serial] = door
	}
	return out
}

// Lamps implements bridge.DeviceSource.
func (s *cloudSource) Lamps() map[string]bridge.Lamp {
	lamps := s.api.Lamps()
	out := make(map[string]bridge.Lamp, len(lamps))
	for serial, lamp := range lamps {
		out[serial] = lamp
	}
	return out
}

// UpdateDeviceInfoForAccount implements bridge.DeviceSource.
func (s *cloudSource) UpdateDeviceInfoForAccount(ctx context.Context, accountID string) error {
	return s.api.UpdateDeviceInfoForAccount(ctx, accountID)
}

// UpdateDeviceInfo implements bridge.EngineSource.
func (s *cloudSource) UpdateDeviceInfo(ctx context.Context) error {
	return s.api.UpdateDeviceInfo(ctx)
}
