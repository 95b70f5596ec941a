// myStrom Bridge - local-network smart plug integration for Gray Logic
//
// This is the main entry point for the myStrom bridge. It polls myStrom
// plugs over their local HTTP API, exposes each plug as a switch and
// sensor entities, and serves those entities over:
//   - MQTT (retained states, command topics, bridge health)
//   - a REST API with WebSocket state push
//
// Configuration is read from configs/config.yaml (or MYSTROM_CONFIG).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nerrad567/gray-logic-mystrom/internal/api"
	"github.com/nerrad567/gray-logic-mystrom/internal/audit"
	"github.com/nerrad567/gray-logic-mystrom/internal/bridges/mystrom"
	"github.com/nerrad567/gray-logic-mystrom/internal/device"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/httpclient"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mystrom/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default(version)
	logStartup(log)

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

	// Open database
	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Entry and entity registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entry registry: %w", refreshErr)
	}
	stats := registry.GetStats()
	log.Info("entry registry initialised", "entries", stats.Entries, "entities", stats.Entities)

	// One pooled HTTP client shared by every device
	httpClient := httpclient.New(httpclient.WithUserAgent("gray-logic-mystrom/" + version))
	defer httpclient.CloseIdle(httpClient)

	manager := mystrom.NewManager(mystrom.ManagerOptions{
		HTTPClient:   httpClient,
		ScanInterval: cfg.MyStrom.ScanInterval,
		Timeout:      cfg.MyStrom.Timeout,
		Store:        &registryStore{registry: registry},
		Logger:       log,
	})
	defer func() {
		log.Info("unloading devices")
		manager.Close()
	}()

	commands := mystrom.NewCommands(registry, manager, log)

	// Configured and previously added devices. Unreachable ones are
	// retried in the background until shutdown.
	setupCtx, stopSetup := context.WithCancel(ctx)
	var retries sync.WaitGroup
	defer func() {
		stopSetup()
		retries.Wait()
	}()
	devices := knownDevices(cfg.MyStrom.Devices, registry.ListEntries())
	setupDevices(setupCtx, manager, devices, cfg.MyStrom.ScanInterval, &retries, log)

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mystrom.HealthTopic())
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, bridgeErr := mystrom.NewBridge(mystrom.BridgeOptions{
			MQTTClient:     mqttClient,
			Manager:        manager,
			Commands:       commands,
			Version:        version,
			HealthInterval: cfg.MyStrom.HealthInterval,
			Logger:         log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()

		// Retained states are republished after a broker reconnect.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			bridge.PublishAll()
		})
	} else {
		log.Info("MQTT disabled")
	}

	// REST API and WebSocket (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Manager:  manager,
			Commands: commands,
			Registry: registry,
			DB:       db,
			Audit:    audit.NewSQLiteRepository(db.DB),
			Version:  version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, MQTT bridge, MQTT, setup retries, devices, HTTP client, database.

	log.Info("myStrom bridge stopped")
	return nil
}

// logStartup writes the startup line. version is already a default
// field of every logger.
func logStartup(log *logging.Logger) {
	log.Info("starting myStrom bridge",
		"commit", commit,
		"build_date", date,
	)
}

// getConfigPath returns the configuration file path.
// Uses MYSTROM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MYSTROM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections. mqttClient may be nil
// when MQTT is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// registryStore adapts *device.Registry to mystrom.EntryStore so entry
// and entity ids survive restarts.
type registryStore struct {
	registry *device.Registry
}

func (s *registryStore) SaveEntry(ctx context.Context, rec mystrom.EntryRecord) (string, error) {
	return s.registry.SaveEntry(ctx, device.Entry{
		ID:         rec.ID,
		UniqueID:   rec.UniqueID,
		Host:       rec.Host,
		Name:       rec.Name,
		MAC:        rec.MAC,
		DeviceType: string(rec.DeviceType),
	})
}

func (s *registryStore) RegisterEntity(ctx context.Context, rec mystrom.EntityRecord) (string, error) {
	return s.registry.RegisterEntity(ctx, device.Entity{
		UniqueID: rec.UniqueID,
		EntryID:  rec.EntryID,
		Platform: string(rec.Platform),
		Name:     rec.SuggestedName,
	})
}

func (s *registryStore) DeleteEntry(ctx context.Context, id string) error {
	return s.registry.DeleteEntry(ctx, id)
}
