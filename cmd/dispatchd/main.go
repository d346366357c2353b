// dispatchd is the FieldGrid dispatch hub daemon.
//
// It terminates client and device WebSocket connections, routes commands
// to field devices through per-device FIFO queues, fans device
// notifications and deduplicated telemetry out to subscribed clients, and
// mirrors presence onto the MQTT broker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/fieldgrid/dispatch-core/migrations"

	"github.com/fieldgrid/dispatch-core/internal/activity"
	"github.com/fieldgrid/dispatch-core/internal/api"
	"github.com/fieldgrid/dispatch-core/internal/broadcast"
	"github.com/fieldgrid/dispatch-core/internal/dispatch"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/config"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/database"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/influxdb"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/logging"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/mqtt"
	"github.com/fieldgrid/dispatch-core/internal/registry"
	"github.com/fieldgrid/dispatch-core/internal/telemetry"
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

// activityWriteTimeout bounds each presence/command activity insert.
const activityWriteTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting dispatch hub",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and migrate
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	activityRepo := activity.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
	} else {
		log.Info("MQTT disabled")
	}

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

	// Assemble the dispatch core
	connRegistry := registry.New()
	connRegistry.SetLogger(log)

	hub := api.NewHub(cfg.WebSocket, connRegistry, log)

	broadcaster := broadcast.New(connRegistry, hub)
	broadcaster.SetLogger(log)

	coordinator := dispatch.NewCoordinator(cfg.Dispatch.QueueCapacity)
	coordinator.SetLogger(log)

	dedup := telemetry.NewDeduplicator(broadcaster, cfg.Dispatch.WatermarkWindowDuration())
	dedup.SetLogger(log)

	// Presence fan-out: activity log, retained broker topic, event store.
	coordinator.OnStatusChange(presenceObserver(log, activityRepo, mqttClient, influxClient))

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Registry:    connRegistry,
		Coordinator: coordinator,
		Broadcaster: broadcaster,
		Dedup:       dedup,
		Hub:         hub,
		Influx:      influxClient,
		MQTT:        mqttClient,
		Activity:    activityRepo,
		Version:     version,
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
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// presenceObserver returns a dispatch.StatusFunc that records device
// presence transitions. The observer is invoked synchronously from the
// coordinator, so the slow sinks run on their own goroutine.
func presenceObserver(
	log *logging.Logger,
	repo activity.Repository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
) dispatch.StatusFunc {
	return func(deviceID, addr string) {
		online := addr != ""
		go func() {
			kind := activity.KindDeviceOnline
			event := "online"
			if !online {
				kind = activity.KindDeviceOffline
				event = "offline"
			}

			ctx, cancel := context.WithTimeout(context.Background(), activityWriteTimeout)
			defer cancel()

			entry := &activity.Entry{Kind: kind, DeviceID: deviceID}
			if online {
				entry.Details = map[string]any{"addr": addr}
			}
			if err := repo.Record(ctx, entry); err != nil {
				log.Warn("presence activity record failed", "device_id", deviceID, "error", err)
			}

			if mqttClient != nil {
				payload, err := json.Marshal(map[string]any{
					"device_id": deviceID,
					"status":    event,
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				if err == nil {
					topic := mqtt.Topics{}.DevicePresence(deviceID)
					if err := mqttClient.PublishRetained(topic, payload); err != nil {
						log.Warn("presence publish failed", "device_id", deviceID, "error", err)
					}
				}
			}

			if influxClient != nil {
				influxClient.WriteDeviceEvent(deviceID, event)
			}
		}()
	}
}

// getConfigPath returns the configuration file path.
// Uses the DISPATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DISPATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
