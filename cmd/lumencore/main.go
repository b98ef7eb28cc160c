// Lumen Core - Smart Lighting Control Panel Backend
//
// This is the main entry point for the Lumen Core application.
// Lumen Core fronts a smart-lighting bridge for wall-panel clients:
//   - Session-based bridge authentication with persisted credentials
//   - Real-time state push over WebSocket (poll, diff, deliver)
//   - Optional MQTT state relay and InfluxDB telemetry
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashgrove/lumen-core/internal/api"
	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/credential"
	"github.com/ashgrove/lumen-core/internal/infrastructure/config"
	"github.com/ashgrove/lumen-core/internal/infrastructure/database"
	"github.com/ashgrove/lumen-core/internal/infrastructure/influxdb"
	"github.com/ashgrove/lumen-core/internal/infrastructure/logging"
	"github.com/ashgrove/lumen-core/internal/infrastructure/mqtt"
	"github.com/ashgrove/lumen-core/internal/push"
	"github.com/ashgrove/lumen-core/internal/relay"
	"github.com/ashgrove/lumen-core/internal/session"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lumen Core",
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Credential store and session registry
	creds := credential.NewSQLiteStore(db.DB)
	sessions := session.NewRegistry(creds, cfg.Session.GetTTL(), cfg.Session.GetSweepInterval())
	sessions.SetLogger(log)
	sessions.Start(ctx)
	defer sessions.Close()
	log.Info("session registry started",
		"ttl", cfg.Session.GetTTL(),
		"sweep_interval", cfg.Session.GetSweepInterval(),
	)

	// Snapshot sources
	client := bridge.NewClient(cfg.Bridge.GetFetchTimeout(), cfg.Bridge.GetRoomsCacheTTL())

	var demo *bridge.DemoSource
	if cfg.Bridge.Demo {
		demo = bridge.NewDemoSource()
		demo.EnableDrift()
		log.Info("demo data source enabled")
	}

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

	// State relay (optional): mirrors bridge state to MQTT/InfluxDB using
	// the stored credential for the configured bridge. Skipped when the
	// bridge has never been paired or no sink is available.
	if stateRelay := buildRelay(ctx, cfg, client, creds, mqttClient, influxClient, log); stateRelay != nil {
		stateRelay.Start(ctx)
		defer stateRelay.Close()
		log.Info("state relay started",
			"bridge", cfg.Bridge.Address,
			"interval", cfg.Bridge.GetPollInterval(),
		)
	}

	// Push service
	var pushSource bridge.SnapshotSource = client
	var demoSource bridge.SnapshotSource
	if demo != nil {
		demoSource = demo
	}
	pushSvc, err := push.New(push.Deps{
		Config:     push.FromConfig(cfg.WebSocket, cfg.Bridge),
		Logger:     log,
		Sessions:   sessions,
		Source:     pushSource,
		DemoSource: demoSource,
	})
	if err != nil {
		return fmt.Errorf("creating push service: %w", err)
	}
	pushSvc.Start(ctx)
	defer pushSvc.Close()
	log.Info("push service started",
		"poll_interval", cfg.Bridge.GetPollInterval(),
		"ping_interval", cfg.WebSocket.GetPingInterval(),
	)

	// API server
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Bridge:   cfg.Bridge,
		Logger:   log,
		Sessions: sessions,
		Client:   client,
		Push:     pushSvc,
		Version:  version,
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

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (drains in-flight requests)
	// 2. Push service (closes all sockets)
	// 3. State relay, InfluxDB, MQTT (if enabled)
	// 4. Session registry
	// 5. Database

	log.Info("Lumen Core stopped")
	return nil
}

// buildRelay assembles the optional state relay. Returns nil when no
// sink is configured or the configured bridge has no stored credential.
func buildRelay(
	ctx context.Context,
	cfg *config.Config,
	client *bridge.Client,
	creds credential.Store,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) *relay.Relay {
	if mqttClient == nil && influxClient == nil {
		return nil
	}
	if cfg.Bridge.Address == "" {
		log.Info("state relay disabled: no bridge address configured")
		return nil
	}

	cred, err := creds.Get(ctx, cfg.Bridge.Address)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			log.Info("state relay disabled: bridge not yet paired", "bridge", cfg.Bridge.Address)
		} else {
			log.Error("state relay disabled: credential lookup failed", "error", err)
		}
		return nil
	}

	deps := relay.Deps{
		Source:        client,
		BridgeAddress: cfg.Bridge.Address,
		Credential:    cred,
		Interval:      cfg.Bridge.GetPollInterval(),
		FetchTimeout:  cfg.Bridge.GetFetchTimeout(),
		QoS:           byte(cfg.MQTT.QoS),
		Logger:        log,
	}
	if mqttClient != nil {
		deps.Publisher = mqttClient
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	return relay.New(deps)
}

// getConfigPath returns the configuration file path.
// Uses LUMEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LUMEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(
	ctx context.Context,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	server *api.Server,
) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
