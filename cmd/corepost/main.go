// CorePost - Device Anti-Theft Backend
//
// This is the main entry point for the CorePost service. CorePost
// guards a per-device disk decryption secret and lets an owner remotely
// place a device into, and recover it from, a panic (stolen) state:
//   - Replay-resistant HMAC request authentication per device
//   - Registration with optional admin approval and hardware binding
//   - Two-phase panic lock/unlock with an approval window
//   - Administrative override for fleet recovery
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/corepost/corepost-core/migrations"

	"github.com/corepost/corepost-core/internal/api"
	"github.com/corepost/corepost-core/internal/audit"
	"github.com/corepost/corepost-core/internal/auth"
	"github.com/corepost/corepost-core/internal/device"
	"github.com/corepost/corepost-core/internal/infrastructure/config"
	"github.com/corepost/corepost-core/internal/infrastructure/database"
	"github.com/corepost/corepost-core/internal/infrastructure/influxdb"
	"github.com/corepost/corepost-core/internal/infrastructure/logging"
	"github.com/corepost/corepost-core/internal/infrastructure/mqtt"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting CorePost",
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

	// Initialise device services
	store := device.NewSQLiteStore(db.DB)
	registry := device.NewRegistry(store, device.RegistrationPolicy{
		NeedApproval:         cfg.Registration.NeedApproval,
		NeedHWID:             cfg.Registration.NeedHWID,
		DefaultUserCanUnlock: cfg.Lock.DefaultUserCanUnlock,
	})
	registry.SetLogger(log)

	panicSvc := device.NewPanicService(store, device.LockPolicy{
		NeedApproval:   cfg.Lock.NeedApproval,
		ApprovalWindow: time.Duration(cfg.Lock.ApprovalTimeSeconds) * time.Second,
	})
	panicSvc.SetLogger(log)
	log.Info("device services initialised",
		"registration_approval", cfg.Registration.NeedApproval,
		"lock_approval", cfg.Lock.NeedApproval,
	)

	// Wire the audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)
	registry.SetAuditRecorder(recorder)
	panicSvc.SetAuditRecorder(recorder)

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

		events := &mqttEventAdapter{client: mqttClient, log: log}
		registry.SetEventPublisher(events)
		panicSvc.SetEventPublisher(events)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
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

		telemetry := &influxTelemetryAdapter{client: influxClient}
		registry.SetTelemetry(telemetry)
		panicSvc.SetTelemetry(telemetry)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.Server,
		Lock:     cfg.Lock,
		Logger:   log,
		Registry: registry,
		Panic:    panicSvc,
		Auth:     auth.NewAuthenticator(store, time.Duration(cfg.Security.HMACWindow)*time.Second),
		Admin:    auth.NewAdminVerifier(cfg.Security.AdminToken),
		Audit:    auditRepo,
		Health:   db.HealthCheck,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("CorePost stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses COREPOST_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COREPOST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
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

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}

// mqttEventAdapter publishes device lifecycle and panic events to the
// MQTT bus, satisfying the device services' event publisher interface.
// Publish failures are logged, not surfaced; the bus is advisory.
type mqttEventAdapter struct {
	client *mqtt.Client
	topics mqtt.Topics
	log    *logging.Logger
}

// DeviceRegistered implements device.EventPublisher.
func (a *mqttEventAdapter) DeviceRegistered(deviceID string) {
	a.publish(a.topics.DeviceEvent(deviceID), map[string]string{
		"event":     "registered",
		"device_id": deviceID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, false)
}

// StateChanged implements device.EventPublisher. The per-device topic
// carries the current state as a retained message so late subscribers
// see it; the fleet-wide panic topic carries the transition event.
func (a *mqttEventAdapter) StateChanged(deviceID string, from, to device.EmergencyState) {
	payload := map[string]string{
		"event":     "state_changed",
		"device_id": deviceID,
		"from":      string(from),
		"to":        string(to),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	a.publish(a.topics.DeviceEvent(deviceID), payload, true)
	a.publish(a.topics.PanicEvent(), payload, false)
}

func (a *mqttEventAdapter) publish(topic string, payload map[string]string, retained bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.log.Error("marshalling event payload", "topic", topic, "error", err)
		return
	}
	if retained {
		err = a.client.PublishRetained(topic, data)
	} else {
		err = a.client.PublishEvent(topic, data)
	}
	if err != nil {
		a.log.Warn("publishing event", "topic", topic, "error", err)
	}
}

// influxTelemetryAdapter forwards check-ins and state transitions to
// InfluxDB, satisfying the device services' telemetry interface.
type influxTelemetryAdapter struct {
	client *influxdb.Client
}

// Heartbeat implements device.Telemetry.
func (a *influxTelemetryAdapter) Heartbeat(deviceID string, state device.EmergencyState, surface string) {
	a.client.WriteHeartbeat(deviceID, string(state), surface)
}

// StateTransition implements device.Telemetry.
func (a *influxTelemetryAdapter) StateTransition(deviceID string, from, to device.EmergencyState) {
	a.client.WriteStateTransition(deviceID, string(from), string(to))
}
