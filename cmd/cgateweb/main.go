// cgateweb bridges a Clipsal C-Gate TCP server to an MQTT broker, publishing
// C-Bus lighting and automation state and accepting commands, with optional
// Home Assistant MQTT discovery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cgateweb/cgateweb/internal/cgate"
	"github.com/cgateweb/cgateweb/internal/infrastructure/config"
	"github.com/cgateweb/cgateweb/internal/infrastructure/logging"
	"github.com/cgateweb/cgateweb/internal/infrastructure/mqtt"
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

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting cgateweb",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "managed", config.DetectManaged())

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
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

	orchestrator := cgate.NewOrchestrator(buildOrchestratorConfig(cfg), mqttClient, log)
	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		orchestrator.Stop()
	}()

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	metrics := orchestrator.Metrics()
	log.Info("final bridge metrics",
		"state", metrics.State,
		"events_processed", metrics.EventsProcessed,
		"commands_sent", metrics.CommandsSent,
		"publishes_sent", metrics.PublishesSent,
		"pool_healthy", metrics.Pool.Healthy,
		"pool_total", metrics.Pool.Total,
	)

	log.Info("cgateweb stopped")
	return nil
}

// getConfigPath returns the configuration file path, using the CGATEWEB_CONFIG
// environment variable if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("CGATEWEB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildOrchestratorConfig translates the loaded YAML configuration into the
// cgate package's OrchestratorConfig, including the reverse lookup from
// discovery.app_ids (appID -> component name) to the explicit per-component
// app-ID fields cgate.DiscoveryConfig expects.
func buildOrchestratorConfig(cfg *config.Config) cgate.OrchestratorConfig {
	reconnectInitial, reconnectMax := cfg.ReconnectBounds()

	return cgate.OrchestratorConfig{
		Project: cfg.CGate.Project,

		EventHost:             cfg.CGate.Host,
		EventPort:             cfg.CGate.EventPort,
		EventReconnectInitial: reconnectInitial,
		EventReconnectMax:     reconnectMax,

		Pool: cgate.PoolConfig{
			Host:                  cfg.CGate.Host,
			Port:                  cfg.CGate.CommandPort,
			Project:               cfg.CGate.Project,
			User:                  cfg.CGate.User,
			Password:              cfg.CGate.Password,
			Size:                  cfg.Pool.Size,
			HealthCheckInterval:   cfg.HealthCheckInterval(),
			KeepAliveInterval:     cfg.KeepAliveInterval(),
			ReconnectInitialDelay: reconnectInitial,
			ReconnectMaxDelay:     reconnectMax,
			MaxRetries:            cfg.Pool.MaxRetries,
		},

		MessageInterval: cfg.MessageInterval(),
		RetainReads:     cfg.Bridge.RetainReads,
		PirAppID:        appIDFor(cfg.Discovery.AppIDs, "binary_sensor"),

		GetAllNetApp:  cfg.Bridge.GetAllNetApp,
		GetAllOnStart: cfg.Bridge.GetAllOnStart,
		GetAllPeriod:  cfg.GetAllPeriod(),

		DiscoveryEnabled:  cfg.Discovery.Enabled,
		DiscoveryNetworks: cfg.Discovery.Networks,
		Discovery: cgate.DiscoveryConfig{
			Prefix:      cfg.Discovery.Prefix,
			CoverAppID:  appIDFor(cfg.Discovery.AppIDs, "cover"),
			SwitchAppID: appIDFor(cfg.Discovery.AppIDs, "switch"),
			RelayAppID:  appIDFor(cfg.Discovery.AppIDs, "relay"),
			PirAppID:    appIDFor(cfg.Discovery.AppIDs, "binary_sensor"),
			SWVersion:   version,
		},
	}
}

// appIDFor reverse-looks-up the application ID configured for a Home
// Assistant component name. discovery.app_ids is authored as
// appID -> component (e.g. "56": "light") because that is how a C-Bus
// installer thinks about their own network; cgate.DiscoveryConfig wants the
// opposite direction internally.
func appIDFor(appIDs map[string]string, component string) string {
	for appID, name := range appIDs {
		if name == component {
			return appID
		}
	}
	return ""
}
