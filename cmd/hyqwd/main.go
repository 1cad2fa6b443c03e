// hyqwd - HYQW cloud adapter daemon
//
// This is the main entry point for the adapter. It mirrors a HYQW smart-home
// site into a local differential state cache and exposes it over a REST API
// and WebSocket, with two interchangeable state pipelines:
//   - polling: adaptive-cadence sweeps of the cloud state endpoint
//   - bus: push delivery over the cloud MQTT broker, with fallback sweeps
//
// Commands are serialized through a throttling bus so the cloud never sees
// concurrent controls for the same device.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hyqw-adapter/core/migrations"

	"github.com/hyqw-adapter/core/internal/actionbus"
	"github.com/hyqw-adapter/core/internal/api"
	"github.com/hyqw-adapter/core/internal/cloudapi"
	"github.com/hyqw-adapter/core/internal/device"
	"github.com/hyqw-adapter/core/internal/gateway"
	"github.com/hyqw-adapter/core/internal/history"
	"github.com/hyqw-adapter/core/internal/infrastructure/config"
	"github.com/hyqw-adapter/core/internal/infrastructure/database"
	"github.com/hyqw-adapter/core/internal/infrastructure/influxdb"
	"github.com/hyqw-adapter/core/internal/infrastructure/logging"
	"github.com/hyqw-adapter/core/internal/infrastructure/mqtt"
	"github.com/hyqw-adapter/core/internal/polling"
	"github.com/hyqw-adapter/core/internal/replay"
	"github.com/hyqw-adapter/core/internal/router"
	"github.com/hyqw-adapter/core/internal/statecache"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
	log.Info("starting hyqwd",
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

	// Open database and run migrations
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device registry from the configured site inventory
	registry := device.NewRegistry()
	registry.SetLogger(log.With("component", "registry"))
	registry.Load(siteDevices(cfg.Adapter.Devices))
	log.Info("device registry initialised", "devices", registry.Count())

	// Differential state mirror
	cache := statecache.New()
	cache.SetLogger(log.With("component", "statecache"))

	// Cloud REST client
	cloud := cloudapi.New(cloudapi.Config{
		BaseURL:     cfg.Cloud.BaseURL,
		Token:       cfg.Cloud.Token,
		ProjectCode: cfg.Adapter.ProjectCode,
		DeviceSN:    cfg.Adapter.DeviceSN,
		Timeout:     time.Duration(cfg.Cloud.Timeout) * time.Second,
	})
	cloud.SetLogger(log.With("component", "cloudapi"))

	var historyRec *history.Recorder
	if influxClient != nil {
		historyRec = history.NewRecorder(influxClient, cache)
	}

	// apiServer is assigned below. The state pipelines start only after
	// the server is up, so their goroutines never observe a partially
	// assigned value here.
	var apiServer *api.Server

	notify := func(source router.Source, changes *statecache.ChangeSet) {
		if changes == nil || !changes.HasChanges {
			return
		}
		// Track devices first seen in state traffic.
		for _, si := range changes.NewDevices {
			if states, ok := cache.DeviceState(si); ok {
				for _, state := range states {
					registry.Observe(si, state.ST)
					break
				}
			}
		}
		if apiServer != nil && apiServer.Hub() != nil {
			apiServer.Hub().BroadcastStateChanges(string(source), changes)
		}
		if historyRec != nil {
			historyRec.RecordChanges(string(source), changes)
		}
	}

	// Poll scheduler; its query routes results through the sync router so
	// mode gating applies uniformly.
	var syncRouter *router.Router
	poller := polling.New(polling.Config{
		LongInterval:  time.Duration(cfg.Polling.LongInterval) * time.Second,
		ShortInterval: time.Duration(cfg.Polling.ShortInterval) * time.Second,
		BurstDuration: time.Duration(cfg.Polling.BurstDuration) * time.Second,
	}, func(qctx context.Context) error {
		entries, fetchErr := cloud.FetchStates(qctx)
		if fetchErr != nil {
			return fetchErr
		}
		syncRouter.HandlePollStates(entries)
		return nil
	})
	poller.SetLogger(log.With("component", "polling"))

	syncRouter = router.New(router.Config{
		FallbackInterval: time.Duration(cfg.Sync.FallbackInterval) * time.Second,
		OptimisticEcho:   cfg.Sync.OptimisticEcho,
	}, cache, poller, cloud.FetchStates, notify)
	syncRouter.SetLogger(log.With("component", "router"))

	// Command throttling bus
	bus := actionbus.New(actionbus.Config{
		PreControlDelay: time.Duration(cfg.Control.PreControlDelay) * time.Millisecond,
	}, func(cctx context.Context, action actionbus.Action) error {
		ok, ctrlErr := cloud.ControlDevice(cctx, action.ST, action.SI, action.FN, action.FV)
		if ctrlErr != nil {
			return ctrlErr
		}
		if !ok {
			return errors.New("cloud rejected control")
		}
		return nil
	}, syncRouter, func(si, fn, fv int) {
		notify(router.SourceEcho, cache.ForceUpdate(si, fn, fv))
	})
	bus.SetLogger(log.With("component", "actionbus"))

	// Broker session for push delivery
	topics := mqtt.Topics{ProjectCode: cfg.Adapter.ProjectCode, DeviceSN: cfg.Adapter.DeviceSN}
	broker := mqtt.NewClient(cfg.MQTT)
	broker.SetLogger(log.With("component", "mqtt"))

	gw := gateway.New(gateway.Config{
		Topics: topics,
		QoS:    byte(cfg.MQTT.QoS),
	}, broker, cloud.FetchStates, syncRouter.EnqueuePush)
	gw.SetLogger(log.With("component", "gateway"))
	// Command record/replay (optional). The downstream tap is subscribed
	// from the gateway's on-up callback because the broker client rejects
	// subscriptions while disconnected.
	var recorder *replay.Recorder
	var replayRepo replay.Repository
	if cfg.Replay.Enabled {
		repo := replay.NewSQLiteRepository(db.DB)
		replayRepo = repo
		recorder = replay.NewRecorder(repo, gw, topics.CommandDown(),
			time.Duration(cfg.Replay.CaptureTimeout)*time.Second)
		recorder.SetLogger(log.With("component", "replay"))
		log.Info("command replay enabled", "topic", topics.CommandDown())
	} else {
		log.Info("command replay disabled")
	}

	gw.SetOnUp(func() {
		syncRouter.UseBusMode(ctx)
		if recorder != nil {
			qos := byte(cfg.MQTT.QoS)
			if subErr := broker.Subscribe(topics.CommandDown(), qos, func(topic string, payload []byte) error {
				return recorder.HandleDownstream(topic, payload, qos)
			}); subErr != nil {
				log.Warn("downstream command subscription failed", "error", subErr)
			}
		}
		if apiServer != nil && apiServer.Hub() != nil {
			apiServer.Hub().BroadcastModeChange(string(router.ModeBus))
			apiServer.Hub().BroadcastSessionEvent("connected")
		}
		if historyRec != nil {
			historyRec.RecordSessionEvent("connected")
			historyRec.RecordModeSwitch(string(router.ModeBus))
		}
	})
	gw.SetOnDown(func(err error) {
		syncRouter.UsePollingMode()
		if apiServer != nil && apiServer.Hub() != nil {
			apiServer.Hub().BroadcastModeChange(string(router.ModePolling))
			apiServer.Hub().BroadcastSessionEvent("disconnected")
		}
		if historyRec != nil {
			historyRec.RecordSessionEvent("disconnected")
			historyRec.RecordModeSwitch(string(router.ModePolling))
		}
	})

	// HTTP API and WebSocket server. Started before the state pipelines
	// so the pipeline goroutines see a fully assigned apiServer.
	apiServer, err = api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Registry:   registry,
		Cache:      cache,
		Sync:       syncRouter,
		Bus:        bus,
		Gateway:    gw,
		Recorder:   recorder,
		ReplayRepo: replayRepo,
		Version:    version,
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

	syncRouter.Start(ctx)
	defer syncRouter.Stop()

	bus.Start(ctx)
	defer bus.Stop()

	if cfg.MQTT.StartupEnable {
		if startErr := gw.Start(ctx); startErr != nil {
			// Polling mode carries the site until the broker comes back.
			log.Warn("broker connect failed, staying in polling mode", "error", startErr)
		}
		defer gw.Stop()
	} else {
		log.Info("bus mode disabled at startup, polling only")
	}

	if err := healthCheck(ctx, db, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// gateway (if started), bus, router, API server, InfluxDB, database.

	log.Info("hyqwd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HYQW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HYQW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// siteDevices converts the configured inventory to registry entries.
func siteDevices(configured []config.DeviceConfig) []device.Device {
	devices := make([]device.Device, 0, len(configured))
	for _, d := range configured {
		devices = append(devices, device.Device{
			SI:     d.SI,
			ST:     d.ST,
			TypeID: d.TypeID,
			Name:   d.Name,
			Room:   d.Room,
		})
	}
	return devices
}

// healthCheck verifies infrastructure components are responsive.
// The broker is deliberately excluded: a down broker is a normal state
// the adapter rides out in polling mode.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
