package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hallgate/edinbridge/internal/bridge"
	"github.com/hallgate/edinbridge/internal/history"
	"github.com/hallgate/edinbridge/internal/infrastructure/config"
	"github.com/hallgate/edinbridge/internal/infrastructure/database"
	"github.com/hallgate/edinbridge/internal/infrastructure/influxdb"
	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
	"github.com/hallgate/edinbridge/internal/infrastructure/mqtt"
	"github.com/hallgate/edinbridge/internal/npu"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "edinbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	checkOnly := flag.Bool("check", false, "test gateway connectivity and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("edinbridge starting", "gateway", cfg.Gateway.Host)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := npu.NewSession(npu.Config{
		Host:                 cfg.Gateway.Host,
		TCPPort:              cfg.Gateway.TCPPort,
		UseSceneProxy:        cfg.Gateway.UseSceneProxy,
		PulseTime:            cfg.Gateway.GetPulseTime(),
		KeepAliveInterval:    cfg.Gateway.GetKeepAliveInterval(),
		KeepAliveTimeout:     cfg.Gateway.GetKeepAliveTimeout(),
		KeepAliveGrace:       cfg.Gateway.GetKeepAliveGrace(),
		KeepAliveMaxFailures: cfg.Gateway.KeepAlive.MaxFailures,
		ReconnectDelay:       cfg.Gateway.GetInitialReconnectDelay(),
		MaxReconnectDelay:    cfg.Gateway.GetMaxReconnectDelay(),
		SystemInfoInterval:   cfg.Gateway.GetSystemInfoInterval(),
	}, log)

	if *checkOnly {
		if err := session.TestConnection(ctx); err != nil {
			return err
		}
		log.Info("gateway reachable", "host", cfg.Gateway.Host)
		return nil
	}

	// Optional SQLite history.
	var store *history.Store
	if cfg.History.Enabled {
		db, err := database.Open(database.Options{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout * 1000,
		})
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer db.Close()

		store, err = history.New(db, log)
		if err != nil {
			return fmt.Errorf("init history store: %w", err)
		}
		log.Info("history enabled", "path", cfg.History.Path, "retention_days", cfg.History.RetentionDays)

		go pruneLoop(ctx, store, cfg.History.GetRetention(), log)
	}

	// Optional InfluxDB telemetry.
	var telemetry bridge.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB, log)
		if err != nil {
			return fmt.Errorf("connect influxdb: %w", err)
		}
		defer influx.Close()
		telemetry = influx
		log.Info("influxdb telemetry enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// MQTT with the bridge health topic as LWT.
	will := &mqtt.Will{
		Topic:   bridge.HealthTopic(cfg.MQTT.TopicPrefix, cfg.Gateway.Host),
		Payload: bridge.OfflinePayload(cfg.Gateway.Host),
		QoS:     byte(cfg.MQTT.QoS),
		Retain:  true,
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer mqttClient.Close()
	mqttClient.SetLogger(log)
	log.Info("mqtt connected", "broker", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port)

	br := bridge.New(session, mqttClient, cfg.MQTT.TopicPrefix, cfg.Gateway.Host,
		byte(cfg.MQTT.QoS), log, bridge.Options{
			History:   store,
			Telemetry: telemetry,
		})

	if err := session.Start(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := br.Start(); err != nil {
		session.Stop()
		return fmt.Errorf("start bridge: %w", err)
	}

	log.Info("edinbridge running")
	<-ctx.Done()

	log.Info("shutting down")
	br.Stop()
	session.Stop()
	return nil
}

// pruneLoop trims the history tables once a day.
func pruneLoop(ctx context.Context, store *history.Store, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.Prune(ctx, retention); err != nil {
				log.Warn("history prune failed", "error", err)
			}
		}
	}
}
