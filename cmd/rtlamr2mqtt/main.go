// rtlamr2mqtt reads utility meters with an RTL-SDR dongle and publishes
// their readings to MQTT with Home Assistant discovery.
//
// It supervises rtl_tcp and rtlamr, turns rtlamr's JSON output into
// readings, and announces each meter as a Home Assistant device.
//
// Usage:
//
//	rtlamr2mqtt [config-path]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/rtlamr2mqtt/internal/discovery"
	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/rtlamr2mqtt/internal/metrics"
	"github.com/nerrad567/rtlamr2mqtt/internal/scheduler"
	"github.com/nerrad567/rtlamr2mqtt/internal/supervisor"
	"github.com/nerrad567/rtlamr2mqtt/internal/usbdev"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=2025.6.6"
var version = "2025.6.6"

// Configuration file lookup.
const (
	envConfigPath      = "RTLAMR2MQTT_CONFIG"
	addonOptionsPath   = "/data/options.json"
	defaultConfigPath  = "/etc/rtlamr2mqtt.yaml"
	statusSubscribeQoS = 1
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string) error {
	log := logging.Default(version)

	configPath := getConfigPath(args, fileExists)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting rtlamr2mqtt",
		"version", version,
		"config", configPath,
		"meters", len(cfg.Meters),
		"mock", cfg.General.Mock,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))
	m.SetBrokerConnected(mqttClient.IsConnected())
	mqttClient.SetOnConnect(func() { m.SetBrokerConnected(true) })
	mqttClient.SetOnDisconnect(func(error) { m.SetBrokerConnected(false) })
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", cfg.MQTT.BrokerAddress(),
		"client_id", mqttClient.ClientID(),
	)

	devices := usbdev.New(cfg.General.Mock)
	devices.SetLogger(log.With("component", "usbdev"))

	sup := supervisor.New(cfg, devices, m)
	sup.SetLogger(log.With("component", "supervisor"))
	if sup.Remote() {
		log.Info("using remote rtl_tcp, not starting it locally", "host", cfg.General.RTLTCPHost)
	}

	pub := discovery.New(cfg, mqttClient, version, m)
	pub.SetLogger(log.With("component", "discovery"))

	sched := scheduler.New(cfg, sup, pub, m)
	sched.SetLogger(log.With("component", "scheduler"))

	err = mqttClient.Subscribe(cfg.MQTT.HAStatusTopic, statusSubscribeQoS, func(_ string, payload []byte) error {
		sched.Offer(string(payload))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.MQTT.HAStatusTopic, err)
	}

	if err := pub.Startup(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("announcing meters: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Listen, reg, healthCheck(mqttClient, sched), log.With("component", "metrics"))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("rtlamr2mqtt stopped")
	return nil
}

// healthCheck reports the broker connection first, then the read loop
// and its processes.
func healthCheck(mqttClient *mqtt.Client, sched *scheduler.Scheduler) metrics.HealthFunc {
	return func(ctx context.Context) error {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return err
		}
		return sched.Health()
	}
}

// getConfigPath returns the configuration file path: the first argument,
// then RTLAMR2MQTT_CONFIG, then the add-on options file if it exists,
// then the default path.
func getConfigPath(args []string, exists func(string) bool) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	if exists(addonOptionsPath) {
		return addonOptionsPath
	}
	return defaultConfigPath
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
