package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/valve-panel/internal/config"
	"github.com/sweeney/valve-panel/internal/gpio"
	"github.com/sweeney/valve-panel/internal/influx"
	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/metrics"
	"github.com/sweeney/valve-panel/internal/mqtt"
	"github.com/sweeney/valve-panel/internal/status"
	"github.com/sweeney/valve-panel/internal/valve"
	"github.com/sweeney/valve-panel/internal/version"
	"github.com/sweeney/valve-panel/internal/web"
)

const shutdownTimeout = 5 * time.Second

// run wires the configured driver, publisher and sinks and serves until ctx
// is canceled.
func run(ctx context.Context, cfg *config.Config) error {
	ctx = logger.WithName(ctx, "valve-panel")
	logger.InfoKV(ctx, "Starting", "version", version.Full(), "driver", cfg.Driver.Type, "valves", len(cfg.Valves))

	driver, err := gpio.Open(cfg.Driver, cfg.Pins())
	if err != nil {
		return fmt.Errorf("init driver: %w", err)
	}
	defer func() {
		// Leaves every relay in the closed position.
		if err := driver.Close(); err != nil {
			logger.ErrorKV(ctx, "Driver close failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, driver, time.Now())
	if err != nil {
		return err
	}

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			TopicPrefix:        cfg.MQTT.TopicPrefix,
			OnConnectionChange: a.tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		topics := pub.Topics()
		logger.InfoKV(ctx, "MQTT publisher ready", "broker", cfg.MQTT.Broker, "events", topics.Events, "system", topics.System)
		a.attachPublisher(pub)
	}

	if cfg.Influx.URL != "" {
		sink, err := influx.New(cfg.Influx)
		if err != nil {
			return fmt.Errorf("init influx: %w", err)
		}
		defer sink.Close()
		a.registry.Subscribe(sink)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	logger.InfoKV(ctx, "HTTP server listening", "listen", ln.Addr().String())

	return a.serve(ctx, ln)
}

// app holds the long-lived components shared by the HTTP server and the
// lifecycle events.
type app struct {
	registry  *valve.Registry
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	server    *web.Server
	publisher mqtt.Publisher
}

func newApp(ctx context.Context, cfg *config.Config, driver valve.Driver, start time.Time) (*app, error) {
	reg, err := valve.New(cfg.Specs(), driver)
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}

	tracker := status.NewTracker(start, status.Config{
		Listen: cfg.Listen,
		Driver: cfg.Driver.Type,
		Broker: cfg.MQTT.Broker,
	}, reg)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	a := &app{registry: reg, tracker: tracker}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.metrics.Observe(reg.StatusAll(ctx))
		reg.Subscribe(a.metrics)
	}
	a.server = web.New(cfg.Listen, reg, tracker, a.metrics)
	return a, nil
}

// attachPublisher sends every valve event to pub and enables lifecycle
// messages.
func (a *app) attachPublisher(pub mqtt.Publisher) {
	a.publisher = pub
	a.registry.Subscribe(mqtt.NewNotifier(pub))
}

// serve publishes STARTUP, serves HTTP on ln and publishes SHUTDOWN once ctx
// is canceled.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	a.publishSystem(ctx, "STARTUP", "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		reason := shutdownReason(ctx)
		logger.InfoKV(ctx, "Shutting down", "reason", reason)
		a.publishSystem(ctx, "SHUTDOWN", reason)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// publishSystem sends a retained lifecycle event carrying the full status
// snapshot. Failures are logged only.
func (a *app) publishSystem(ctx context.Context, event, reason string) {
	if a.publisher == nil {
		return
	}
	if cs, ok := a.publisher.(mqtt.ConnectionStatus); ok {
		a.tracker.SetMQTTConnected(cs.IsConnected())
	}

	snap := a.tracker.Snapshot(ctx)
	err := a.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.ErrorKV(ctx, "Failed to publish system event", "event", event, "error", err)
		return
	}
	logger.InfoKV(ctx, "Published system event", "event", event)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
