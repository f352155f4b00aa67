// go-pdr: pedestrian dead-reckoning daemon
// Fuses accelerometer, compass and step sensors into steps, heading,
// position and a room layout, and serves them over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/teslashibe/go-pdr/internal/config"
	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/health"
	"github.com/teslashibe/go-pdr/internal/protocol"
	"github.com/teslashibe/go-pdr/internal/publish"
	"github.com/teslashibe/go-pdr/internal/sensor"
	"github.com/teslashibe/go-pdr/internal/server"
	"github.com/teslashibe/go-pdr/internal/session"
	"github.com/teslashibe/go-pdr/internal/store"
	"github.com/teslashibe/go-pdr/internal/uplink"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-pdr/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use simulated walk instead of sensors (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-pdr %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	// Override log level if debug flag is set
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *useMock {
		cfg.Sensor.Driver = "mock"
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-pdr",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewChecker(version)

	// Initialize sensor source
	var source sensor.Source
	if cfg.Sensor.Fallback {
		source = sensor.NewSourceWithFallback(cfg.Sensor.SourceConfig(), logger)
	} else {
		source, err = sensor.NewSource(cfg.Sensor.SourceConfig(), logger)
		if err != nil {
			logger.Error("sensor source unavailable", "error", err)
			os.Exit(1)
		}
	}
	defer source.Close()

	logger.Info("sensor source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
		"capabilities", source.Capabilities(),
	)
	checker.Register("sensor", true, func(context.Context) (bool, string) {
		if source.Healthy() {
			return true, source.Name()
		}
		return false, source.Name() + " unhealthy"
	})

	// Create fusion engine
	engine, err := fusion.NewEngine(cfg.Fusion.Params())
	if err != nil {
		logger.Error("invalid fusion parameters", "error", err)
		os.Exit(1)
	}

	// Create session
	sess, err := session.New(source, engine, cfg.Session.SessionConfig(), logger)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	checker.Register("session", true, func(context.Context) (bool, string) {
		stats := sess.Stats()
		if stats.StartError != "" {
			return false, stats.StartError
		}
		return stats.Active, ""
	})

	// Start session in background
	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session error", "error", err)
		}
	}()

	serverOpts := []server.Option{
		server.WithHealth(checker),
		server.WithSettings(cfg),
	}

	// Layout store
	var layouts *store.Store
	if cfg.Store.Enabled {
		layouts, err = openStore(cfg.Store.Path, logger)
		if err != nil {
			logger.Warn("layout store disabled", "error", err)
		} else {
			defer layouts.Close()
			serverOpts = append(serverOpts, server.WithStore(layouts))
			checker.Register("store", false, func(ctx context.Context) (bool, string) {
				if err := layouts.Ping(ctx); err != nil {
					return false, err.Error()
				}
				return true, ""
			})
		}
	}

	// MQTT publisher
	var publisher *publish.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = publish.Connect(publish.Config{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			PublishInterval: cfg.MQTT.PublishInterval,
			ConnectTimeout:  cfg.MQTT.ConnectTimeout,
		}, logger)
		if err != nil {
			logger.Warn("mqtt publishing disabled", "error", err)
		} else {
			go publisher.Run(ctx, sess)
			checker.Register("mqtt", false, func(context.Context) (bool, string) {
				return publisher.Connected(), cfg.MQTT.Broker
			})
		}
	}

	// Collector uplink
	var link *uplink.Client
	if cfg.Uplink.Enabled {
		link = uplink.NewClient(uplink.Config{
			URL:              cfg.Uplink.URL,
			ReconnectBackoff: cfg.Uplink.ReconnectBackoff,
			MaxBackoff:       cfg.Uplink.MaxBackoff,
			PingInterval:     cfg.Uplink.PingInterval,
			WriteTimeout:     cfg.Uplink.WriteTimeout,
			SendInterval:     cfg.Uplink.SendInterval,
		}, logger)
		link.OnReset(sess.Reset)
		link.OnMarkCorner(func() { sess.MarkCorner() })
		link.OnWiFi(func(cmd protocol.WiFiCommand) { sess.ObserveWiFi(cmd.SSID, cmd.Strength) })
		link.OnGetStats(func() interface{} { return sess.Stats() })

		link.Connect(ctx)
		go link.Forward(ctx, sess)
		checker.Register("uplink", false, func(context.Context) (bool, string) {
			return link.IsConnected(), cfg.Uplink.URL
		})
	}

	// Refresh health probes in background
	checker.Refresh(ctx)
	go checker.Run(ctx, 5*time.Second)

	// Create server
	srv := server.New(cfg.Server, sess, logger, version, serverOpts...)

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> outbound links -> session -> source
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	if link != nil {
		link.Close()
	}
	if publisher != nil {
		publisher.Close()
	}

	logger.Info("stopping session...")
	sess.Stop()

	logger.Info("go-pdr stopped")
}

func openStore(path string, logger *slog.Logger) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return store.Open(path, logger)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🧭 go-pdr v" + version)
	fmt.Println("   Pedestrian dead-reckoning daemon")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Printf("   Sensor: %s  Steps: %s  Position: %s\n",
		cfg.Sensor.Driver, cfg.Fusion.StepStrategy, cfg.Fusion.PositionStrategy)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/snapshot        - Latest fusion snapshot")
	fmt.Println("   GET  /api/position        - Position and trail")
	fmt.Println("   GET  /api/heading         - Smoothed heading")
	fmt.Println("   GET  /api/corners         - Room corners")
	fmt.Println("   POST /api/corners/mark    - Mark a corner")
	fmt.Println("   POST /api/reset           - Start a new session")
	fmt.Println("   GET  /api/layout          - Live room layout")
	fmt.Println("   GET  /api/layouts         - Saved layouts")
	fmt.Println("   WS   /api/stream          - Real-time session stream")
	fmt.Println("   GET  /api/stats           - Session statistics")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
