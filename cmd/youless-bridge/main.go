package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/limwakra/youless-bridge/internal/discovery"
	"github.com/limwakra/youless-bridge/internal/meter"
	"github.com/limwakra/youless-bridge/internal/metrics"
	"github.com/limwakra/youless-bridge/internal/mqtt"
	"github.com/limwakra/youless-bridge/internal/store"
	"github.com/limwakra/youless-bridge/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Meters []meter.Config `yaml:"meters"`
	Web    struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Discovery struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"discovery"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	seen := make(map[string]bool, len(c.Meters))
	for i, m := range c.Meters {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("meters[%d]: %w", i, err)
		}
		if seen[m.Name] {
			return fmt.Errorf("meters[%d]: duplicate meter name %q", i, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("youless-bridge starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	registry := metrics.NewRegistry()

	events := meter.NewEventBus(logger)
	manager := meter.NewManager(db, events, cfg.MQTT.TopicPrefix, logger)

	// Stored meters first, then the config file on top: a meter named in
	// config.yaml always wins over what a previous run persisted.
	if err := manager.Load(); err != nil {
		logger.Error("load stored meters", "err", err)
		os.Exit(1)
	}
	for _, m := range cfg.Meters {
		if _, err := manager.Deploy(m); err != nil {
			logger.Error("deploy configured meter", "meter", m.Name, "err", err)
			os.Exit(1)
		}
	}

	var scanOpts []discovery.ScannerOption
	if cfg.Discovery.Concurrency > 0 {
		scanOpts = append(scanOpts, discovery.WithConcurrency(cfg.Discovery.Concurrency))
	}
	scanner := discovery.NewScanner(logger, scanOpts...)

	// Start web server
	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithMetrics(registry),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}

	webServer := web.NewServer(manager, scanner, db, events, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge when configured.
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge, err = mqtt.NewBridge(manager, events, mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			logger.Error("connect mqtt", "err", err)
			os.Exit(1)
		}
		bridge.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	manager.StopAll()
	if bridge != nil {
		bridge.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "youless-bridge.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "youless"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
