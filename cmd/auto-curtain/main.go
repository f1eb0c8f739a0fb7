package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wakky-alcedo/auto-curtain/internal/binding"
	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/device"
	"github.com/wakky-alcedo/auto-curtain/internal/gpio"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
	"github.com/wakky-alcedo/auto-curtain/internal/store"
	"github.com/wakky-alcedo/auto-curtain/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// EndpointConfig describes one switchable endpoint and the pin pair it
// is bound to. Initial is the first-boot state: on for lights and plugin
// units, open for curtains.
type EndpointConfig struct {
	Type       string `yaml:"type"` // "light", "plugin_unit", "curtain"
	Name       string `yaml:"name"`
	InputPin   int    `yaml:"input_pin"`
	OutputPin  int    `yaml:"output_pin"`
	Pull       string `yaml:"pull"`   // "none", "up", "down"
	Invert     bool   `yaml:"invert"` // active-low button
	DebounceMs int    `yaml:"debounce_ms"`
	Initial    bool   `yaml:"initial"`
}

type Config struct {
	Node struct {
		VendorName   string `yaml:"vendor_name"`
		VendorID     uint16 `yaml:"vendor_id"`
		ProductName  string `yaml:"product_name"`
		ProductID    uint16 `yaml:"product_id"`
		SerialNumber string `yaml:"serial_number"`
		Label        string `yaml:"label"`
	} `yaml:"node"`
	GPIO struct {
		Backend string `yaml:"backend"` // "rpio", "serial", "memory"
		Port    string `yaml:"port"`
		Baud    int    `yaml:"baud"`
	} `yaml:"gpio"`
	Endpoints      []EndpointConfig `yaml:"endpoints"`
	PollIntervalMs int              `yaml:"poll_interval_ms"`
	Web            struct {
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
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telegram struct {
		BotToken string   `yaml:"bot_token"`
		ChatIDs  []string `yaml:"chat_ids"`
	} `yaml:"telegram"`
	Exec struct {
		Allowlist []string `yaml:"allowlist"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"exec"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("endpoints must list at least one endpoint")
	}
	used := make(map[int]int) // pin -> endpoint index
	for i, ep := range c.Endpoints {
		switch ep.Type {
		case "light", "plugin_unit", "curtain":
		default:
			return fmt.Errorf("endpoints[%d]: unknown type %q (supported: light, plugin_unit, curtain)", i, ep.Type)
		}
		if _, err := gpio.ParsePull(ep.Pull); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if ep.InputPin == ep.OutputPin {
			return fmt.Errorf("endpoints[%d]: input_pin and output_pin are both %d", i, ep.InputPin)
		}
		for _, pin := range [2]int{ep.InputPin, ep.OutputPin} {
			if j, taken := used[pin]; taken {
				return fmt.Errorf("endpoints[%d]: pin %d already used by endpoints[%d]", i, pin, j)
			}
			used[pin] = i
		}
	}
	switch c.GPIO.Backend {
	case "rpio", "serial", "memory":
	default:
		return fmt.Errorf("gpio.backend must be rpio, serial or memory, got %q", c.GPIO.Backend)
	}
	if c.GPIO.Backend == "serial" && c.GPIO.Port == "" {
		return fmt.Errorf("gpio.port is required for the serial backend")
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
	logger.Info("auto-curtain starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Commissioning identity survives config edits once generated.
	identity, err := loadIdentity(db, cfg)
	if err != nil {
		logger.Error("load identity", "err", err)
		os.Exit(1)
	}

	registry := datamodel.NewRegistry(logger)

	n, err := node.NewNode(node.Config{
		VendorName:      cfg.Node.VendorName,
		VendorID:        identity.VendorID,
		ProductName:     cfg.Node.ProductName,
		ProductID:       identity.ProductID,
		SerialNumber:    identity.SerialNumber,
		NodeLabel:       cfg.Node.Label,
		SoftwareVersion: version,
	}, registry, db, logger)
	if err != nil {
		logger.Error("create node", "err", err)
		os.Exit(1)
	}

	// Create GPIO backend based on config
	chip, err := createChip(cfg, logger)
	if err != nil {
		logger.Error("create gpio backend", "err", err)
		os.Exit(1)
	}
	defer chip.Close()

	bindings := binding.NewRegistry(logger)
	if err := buildEndpoints(n, chip, bindings, cfg, logger); err != nil {
		logger.Error("build endpoints", "err", err)
		os.Exit(1)
	}
	logger.Info("endpoints ready", "count", len(cfg.Endpoints))

	events := device.NewEventBus(logger)
	dev := device.New(n, bindings, registry, chip, db, events, device.Config{
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
	}, logger)
	dev.Start()

	// Replay persisted attribute state through the write path so outputs
	// come up where they were left.
	if err := n.RestoreAttributes(db); err != nil {
		logger.Error("restore attributes", "err", err)
	}

	payload := node.SetupPayload{
		VendorID:      identity.VendorID,
		ProductID:     identity.ProductID,
		Discriminator: identity.Discriminator,
		Passcode:      identity.Passcode,
		DiscoveryCaps: node.DiscoveryOnNetwork,
	}
	logger.Info("onboarding ready",
		"manual_code", payload.ManualPairingCode(),
		"qr_payload", payload.QRCodePayload(),
		"qr_url", payload.QRCodeURL())

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(dev, cfg, logger)

	// Start web server
	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithOnboarding(payload),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(dev, logger, webOpts...)

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

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(dev, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	auto.Stop()
	dev.Stop()

	logger.Info("goodbye")
}

// loadIdentity returns the persisted commissioning identity, generating
// and saving one on first boot.
func loadIdentity(db store.Store, cfg *Config) (*store.Identity, error) {
	id, err := db.GetIdentity()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	payload, err := node.GenerateSetupPayload(cfg.Node.VendorID, cfg.Node.ProductID)
	if err != nil {
		return nil, err
	}
	serial := cfg.Node.SerialNumber
	if serial == "" {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("generate serial: %w", err)
		}
		serial = fmt.Sprintf("AC-%X", buf[:])
	}
	id = &store.Identity{
		VendorID:      payload.VendorID,
		ProductID:     payload.ProductID,
		Discriminator: payload.Discriminator,
		Passcode:      payload.Passcode,
		SerialNumber:  serial,
	}
	if err := db.SaveIdentity(id); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return id, nil
}

func createChip(cfg *Config, logger *slog.Logger) (gpio.Chip, error) {
	switch cfg.GPIO.Backend {
	case "rpio":
		logger.Info("using on-board GPIO (BCM)")
		return gpio.NewRPiChip()
	case "serial":
		logger.Info("using serial GPIO expander", "port", cfg.GPIO.Port, "baud", cfg.GPIO.Baud)
		return gpio.NewSerialChip(cfg.GPIO.Port, cfg.GPIO.Baud, logger)
	case "memory":
		logger.Info("using in-memory GPIO (dry run)")
		return gpio.NewMemoryChip(), nil
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q (supported: rpio, serial, memory)", cfg.GPIO.Backend)
	}
}

// buildEndpoints creates the node endpoints from config, opens their pin
// pairs and registers a binding per endpoint. A duplicate bound address
// is fatal here rather than a surprise later.
func buildEndpoints(n *node.Node, chip gpio.Chip, bindings *binding.Registry, cfg *Config, logger *slog.Logger) error {
	for i, epCfg := range cfg.Endpoints {
		addr, err := addEndpoint(n, epCfg)
		if err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}

		pull, err := gpio.ParsePull(epCfg.Pull)
		if err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		in, err := chip.OpenInput(epCfg.InputPin, gpio.InputConfig{Pull: pull, Invert: epCfg.Invert})
		if err != nil {
			return fmt.Errorf("endpoints[%d]: open input pin: %w", i, err)
		}
		// The output pin comes up matching the endpoint's initial state.
		out, err := chip.OpenOutput(epCfg.OutputPin, gpio.OutputConfig{Initial: epCfg.Initial})
		if err != nil {
			return fmt.Errorf("endpoints[%d]: open output pin: %w", i, err)
		}

		kind := binding.KindBoolean
		if epCfg.Type == "curtain" {
			kind = binding.KindMultiValue
		}
		b, err := binding.New(binding.Config{
			Address:    addr,
			Kind:       kind,
			Input:      in,
			Output:     out,
			Debounce:   time.Duration(epCfg.DebounceMs) * time.Millisecond,
			Attributes: n,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if err := bindings.Register(b); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
	}
	return nil
}

// addEndpoint creates the node endpoint for one config entry and returns
// the attribute address its binding couples to.
func addEndpoint(n *node.Node, cfg EndpointConfig) (datamodel.Address, error) {
	switch cfg.Type {
	case "light":
		ep, err := n.NewOnOffLight(node.OnOffLightConfig{Name: cfg.Name, OnOff: cfg.Initial})
		if err != nil {
			return datamodel.Address{}, err
		}
		return datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterOnOff, Attribute: datamodel.AttrOnOff}, nil
	case "plugin_unit":
		ep, err := n.NewOnOffPluginUnit(node.OnOffPluginUnitConfig{Name: cfg.Name, OnOff: cfg.Initial})
		if err != nil {
			return datamodel.Address{}, err
		}
		return datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterOnOff, Attribute: datamodel.AttrOnOff}, nil
	case "curtain":
		ep, err := n.NewWindowCovering(node.WindowCoveringConfig{Name: cfg.Name})
		if err != nil {
			return datamodel.Address{}, err
		}
		addr := datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterWindowCovering, Attribute: datamodel.AttrOperationalStatus}
		if cfg.Initial {
			// No subscribers are attached yet, so this behaves like a seed.
			if err := n.WriteAttribute(addr, uint8(1)); err != nil {
				return datamodel.Address{}, err
			}
		}
		return addr, nil
	default:
		return datamodel.Address{}, fmt.Errorf("unknown endpoint type %q", cfg.Type)
	}
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
	if cfg.Node.VendorName == "" {
		cfg.Node.VendorName = "auto-curtain"
	}
	if cfg.Node.VendorID == 0 {
		cfg.Node.VendorID = 0xFFF1
	}
	if cfg.Node.ProductName == "" {
		cfg.Node.ProductName = "Auto Curtain"
	}
	if cfg.Node.ProductID == 0 {
		cfg.Node.ProductID = 0x8000
	}
	if cfg.GPIO.Backend == "" {
		cfg.GPIO.Backend = "rpio"
	}
	if cfg.GPIO.Baud == 0 {
		cfg.GPIO.Baud = 115200
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = 20
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "auto-curtain.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "auto-curtain"
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
