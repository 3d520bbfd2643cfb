package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hamzalsheikh/howl/pkg/discovery"
	"github.com/hamzalsheikh/howl/pkg/registry"
)

// Config holds the agent's runtime settings.
type Config struct {
	ServiceName      registry.ServiceName
	Host             string
	GRPCPort         string
	StatusAddr       string
	RequiredServices []registry.ServiceName
	Metadata         map[string]string

	RegistryAddr   string
	Insecure       bool
	ConnectTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration
	HeartbeatPolicy   discovery.FailurePolicy
	MaxRetries        int

	Environment  string
	LogDir       string
	CollectorURL string
}

// DefaultConfig returns the settings used when nothing else is given.
func DefaultConfig() Config {
	return Config{
		ServiceName:       "agent",
		Host:              "localhost",
		GRPCPort:          "2000",
		StatusAddr:        ":2001",
		RegistryAddr:      "localhost:3000",
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatPolicy:   discovery.FailStop,
		MaxRetries:        5,
		Environment:       "development",
		LogDir:            "logs",
	}
}

type fileConfig struct {
	ServiceName       string            `toml:"service_name"`
	Host              string            `toml:"host"`
	GRPCPort          string            `toml:"grpc_port"`
	StatusAddr        string            `toml:"status_addr"`
	RequiredServices  []string          `toml:"required_services"`
	Metadata          map[string]string `toml:"metadata"`
	RegistryAddr      string            `toml:"registry_addr"`
	Insecure          bool              `toml:"insecure"`
	ConnectTimeout    string            `toml:"connect_timeout"`
	HeartbeatInterval string            `toml:"heartbeat_interval"`
	HeartbeatJitter   string            `toml:"heartbeat_jitter"`
	HeartbeatPolicy   string            `toml:"heartbeat_policy"`
	MaxRetries        int               `toml:"heartbeat_max_retries"`
	Environment       string            `toml:"environment"`
	LogDir            string            `toml:"log_dir"`
	CollectorURL      string            `toml:"collector_url"`
}

// LoadConfig overlays the TOML file at path (skipped when path is empty) and
// then the environment on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("service_name") {
		c.ServiceName = registry.ServiceName(strings.TrimSpace(raw.ServiceName))
	}
	if meta.IsDefined("host") {
		c.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("grpc_port") {
		c.GRPCPort = strings.TrimSpace(raw.GRPCPort)
	}
	if meta.IsDefined("status_addr") {
		c.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("required_services") {
		c.RequiredServices = c.RequiredServices[:0]
		for _, s := range raw.RequiredServices {
			c.RequiredServices = append(c.RequiredServices, registry.ServiceName(strings.TrimSpace(s)))
		}
	}
	if meta.IsDefined("metadata") {
		c.Metadata = raw.Metadata
	}
	if meta.IsDefined("registry_addr") {
		c.RegistryAddr = strings.TrimSpace(raw.RegistryAddr)
	}
	if meta.IsDefined("insecure") {
		c.Insecure = raw.Insecure
	}
	if meta.IsDefined("connect_timeout") {
		if c.ConnectTimeout, err = parseDuration("connect_timeout", raw.ConnectTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("heartbeat_interval") {
		if c.HeartbeatInterval, err = parseDuration("heartbeat_interval", raw.HeartbeatInterval); err != nil {
			return err
		}
	}
	if meta.IsDefined("heartbeat_jitter") {
		if c.HeartbeatJitter, err = parseDuration("heartbeat_jitter", raw.HeartbeatJitter); err != nil {
			return err
		}
	}
	if meta.IsDefined("heartbeat_policy") {
		if c.HeartbeatPolicy, err = discovery.ParseFailurePolicy(raw.HeartbeatPolicy); err != nil {
			return fmt.Errorf("load config: heartbeat_policy: %w", err)
		}
	}
	if meta.IsDefined("heartbeat_max_retries") {
		c.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("environment") {
		c.Environment = strings.TrimSpace(raw.Environment)
	}
	if meta.IsDefined("log_dir") {
		c.LogDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("collector_url") {
		c.CollectorURL = strings.TrimSpace(raw.CollectorURL)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var err error
	if v, ok := lookupEnv("SERVICE_NAME"); ok {
		c.ServiceName = registry.ServiceName(v)
	}
	if v, ok := lookupEnv("HOST"); ok {
		c.Host = v
	}
	if v, ok := lookupEnv("SERVICE_PORT_GRPC"); ok {
		c.GRPCPort = v
	}
	if v, ok := lookupEnv("STATUS_ADDR"); ok {
		c.StatusAddr = v
	}
	if v, ok := lookupEnv("REGISTRY_ADDR"); ok {
		c.RegistryAddr = v
	}
	// any non-empty value turns insecure mode on
	if _, ok := lookupEnv("INSECURE_MODE"); ok {
		c.Insecure = true
	}
	if v, ok := lookupEnv("CONNECT_TIMEOUT"); ok {
		if c.ConnectTimeout, err = parseDuration("CONNECT_TIMEOUT", v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("HEARTBEAT_INTERVAL"); ok {
		if c.HeartbeatInterval, err = parseDuration("HEARTBEAT_INTERVAL", v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("HEARTBEAT_JITTER"); ok {
		if c.HeartbeatJitter, err = parseDuration("HEARTBEAT_JITTER", v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnv("HEARTBEAT_POLICY"); ok {
		if c.HeartbeatPolicy, err = discovery.ParseFailurePolicy(v); err != nil {
			return fmt.Errorf("load config: HEARTBEAT_POLICY: %w", err)
		}
	}
	if v, ok := lookupEnv("HEARTBEAT_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("load config: HEARTBEAT_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	if v, ok := lookupEnv("GO_ENV"); ok {
		c.Environment = v
	}
	if v, ok := lookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.CollectorURL = v
	}
	return nil
}

// Validate reports the first setting the agent cannot run with.
func (c Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("config: service_name is required")
	case c.RegistryAddr == "":
		return fmt.Errorf("config: registry_addr is required")
	case c.GRPCPort == "":
		return fmt.Errorf("config: grpc_port is required")
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("config: heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	case c.HeartbeatJitter < 0:
		return fmt.Errorf("config: heartbeat_jitter must not be negative, got %s", c.HeartbeatJitter)
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("config: connect_timeout must be positive, got %s", c.ConnectTimeout)
	case c.MaxRetries < 0:
		return fmt.Errorf("config: heartbeat_max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("load config: %s: %w", key, err)
	}
	return d, nil
}
