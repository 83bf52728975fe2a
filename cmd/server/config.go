package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quentinrf/aquaflow/internal/adapters/redis"
	"github.com/quentinrf/aquaflow/internal/usage"
)

// Config holds application configuration
type Config struct {
	HTTPPort string `yaml:"http_port"`
	GRPCPort string `yaml:"grpc_port"`

	StoreType     string `yaml:"store_type"` // "memory" | "sqlite" | "redis"
	DBPath        string `yaml:"db_path"`    // used when StoreType=sqlite
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	CounterResetPolicy string `yaml:"counter_reset_policy"` // "ignore" | "restart"

	Simulator         bool          `yaml:"simulator"`
	SimulatorInterval time.Duration `yaml:"simulator_interval"`
	SimulatorLeak     int           `yaml:"simulator_leak"` // pulses lost on sensor 2

	ActionRate     float64  `yaml:"action_rate"` // pump/reset requests per second per client
	ActionBurst    int      `yaml:"action_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TrustProxyHeaders keys the action limiter on X-Forwarded-For /
	// X-Real-IP instead of the peer address
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	TLSCert string `yaml:"tls_cert"` // path to this service's certificate
	TLSKey  string `yaml:"tls_key"`  // path to this service's private key
	TLSCA   string `yaml:"tls_ca"`   // path to the CA certificate; enables mTLS

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "console" | "json"
}

func defaultConfig() Config {
	return Config{
		HTTPPort:           "8080",
		GRPCPort:           "50051",
		StoreType:          "memory",
		DBPath:             "./aquaflow.db",
		RedisAddr:          "localhost:6379",
		RedisPrefix:        redis.DefaultPrefix,
		CounterResetPolicy: "ignore",
		SimulatorInterval:  time.Second,
		ActionRate:         2,
		ActionBurst:        5,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// loadConfig starts from defaults, applies the YAML file named by
// CONFIG_FILE and then the environment
func loadConfig(getenv func(string) string) (Config, error) {
	config := defaultConfig()

	if path := getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env := envReader{getenv: getenv}
	env.str("HTTP_PORT", &config.HTTPPort)
	env.str("GRPC_PORT", &config.GRPCPort)
	env.str("STORE_TYPE", &config.StoreType)
	env.str("DB_PATH", &config.DBPath)
	env.str("REDIS_ADDR", &config.RedisAddr)
	env.str("REDIS_PASSWORD", &config.RedisPassword)
	env.integer("REDIS_DB", &config.RedisDB)
	env.str("REDIS_PREFIX", &config.RedisPrefix)
	env.str("COUNTER_RESET_POLICY", &config.CounterResetPolicy)
	env.boolean("SIMULATOR", &config.Simulator)
	env.duration("SIMULATOR_INTERVAL", &config.SimulatorInterval)
	env.integer("SIMULATOR_LEAK", &config.SimulatorLeak)
	env.float("ACTION_RATE", &config.ActionRate)
	env.integer("ACTION_BURST", &config.ActionBurst)
	env.list("ALLOWED_ORIGINS", &config.AllowedOrigins)
	env.boolean("TRUST_PROXY_HEADERS", &config.TrustProxyHeaders)
	env.str("TLS_CERT", &config.TLSCert)
	env.str("TLS_KEY", &config.TLSKey)
	env.str("TLS_CA", &config.TLSCA)
	env.str("LOG_LEVEL", &config.LogLevel)
	env.str("LOG_FORMAT", &config.LogFormat)

	if env.err != nil {
		return Config{}, env.err
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.StoreType {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.StoreType)
	}
	if _, err := usage.PolicyByName(c.CounterResetPolicy); err != nil {
		return err
	}
	if c.SimulatorInterval <= 0 {
		return fmt.Errorf("SIMULATOR_INTERVAL must be positive, got %s", c.SimulatorInterval)
	}
	if c.ActionRate <= 0 || c.ActionBurst <= 0 {
		return fmt.Errorf("ACTION_RATE and ACTION_BURST must be positive")
	}
	if c.TLSCert != "" && c.TLSKey == "" {
		return fmt.Errorf("TLS_CERT is set but TLS_KEY is not")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// envReader applies set variables and keeps the first parse error
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != "" && e.err == nil
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.err = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.err = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.err = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.err = fmt.Errorf("invalid %s: %w", key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}
