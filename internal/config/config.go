package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultApplicationName is used when ApplicationName is not configured.
const DefaultApplicationName = "Api.Template"

// EnvironmentDevelopment enables the documentation endpoints.
const EnvironmentDevelopment = "Development"

// Config is the typed view of config.yaml plus environment overrides.
type Config struct {
	ApplicationName string            `mapstructure:"applicationname"`
	Environment     string            `mapstructure:"environment"`
	Server          ServerConfig      `mapstructure:"server"`
	Logging         LoggingConfig     `mapstructure:"logging"`
	Compression     CompressionConfig `mapstructure:"compression"`
	RateLimiter     RateLimiterConfig `mapstructure:"rate_limiter"`
	Redis           RedisConfig       `mapstructure:"redis"`
	Tracing         TracingConfig     `mapstructure:"tracing"`
	Metrics         MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	HTTPSPort         int           `mapstructure:"https_port"`
	CertFile          string        `mapstructure:"cert_file"`
	KeyFile           string        `mapstructure:"key_file"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-*
	// headers are honoured.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TLSEnabled reports whether an HTTPS listener should be started.
func (s ServerConfig) TLSEnabled() bool {
	return s.HTTPSPort > 0 && s.CertFile != "" && s.KeyFile != ""
}

// RedirectsToHTTPS reports whether plaintext requests are redirected. That
// needs an HTTPS port plus either a local TLS listener or a trusted proxy
// terminating TLS in front of the service.
func (s ServerConfig) RedirectsToHTTPS() bool {
	return s.HTTPSPort > 0 && (s.TLSEnabled() || len(s.TrustedProxies) > 0)
}

type LoggingConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type CompressionConfig struct {
	EnableForHTTPS bool     `mapstructure:"enable_for_https"`
	MimeTypes      []string `mapstructure:"mime_types"`
	Level          int      `mapstructure:"level"`
}

type RateLimiterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Rate           float64       `mapstructure:"rate"`
	Burst          int           `mapstructure:"burst"`
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TracingConfig struct {
	Exporter string `mapstructure:"exporter"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// IsDevelopment reports whether the service runs in a development-like environment.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvironmentDevelopment)
}

// isTestRun returns true if the current process is a Go test binary.
func isTestRun() bool {
	return flag.Lookup("test.v") != nil || filepath.Ext(os.Args[0]) == ".test"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("applicationname", DefaultApplicationName)
	v.SetDefault("environment", "Production")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.https_port", 0)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.read_header_timeout", "15s")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stdout"})

	v.SetDefault("compression.enable_for_https", true)
	v.SetDefault("compression.mime_types", []string{"application/json", "text/plain", "text/css", "application/javascript"})
	v.SetDefault("compression.level", -1)

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.rate", 50)
	v.SetDefault("rate_limiter.burst", 100)
	v.SetDefault("rate_limiter.cleanup_timeout", "3m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("tracing.exporter", "none")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("applicationname", "APPLICATION_NAME", "APPLICATIONNAME"); err != nil {
		return err
	}
	return v.BindEnv("environment", "APP_ENVIRONMENT", "ENVIRONMENT")
}

// Load reads config.yaml from the project root (and any extra search paths),
// merges config_test.yaml under go test, and applies environment overrides.
func Load(searchPaths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	v.SetConfigType("yaml")
	v.SetConfigName("config")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if root, err := getProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	if err := readConfig(v.ReadInConfig); err != nil {
		return nil, err
	}

	if isTestRun() {
		v.SetConfigName("config_test")
		if err := readConfig(v.MergeInConfig); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = DefaultApplicationName
	}
	return &cfg, nil
}

// readConfig tolerates a missing file but not a malformed one.
func readConfig(read func() error) error {
	err := read()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("reading config file: %w", err)
}

func getProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
