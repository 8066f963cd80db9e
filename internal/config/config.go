package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	FDMS      FDMSConfig      `yaml:"fdms"`
	Audit     AuditConfig     `yaml:"audit"`
	Poller    PollerConfig    `yaml:"poller"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type CORSConfig struct {
	// AllowedOrigins is comma separated.
	AllowedOrigins string `yaml:"allowed_origins"`
}

// Origins splits AllowedOrigins.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type FDMSConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type AuditConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
	Timeout  time.Duration `yaml:"timeout"`
}

type PollerConfig struct {
	// Interval 0 disables background status polling.
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            int           `yaml:"qos"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	// BatchSize and FlushInterval tune the non-blocking writer.
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and FISCUS_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		DB: DBConfig{
			Host:     "localhost",
			Port:     "5432",
			Name:     "fiscus",
			User:     "fiscus",
			Password: "fiscus",
			SSLMode:  "disable",
		},
		Auth: AuthConfig{
			JWTSecret: "change-me-in-production",
			JWTExpiry: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Path: "/data/certificates",
		},
		CORS: CORSConfig{
			AllowedOrigins: "http://localhost:3000",
		},
		RateLimit: RateLimitConfig{
			RPS:   30,
			Burst: 60,
		},
		FDMS: FDMSConfig{
			BaseURL:     "http://localhost:9000",
			CallTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Attempts: 3,
			Backoff:  100 * time.Millisecond,
			Timeout:  5 * time.Second,
		},
		Poller: PollerConfig{
			Interval:    0,
			Concurrency: 4,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "fiscus",
			QoS:            1,
			TopicPrefix:    "fiscus",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "fiscus",
			Bucket:        "fdms",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv overrides cfg with FISCUS_* variables.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"FISCUS_HOST":              &cfg.Server.Host,
		"FISCUS_PORT":              &cfg.Server.Port,
		"FISCUS_DB_HOST":           &cfg.DB.Host,
		"FISCUS_DB_PORT":           &cfg.DB.Port,
		"FISCUS_DB_NAME":           &cfg.DB.Name,
		"FISCUS_DB_USER":           &cfg.DB.User,
		"FISCUS_DB_PASSWORD":       &cfg.DB.Password,
		"FISCUS_DB_SSLMODE":        &cfg.DB.SSLMode,
		"FISCUS_JWT_SECRET":        &cfg.Auth.JWTSecret,
		"FISCUS_STORAGE_PATH":      &cfg.Storage.Path,
		"FISCUS_CORS_ORIGINS":      &cfg.CORS.AllowedOrigins,
		"FISCUS_FDMS_BASE_URL":     &cfg.FDMS.BaseURL,
		"FISCUS_FDMS_API_KEY":      &cfg.FDMS.APIKey,
		"FISCUS_MQTT_BROKER":       &cfg.MQTT.Broker,
		"FISCUS_MQTT_CLIENT_ID":    &cfg.MQTT.ClientID,
		"FISCUS_MQTT_USERNAME":     &cfg.MQTT.Username,
		"FISCUS_MQTT_PASSWORD":     &cfg.MQTT.Password,
		"FISCUS_MQTT_TOPIC_PREFIX": &cfg.MQTT.TopicPrefix,
		"FISCUS_INFLUXDB_URL":      &cfg.InfluxDB.URL,
		"FISCUS_INFLUXDB_TOKEN":    &cfg.InfluxDB.Token,
		"FISCUS_INFLUXDB_ORG":      &cfg.InfluxDB.Org,
		"FISCUS_INFLUXDB_BUCKET":   &cfg.InfluxDB.Bucket,
		"FISCUS_LOG_LEVEL":         &cfg.Log.Level,
		"FISCUS_LOG_FORMAT":        &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FISCUS_JWT_EXPIRY":        &cfg.Auth.JWTExpiry,
		"FISCUS_FDMS_CALL_TIMEOUT": &cfg.FDMS.CallTimeout,
		"FISCUS_AUDIT_BACKOFF":     &cfg.Audit.Backoff,
		"FISCUS_AUDIT_TIMEOUT":     &cfg.Audit.Timeout,
		"FISCUS_POLL_INTERVAL":     &cfg.Poller.Interval,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"FISCUS_AUDIT_ATTEMPTS":   &cfg.Audit.Attempts,
		"FISCUS_POLL_CONCURRENCY": &cfg.Poller.Concurrency,
		"FISCUS_RATE_LIMIT_BURST": &cfg.RateLimit.Burst,
		"FISCUS_MQTT_QOS":         &cfg.MQTT.QoS,
		"FISCUS_INFLUXDB_BATCH":   &cfg.InfluxDB.BatchSize,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("FISCUS_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FISCUS_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = f
	}

	bools := map[string]*bool{
		"FISCUS_MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"FISCUS_INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.FDMS.BaseURL != "", "fdms.base_url is required")
	check(c.FDMS.CallTimeout > 0, "fdms.call_timeout must be positive")
	check(c.Audit.Attempts > 0, "audit.attempts must be positive")
	check(c.Audit.Backoff >= 0, "audit.backoff must not be negative")
	check(c.Audit.Timeout > 0, "audit.timeout must be positive")
	check(c.Poller.Interval >= 0, "poller.interval must not be negative")
	check(c.Poller.Concurrency > 0, "poller.concurrency must be positive")
	check(c.RateLimit.RPS > 0, "rate_limit.rps must be positive")
	check(c.RateLimit.Burst > 0, "rate_limit.burst must be positive")
	check(c.Auth.JWTSecret != "", "auth.jwt_secret is required")
	check(c.Storage.Path != "", "storage.path is required")

	if c.MQTT.Enabled {
		check(c.MQTT.Broker != "", "mqtt.broker is required when mqtt is enabled")
		check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
		check(c.MQTT.PublishTimeout > 0, "mqtt.publish_timeout must be positive")
	}
	if c.InfluxDB.Enabled {
		check(c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
		check(c.InfluxDB.Bucket != "", "influxdb.bucket is required when influxdb is enabled")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
