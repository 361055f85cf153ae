package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// Config holds all configuration for the tracking service
type Config struct {
	Server        ServerConfig                `yaml:"server"`
	Tracker       TrackerConfig               `yaml:"tracker"`
	Connections   map[string]ConnectionConfig `yaml:"connections"`
	Content       ContentConfig               `yaml:"content"`
	AWS           AWSConfig                   `yaml:"aws"`
	Redis         RedisConfig                 `yaml:"redis"`
	Events        EventsConfig                `yaml:"events"`
	Notifications NotificationsConfig         `yaml:"notifications"`
	RateLimit     RateLimitConfig             `yaml:"rate_limit"`
	Log           LogConfig                   `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// BaseURL is the public origin embedded in rewritten messages.
	BaseURL string `yaml:"base_url"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// TrackerConfig holds message tracking behaviour
type TrackerConfig struct {
	Enabled              bool   `yaml:"enabled"`
	TrackLinks           bool   `yaml:"track_links"`
	InjectPixel          bool   `yaml:"inject_pixel"`
	OptOutHeader         string `yaml:"opt_out_header"`
	HashHeader           string `yaml:"hash_header"`
	TransportIDHeader    string `yaml:"transport_id_header"`
	ExpireDays           int    `yaml:"expire_days"`
	SNSTopic             string `yaml:"sns_topic"`
	ConfirmSubscriptions bool   `yaml:"confirm_subscriptions"`
	LogContent           bool   `yaml:"log_content"`
	ContentStrategy      string `yaml:"content_strategy"`
	Connection           string `yaml:"connection"`
	BeaconTimeoutMs      int    `yaml:"beacon_timeout_ms"`
}

// ConnectionConfig selects a storage backend.
type ConnectionConfig struct {
	// Driver is one of postgres, pgx, dynamodb or memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// ContentConfig holds the S3 location used by the s3 content strategy
type ContentConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// AWSConfig holds shared AWS credentials settings
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventsConfig lists the event sinks; every non-empty entry adds one.
type EventsConfig struct {
	SQSQueueURL  string `yaml:"sqs_queue_url"`
	RedisChannel string `yaml:"redis_channel"`
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
}

// NotificationsConfig holds the optional SQS queue subscribed to the SES
// notification topic.
type NotificationsConfig struct {
	SQSQueueURL string `yaml:"sqs_queue_url"`
}

// RateLimitConfig holds limiter rates such as "300-M". Empty disables.
type RateLimitConfig struct {
	Redirect string `yaml:"redirect"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// RedactEnabled reports whether PII redaction is on (default true).
func (c LogConfig) RedactEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// BeaconTimeout returns the open-recording deadline.
func (c TrackerConfig) BeaconTimeout() time.Duration {
	return time.Duration(c.BeaconTimeoutMs) * time.Millisecond
}

// Service converts the tracker section into the service configuration.
func (c *Config) Service() mailtracker.Config {
	t := c.Tracker
	return mailtracker.Config{
		Enabled:              t.Enabled,
		TrackLinks:           t.TrackLinks,
		InjectPixel:          t.InjectPixel,
		BaseURL:              c.Server.BaseURL,
		OptOutHeader:         t.OptOutHeader,
		HashHeader:           t.HashHeader,
		TransportIDHeader:    t.TransportIDHeader,
		ExpireDays:           t.ExpireDays,
		LogContent:           t.LogContent,
		AllowedTopics:        mailtracker.ParseTopics(t.SNSTopic),
		ConfirmSubscriptions: t.ConfirmSubscriptions,
		BeaconTimeout:        t.BeaconTimeout(),
	}
}

// Connection returns the connection named by tracker.connection.
func (c *Config) Connection() (ConnectionConfig, error) {
	conn, ok := c.Connections[c.Tracker.Connection]
	if !ok {
		names := make([]string, 0, len(c.Connections))
		for name := range c.Connections {
			names = append(names, name)
		}
		sort.Strings(names)
		return ConnectionConfig{}, fmt.Errorf("connection %q is not configured (have %v)", c.Tracker.Connection, names)
	}
	return conn, nil
}

// defaults returns the values that hold when a key is absent. Booleans
// must be set before unmarshalling since false is a valid setting.
func defaults() Config {
	svc := mailtracker.DefaultConfig()
	return Config{
		Tracker: TrackerConfig{
			Enabled:              svc.Enabled,
			TrackLinks:           svc.TrackLinks,
			InjectPixel:          svc.InjectPixel,
			ConfirmSubscriptions: svc.ConfirmSubscriptions,
			LogContent:           svc.LogContent,
		},
	}
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Set defaults
	svc := mailtracker.DefaultConfig()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8081
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Tracker.OptOutHeader == "" {
		cfg.Tracker.OptOutHeader = svc.OptOutHeader
	}
	if cfg.Tracker.HashHeader == "" {
		cfg.Tracker.HashHeader = svc.HashHeader
	}
	if cfg.Tracker.TransportIDHeader == "" {
		cfg.Tracker.TransportIDHeader = svc.TransportIDHeader
	}
	if cfg.Tracker.ContentStrategy == "" {
		cfg.Tracker.ContentStrategy = "database"
	}
	if cfg.Tracker.Connection == "" {
		cfg.Tracker.Connection = "default"
	}
	if cfg.Tracker.BeaconTimeoutMs == 0 {
		cfg.Tracker.BeaconTimeoutMs = int(svc.BeaconTimeout / time.Millisecond)
	}
	if cfg.Connections == nil {
		cfg.Connections = map[string]ConnectionConfig{}
	}
	for name, conn := range cfg.Connections {
		if conn.Driver == "" {
			conn.Driver = "postgres"
		}
		if conn.Table == "" && conn.Driver == "dynamodb" {
			conn.Table = "mail_tracker"
		}
		cfg.Connections[name] = conn
	}
	if cfg.Content.Prefix == "" {
		cfg.Content.Prefix = "sent-emails"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if err := cfg.Service().Validate(); err != nil {
		return nil, fmt.Errorf("server.base_url: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if baseURL := os.Getenv("TRACKER_BASE_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if name := os.Getenv("TRACKER_CONNECTION"); name != "" {
		cfg.Tracker.Connection = name
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		conn, ok := cfg.Connections[cfg.Tracker.Connection]
		if !ok {
			conn.Driver = "postgres"
		}
		conn.DSN = dsn
		cfg.Connections[cfg.Tracker.Connection] = conn
	}
	if days := os.Getenv("TRACKER_EXPIRE_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid TRACKER_EXPIRE_DAYS %q: %w", days, err)
		}
		cfg.Tracker.ExpireDays = d
	}
	if topic := os.Getenv("TRACKER_SNS_TOPIC"); topic != "" {
		cfg.Tracker.SNSTopic = topic
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if q := os.Getenv("SQS_EVENTS_QUEUE_URL"); q != "" {
		cfg.Events.SQSQueueURL = q
	}
	if q := os.Getenv("SQS_NOTIFICATIONS_QUEUE_URL"); q != "" {
		cfg.Notifications.SQSQueueURL = q
	}
	if u := os.Getenv("AMQP_URL"); u != "" {
		cfg.Events.AMQPURL = u
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWS.Region = region
	}
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		cfg.AWS.Profile = profile
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Service().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
