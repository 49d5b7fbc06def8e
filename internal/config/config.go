package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Submitter backends accepted by ORDER_SUBMITTER.
const (
	SubmitterLog     = "log"
	SubmitterWebhook = "webhook"
	SubmitterQueue   = "queue"
	SubmitterAsynq   = "asynq"
	SubmitterKafka   = "kafka"
)

// Rate limit strategies accepted by RATE_LIMIT_STRATEGY.
const (
	RateLimitFixed   = "fixed"
	RateLimitSliding = "sliding"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv       string
	Version      string
	Port         string
	RedisURL     string
	MenuFile     string
	CurrencyCode string

	SessionIdleTTL time.Duration
	SessionMax     int

	OrderSubmitters     []string
	OrderWebhookURL     string
	OrderWebhookSecret  string
	OrderWebhookTimeout time.Duration
	KafkaBrokers        []string
	KafkaOrderTopic     string
	KafkaConsumerGroup  string

	QueuePrefix            string
	QueueConcurrency       int
	QueueMaxAttempts       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	IdempotencyTTL        time.Duration
	RateLimitSubmitPerMin int
	RateLimitStrategy     string
	CORSAllowedOrigins    []string
	BodyLimitBytes        int64

	CircuitMinRequests  int
	CircuitFailureRate  float64
	CircuitOpenFor      time.Duration
	RetryBase           time.Duration
	RetryMaxAttempts    int
	RetryJitterPercent  float64
	OutboundTimeout     time.Duration
	ShutdownGracePeriod time.Duration

	Obs Observability
}

// Observability groups the OBS_* switches.
type Observability struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnablePrometheus bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:       valueOrDefault(k.String("APP_ENV"), "development"),
		Version:      valueOrDefault(k.String("APP_VERSION"), "dev"),
		Port:         valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:     strings.TrimSpace(k.String("REDIS_URL")),
		MenuFile:     strings.TrimSpace(k.String("MENU_FILE")),
		CurrencyCode: strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),

		SessionIdleTTL: parseDuration(k.String("SESSION_IDLE_TTL"), "30m"),
		SessionMax:     parseInt(k.String("SESSION_MAX"), 10000),

		OrderSubmitters:     splitAndTrim(strings.ToLower(valueOrDefault(k.String("ORDER_SUBMITTER"), SubmitterLog))),
		OrderWebhookURL:     strings.TrimSpace(k.String("ORDER_WEBHOOK_URL")),
		OrderWebhookSecret:  k.String("ORDER_WEBHOOK_SECRET"),
		OrderWebhookTimeout: parseDuration(k.String("ORDER_WEBHOOK_TIMEOUT"), "5s"),
		KafkaBrokers:        splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaOrderTopic:     valueOrDefault(k.String("KAFKA_ORDER_TOPIC"), "fuua.orders"),
		KafkaConsumerGroup:  valueOrDefault(k.String("KAFKA_CONSUMER_GROUP"), "fuua-kitchen"),

		QueuePrefix:            valueOrDefault(k.String("QUEUE_PREFIX"), "fuua"),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 5),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "2s"),
		QueueBackoffJitter:     parseFloat(k.String("QUEUE_BACKOFF_JITTER"), 0.2),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "100ms"),

		IdempotencyTTL:        parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitSubmitPerMin: parseInt(k.String("RATE_LIMIT_SUBMIT_PER_MIN"), 10),
		RateLimitStrategy:     strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), RateLimitFixed)),
		CORSAllowedOrigins:    splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:        int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64*1024)),

		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate:  parseFloat(k.String("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent:  parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		OutboundTimeout:     parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		ShutdownGracePeriod: parseDuration(k.String("SHUTDOWN_GRACE_PERIOD"), "10s"),

		Obs: Observability{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "fuua"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	needsRedis := false
	for _, name := range c.OrderSubmitters {
		switch name {
		case SubmitterLog:
		case SubmitterWebhook:
			if c.OrderWebhookURL == "" {
				errs = append(errs, errors.New("ORDER_WEBHOOK_URL is required for the webhook submitter"))
			} else if u, err := url.Parse(c.OrderWebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("ORDER_WEBHOOK_URL is not an absolute url: %q", c.OrderWebhookURL))
			}
		case SubmitterQueue, SubmitterAsynq:
			needsRedis = true
		case SubmitterKafka:
			if len(c.KafkaBrokers) == 0 {
				errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka submitter"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown ORDER_SUBMITTER %q", name))
		}
	}
	if needsRedis && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for queue submitters"))
	}
	switch c.RateLimitStrategy {
	case RateLimitFixed:
	case RateLimitSliding:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the sliding rate limiter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_STRATEGY %q", c.RateLimitStrategy))
	}
	if c.SessionMax <= 0 {
		errs = append(errs, errors.New("SESSION_MAX must be positive"))
	}
	if c.CurrencyCode != "USD" {
		errs = append(errs, fmt.Errorf("CURRENCY_CODE %q not supported: prices are dollars", c.CurrencyCode))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// UsesSubmitter reports whether the named backend is configured.
func (c *Config) UsesSubmitter(name string) bool {
	for _, s := range c.OrderSubmitters {
		if s == name {
			return true
		}
	}
	return false
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
