package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	maxDebounce      = 2 * time.Second
	maxWidgetRetries = 10
	// locateReplySlack is the headroom a /locate reply needs after the
	// locate budget runs out.
	locateReplySlack = 2 * time.Second
)

// Storage and event backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsNATS  = "nats"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	CatalogPath string
	CatalogURL  string

	StorageBackend string
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
	PGDSN          string
	RunMigrations  bool

	EventsBackend string
	KafkaBrokers  []string
	KafkaTopic    string
	NATSURL       string
	NATSSubject   string

	IPGeoURL           string
	IPGeoTimeout       time.Duration
	LocateStageTimeout time.Duration

	ListDebounce   time.Duration
	MarkerDebounce time.Duration

	WidgetRetries      int
	WidgetInitialDelay time.Duration
	WidgetPollInterval time.Duration
	WidgetPollCeiling  time.Duration

	SessionTTL           time.Duration
	SessionEvictInterval time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         90 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		CatalogPath:          "data/items.json",
		StorageBackend:       BackendMemory,
		RedisKeyPrefix:       "radar",
		EventsBackend:        EventsNone,
		KafkaTopic:           "activity-events",
		NATSSubject:          "radar.events",
		IPGeoURL:             "https://ipapi.co/json/",
		IPGeoTimeout:         5 * time.Second,
		LocateStageTimeout:   30 * time.Second,
		ListDebounce:         150 * time.Millisecond,
		MarkerDebounce:       120 * time.Millisecond,
		WidgetRetries:        5,
		WidgetInitialDelay:   100 * time.Millisecond,
		WidgetPollInterval:   500 * time.Millisecond,
		WidgetPollCeiling:    10 * time.Second,
		SessionTTL:           2 * time.Hour,
		SessionEvictInterval: 5 * time.Minute,
		LogLevel:             "info",
	}
}

// LoadDotEnv pre-loads variables from the given files (".env" when none
// are given). Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.CatalogPath, "CATALOG_PATH")
	cfg.CatalogURL = strings.TrimSpace(os.Getenv("CATALOG_URL"))

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)

	if v := os.Getenv("EVENTS_BACKEND"); v != "" {
		cfg.EventsBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	cfg.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	setStringFromEnv(&cfg.NATSSubject, "NATS_SUBJECT")

	setStringFromEnv(&cfg.IPGeoURL, "IPGEO_URL")
	setDurationFromEnv(&cfg.IPGeoTimeout, "IPGEO_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.LocateStageTimeout, "LOCATE_STAGE_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.ListDebounce, "LIST_DEBOUNCE", &errs)
	setDurationFromEnv(&cfg.MarkerDebounce, "MARKER_DEBOUNCE", &errs)

	setIntFromEnv(&cfg.WidgetRetries, "WIDGET_RETRIES", &errs)
	setDurationFromEnv(&cfg.WidgetInitialDelay, "WIDGET_INITIAL_DELAY", &errs)
	setDurationFromEnv(&cfg.WidgetPollInterval, "WIDGET_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.WidgetPollCeiling, "WIDGET_POLL_CEILING", &errs)

	setDurationFromEnv(&cfg.SessionTTL, "SESSION_TTL", &errs)
	setDurationFromEnv(&cfg.SessionEvictInterval, "SESSION_EVICT_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.ListDebounce < 0 || c.ListDebounce > maxDebounce {
		errs = append(errs, fmt.Errorf("LIST_DEBOUNCE must be within [0, %s]", maxDebounce))
	}
	if c.MarkerDebounce < 0 || c.MarkerDebounce > maxDebounce {
		errs = append(errs, fmt.Errorf("MARKER_DEBOUNCE must be within [0, %s]", maxDebounce))
	}
	if c.CatalogPath == "" && c.CatalogURL == "" {
		errs = append(errs, errors.New("one of CATALOG_PATH or CATALOG_URL is required"))
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis storage backend"))
		}
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	switch c.EventsBackend {
	case EventsNone:
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka events backend"))
		}
	case EventsNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats events backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend))
	}
	if c.WidgetRetries < 0 || c.WidgetRetries > maxWidgetRetries {
		errs = append(errs, fmt.Errorf("WIDGET_RETRIES must be within [0, %d]", maxWidgetRetries))
	}
	if budget := c.LocateBudget(); c.WriteTimeout < budget+locateReplySlack {
		errs = append(errs, fmt.Errorf("HTTP_WRITE_TIMEOUT %s must exceed the locate budget %s by at least %s", c.WriteTimeout, budget, locateReplySlack))
	}
	if c.SessionTTL <= 0 || c.SessionEvictInterval <= 0 {
		errs = append(errs, errors.New("SESSION_TTL and SESSION_EVICT_INTERVAL must be > 0"))
	}
	return errs
}

// WidgetWait is the longest a /locate call waits for a late map widget:
// the doubling retries, then the polling ceiling plus one poll interval of
// overshoot.
func (c ServerConfig) WidgetWait() time.Duration {
	var total time.Duration
	delay := c.WidgetInitialDelay
	for i := 0; i < c.WidgetRetries; i++ {
		total += delay
		delay *= 2
	}
	if c.WidgetPollInterval > 0 {
		total += c.WidgetPollCeiling + c.WidgetPollInterval
	}
	return total
}

// LocateBudget bounds one /locate call: the widget wait, the device and
// widget stages, then the IP lookup.
func (c ServerConfig) LocateBudget() time.Duration {
	return c.WidgetWait() + 2*c.LocateStageTimeout + c.IPGeoTimeout
}

// ConsumerConfig configures the activity event consumer.
type ConsumerConfig struct {
	MetricsAddr    string
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
	LogLevel       string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:    ":2112",
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "activity-events",
		KafkaGroup:     "activity-radar-consumer",
		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "radar",
		LogLevel:       "info",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
