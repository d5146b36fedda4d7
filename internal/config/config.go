// Package config reads service settings from the environment and an optional .env file.
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
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Port string

	StorageDriver string
	StorageDir    string
	PostgresURL   string

	KafkaBrokers       []string
	NotificationsTopic string
	ConsumerGroup      string

	PushServiceURL string
	OTLPEndpoint   string

	CheckInterval     time.Duration
	DueSoonWindow     time.Duration
	StaleAfter        time.Duration
	PreDueLead        time.Duration
	OverdueThrottle   time.Duration
	SchedulerThrottle time.Duration
	StrictTransitions bool
	SeedDemoData      bool
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		Port:               r.str("PORT", "8081"),
		StorageDriver:      strings.ToLower(r.str("STORAGE_DRIVER", StorageFile)),
		StorageDir:         r.str("STORAGE_DIR", "data"),
		PostgresURL:        r.str("POSTGRES_URL", ""),
		KafkaBrokers:       r.list("KAFKA_BROKERS"),
		NotificationsTopic: r.str("NOTIFICATIONS_TOPIC", "workorder.notifications"),
		ConsumerGroup:      r.str("CONSUMER_GROUP", "notification-dispatcher"),
		PushServiceURL:     r.str("PUSH_SERVICE_URL", ""),
		OTLPEndpoint:       r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CheckInterval:      r.duration("CHECK_INTERVAL", 30*time.Minute),
		DueSoonWindow:      r.duration("DUE_SOON_WINDOW", 2*time.Hour),
		StaleAfter:         r.duration("STALE_AFTER", 15*time.Minute),
		PreDueLead:         r.duration("PRE_DUE_LEAD", time.Hour),
		OverdueThrottle:    r.duration("OVERDUE_THROTTLE", 0),
		SchedulerThrottle:  r.duration("SCHEDULER_THROTTLE", 0),
		StrictTransitions:  r.boolean("STRICT_TRANSITIONS", false),
		SeedDemoData:       r.boolean("SEED_DEMO_DATA", true),
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageFile, StorageMemory:
	case StoragePostgres:
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.CheckInterval <= 0 {
		return errors.New("CHECK_INTERVAL must be positive")
	}
	if c.DueSoonWindow <= 0 {
		return errors.New("DUE_SOON_WINDOW must be positive")
	}
	if c.OverdueThrottle < 0 {
		return errors.New("OVERDUE_THROTTLE must not be negative")
	}
	if c.SchedulerThrottle < 0 {
		return errors.New("SCHEDULER_THROTTLE must not be negative")
	}
	return nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) list(key string) []string {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
