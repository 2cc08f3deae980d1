package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig captures all tunable parameters for the engine host.
// Values come from the environment, optionally seeded by a .env file in the
// working directory, with defaults that run locally against a backend on
// localhost.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	BackendURL     string
	BackendTimeout time.Duration

	PollInterval   time.Duration
	TickResolution time.Duration

	RedisAddr      string
	RedisPassword  string
	RatingClaimTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	AppEnv   string
	LogLevel string
}

// StrictInvariants reports whether invariant violations should panic.
func (c ServerConfig) StrictInvariants() bool { return c.AppEnv == "development" }

// ConsumerConfig configures the lifecycle event archiver.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	PGDSN         string
	RunMigrations bool
	LogLevel      string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_READ_TIMEOUT", "5s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "10s")
	v.SetDefault("HTTP_IDLE_TIMEOUT", "120s")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BACKEND_URL", "http://localhost:5000")
	v.SetDefault("BACKEND_TIMEOUT", "10s")
	v.SetDefault("POLL_INTERVAL", "5s")
	v.SetDefault("TICK_RESOLUTION", "100ms")
	v.SetDefault("RATING_CLAIM_TTL", "720h")
	v.SetDefault("KAFKA_TOPIC", "ride-lifecycle")
	v.SetDefault("KAFKA_GROUP", "ride-lifecycle-archiver")
	v.SetDefault("METRICS_ADDR", ":2112")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	return v
}

// readEnvFile loads .env if present. A missing file is not an error.
func readEnvFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("read .env: %w", err)
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	v := newViper()
	var errs []error
	if err := readEnvFile(v); err != nil {
		errs = append(errs, err)
	}

	cfg := ServerConfig{
		HTTPAddr:      strings.TrimSpace(v.GetString("HTTP_ADDR")),
		CORSOrigins:   splitAndTrim(v.GetString("CORS_ORIGINS")),
		BackendURL:    strings.TrimSpace(v.GetString("BACKEND_URL")),
		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		KafkaBrokers:  splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:    strings.TrimSpace(v.GetString("KAFKA_TOPIC")),
		AppEnv:        strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel:      strings.ToLower(v.GetString("LOG_LEVEL")),
	}
	setDuration(v, &cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDuration(v, &cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDuration(v, &cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDuration(v, &cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDuration(v, &cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)
	setDuration(v, &cfg.PollInterval, "POLL_INTERVAL", &errs)
	setDuration(v, &cfg.TickResolution, "TICK_RESOLUTION", &errs)
	setDuration(v, &cfg.RatingClaimTTL, "RATING_CLAIM_TTL", &errs)

	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", cfg.BackendURL))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}
	if cfg.TickResolution <= 0 {
		errs = append(errs, fmt.Errorf("TICK_RESOLUTION must be > 0"))
	}
	if cfg.RedisAddr != "" && cfg.RatingClaimTTL <= 0 {
		errs = append(errs, fmt.Errorf("RATING_CLAIM_TTL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	v := newViper()
	var errs []error
	if err := readEnvFile(v); err != nil {
		errs = append(errs, err)
	}
	cfg := ConsumerConfig{
		MetricsAddr:   strings.TrimSpace(v.GetString("METRICS_ADDR")),
		KafkaBrokers:  splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:    strings.TrimSpace(v.GetString("KAFKA_TOPIC")),
		KafkaGroup:    strings.TrimSpace(v.GetString("KAFKA_GROUP")),
		PGDSN:         v.GetString("PG_DSN"),
		RunMigrations: strings.EqualFold(v.GetString("MIGRATE"), "true"),
		LogLevel:      strings.ToLower(v.GetString("LOG_LEVEL")),
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.KafkaTopic == "" {
		errs = append(errs, fmt.Errorf("KAFKA_TOPIC must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

func setDuration(v *viper.Viper, target *time.Duration, key string, errs *[]error) {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*target = d
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
