package config

import (
	"strings"
	"testing"
	"time"
)

func TestServerDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.TickResolution != 100*time.Millisecond {
		t.Fatalf("unexpected worker defaults: %v %v", cfg.PollInterval, cfg.TickResolution)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StrictInvariants() {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestServerEnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("APP_ENV", "Development")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s, got %v", cfg.PollInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if !cfg.StrictInvariants() {
		t.Fatal("development must enable strict invariants")
	}
}

func TestServerValidationJoinsErrors(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("BACKEND_URL", "not a url")
	t.Setenv("TICK_RESOLUTION", "0s")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"POLL_INTERVAL", "BACKEND_URL", "TICK_RESOLUTION"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestConsumerDefaults(t *testing.T) {
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KafkaBrokers[0] != "localhost:9092" || cfg.KafkaGroup != "ride-lifecycle-archiver" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
