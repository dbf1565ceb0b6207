package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MESH_MAX_SINKS", "")
	t.Setenv("MESH_MAX_NEIGHBORS", "")
	t.Setenv("MESH_MAX_ALTERNATE_ROUTES", "")
	t.Setenv("MESH_MAX_SUBSCRIPTIONS", "")
	t.Setenv("MESH_MAX_SENSORS", "")
	t.Setenv("MESH_PACKETBUF_SIZE", "")
	t.Setenv("MESH_REVOKE_PERIOD", "")
	t.Setenv("MESH_ADISCLOSE_TIMEOUT", "")
	t.Setenv("MESH_RESEND_INTERVAL", "")
	t.Setenv("MESH_AGGREGATION_INTERVAL", "")
	t.Setenv("MESH_ACK_BITS", "")
	t.Setenv("MESH_LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxSinks != DefaultMaxSinks {
		t.Fatalf("expected default max sinks %d, got %d", DefaultMaxSinks, cfg.MaxSinks)
	}
	if cfg.MaxNeighbors != DefaultMaxNeighbors {
		t.Fatalf("expected default max neighbors %d, got %d", DefaultMaxNeighbors, cfg.MaxNeighbors)
	}
	if cfg.MaxAlternateRoutes != DefaultMaxAlternateRoutes {
		t.Fatalf("expected default max alternate routes %d, got %d", DefaultMaxAlternateRoutes, cfg.MaxAlternateRoutes)
	}
	if cfg.RevokePeriod != DefaultRevokePeriod {
		t.Fatalf("expected default revoke period %s, got %s", DefaultRevokePeriod, cfg.RevokePeriod)
	}
	if cfg.ADiscloseTimeout != DefaultADiscloseTimeout {
		t.Fatalf("expected default adisclose timeout %s, got %s", DefaultADiscloseTimeout, cfg.ADiscloseTimeout)
	}
	if cfg.AckBits != DefaultAckBits {
		t.Fatalf("expected default ack bits %d, got %d", DefaultAckBits, cfg.AckBits)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MESH_MAX_SINKS", "20")
	t.Setenv("MESH_MAX_NEIGHBORS", "32")
	t.Setenv("MESH_REVOKE_PERIOD", "90s")
	t.Setenv("MESH_ADISCLOSE_TIMEOUT", "500ms")
	t.Setenv("MESH_ACK_BITS", "3")
	t.Setenv("MESH_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxSinks != 20 {
		t.Fatalf("expected overridden max sinks 20, got %d", cfg.MaxSinks)
	}
	if cfg.MaxNeighbors != 32 {
		t.Fatalf("expected overridden max neighbors 32, got %d", cfg.MaxNeighbors)
	}
	if cfg.RevokePeriod != 90*time.Second {
		t.Fatalf("expected overridden revoke period 90s, got %s", cfg.RevokePeriod)
	}
	if cfg.ADiscloseTimeout != 500*time.Millisecond {
		t.Fatalf("expected overridden adisclose timeout 500ms, got %s", cfg.ADiscloseTimeout)
	}
	if cfg.AckBits != 3 {
		t.Fatalf("expected overridden ack bits 3, got %d", cfg.AckBits)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidOverrides(t *testing.T) {
	t.Setenv("MESH_MAX_SINKS", "not-a-number")
	t.Setenv("MESH_ACK_BITS", "9")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to reject invalid overrides")
	}
}
