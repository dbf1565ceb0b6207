// Package config loads the stack's compile-time tunables (§6) from
// environment variables at process start, the way the teacher broker loads
// its runtime knobs: typed defaults, MESH_* overrides, and one accumulated
// error listing every invalid override instead of failing on the first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxSinks bounds the sink routing table (§3, SUBNET_MAX_SINKS).
	DefaultMaxSinks = 10
	// DefaultMaxNeighbors bounds the neighbour table.
	DefaultMaxNeighbors = 16
	// DefaultMaxAlternateRoutes bounds next-hop candidates per sink.
	DefaultMaxAlternateRoutes = 5
	// DefaultMaxSubscriptions bounds the per-sink subscription array.
	DefaultMaxSubscriptions = 8
	// DefaultMaxSensors bounds the publisher's per-sensor collection timers.
	DefaultMaxSensors = 8
	// DefaultPacketbufSize is the simulated link MTU fragments must fit within.
	DefaultPacketbufSize = 128

	// DefaultRevokePeriod is REVOKE_PERIOD: how long a revocation is
	// remembered before the subscription id is considered reclaimable.
	DefaultRevokePeriod = 60 * time.Second
	// DefaultADiscloseTimeout is ADISCLOSE_TIMEOUT, the stop-and-wait ACK deadline.
	DefaultADiscloseTimeout = 2 * time.Second
	// DefaultResendInterval is RESEND_INTERVAL, the subscriber resubscribe cadence.
	DefaultResendInterval = 30 * time.Second
	// DefaultAggregationInterval is the publisher's default per-sink aggregation window.
	DefaultAggregationInterval = 10 * time.Second

	// DefaultAckBits is ACK_BITS: the width of the ADisclose sequence space.
	DefaultAckBits = 2

	// DefaultLogLevel controls verbosity for node logs.
	DefaultLogLevel = "info"
)

// Config captures every runtime tunable named in §6 of the specification.
type Config struct {
	MaxSinks             int
	MaxNeighbors         int
	MaxAlternateRoutes   int
	MaxSubscriptions     int
	MaxSensors           int
	PacketbufSize        int
	RevokePeriod         time.Duration
	ADiscloseTimeout     time.Duration
	ResendInterval       time.Duration
	AggregationInterval  time.Duration
	AckBits              uint
	Logging              LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level string
}

// Load reads the stack configuration from environment variables, applying
// sane defaults and returning a descriptive error for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		MaxSinks:            DefaultMaxSinks,
		MaxNeighbors:        DefaultMaxNeighbors,
		MaxAlternateRoutes:  DefaultMaxAlternateRoutes,
		MaxSubscriptions:    DefaultMaxSubscriptions,
		MaxSensors:          DefaultMaxSensors,
		PacketbufSize:       DefaultPacketbufSize,
		RevokePeriod:        DefaultRevokePeriod,
		ADiscloseTimeout:    DefaultADiscloseTimeout,
		ResendInterval:      DefaultResendInterval,
		AggregationInterval: DefaultAggregationInterval,
		AckBits:             DefaultAckBits,
		Logging: LoggingConfig{
			Level: getString("MESH_LOG_LEVEL", DefaultLogLevel),
		},
	}

	var problems []string

	setInt(&problems, "MESH_MAX_SINKS", &cfg.MaxSinks, true)
	setInt(&problems, "MESH_MAX_NEIGHBORS", &cfg.MaxNeighbors, true)
	setInt(&problems, "MESH_MAX_ALTERNATE_ROUTES", &cfg.MaxAlternateRoutes, true)
	setInt(&problems, "MESH_MAX_SUBSCRIPTIONS", &cfg.MaxSubscriptions, true)
	setInt(&problems, "MESH_MAX_SENSORS", &cfg.MaxSensors, true)
	setInt(&problems, "MESH_PACKETBUF_SIZE", &cfg.PacketbufSize, true)

	setDuration(&problems, "MESH_REVOKE_PERIOD", &cfg.RevokePeriod)
	setDuration(&problems, "MESH_ADISCLOSE_TIMEOUT", &cfg.ADiscloseTimeout)
	setDuration(&problems, "MESH_RESEND_INTERVAL", &cfg.ResendInterval)
	setDuration(&problems, "MESH_AGGREGATION_INTERVAL", &cfg.AggregationInterval)

	if raw := strings.TrimSpace(os.Getenv("MESH_ACK_BITS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 8 {
			problems = append(problems, fmt.Sprintf("MESH_ACK_BITS must be an integer in (0, 8], got %q", raw))
		} else {
			cfg.AckBits = uint(value)
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func setInt(problems *[]string, key string, dst *int, positive bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || (positive && value <= 0) {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return
	}
	*dst = value
}

func setDuration(problems *[]string, key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}
