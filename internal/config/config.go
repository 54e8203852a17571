/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/gclsync/internal/gcl"
	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/taprio"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus transport selection.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusNATS   EventBusBackend = "nats"
	EventBusRedis  EventBusBackend = "redis"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	CSVLogPath  string // empty disables the CSV log
	LogFile     string // empty logs to stdout only

	// In-memory record history served by the API
	HistorySize      int
	HistoryRetention time.Duration // zero keeps records until evicted by size

	// Topology
	TopologyFile     string // empty selects the built-in two-switch topology
	VerifyInterfaces bool

	// Scheduling
	Strategy        string
	CycleTime       time.Duration
	MinSlot         time.Duration
	Slots           int
	GateStates      []models.GateMask
	RefreshInterval time.Duration // zero uses the strategy's own interval
	FailureInterval time.Duration
	LeadMargin      time.Duration
	TAIOffset       time.Duration

	// Deployment
	ApplyTimeout      time.Duration
	ApplyAttempts     int
	ApplyBackoff      time.Duration
	CommandTimeout    time.Duration
	RollbackOnPartial bool
	TCBin             string
	UseSudo           bool
	ClockID           string
	TaprioFlags       string

	// Measurement
	ProbeEnabled bool
	ProbeCount   int
	ProbeTimeout time.Duration
	PingBin      string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Events
	EventBus EventBusBackend
	NATSURL  string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	gateStates, err := parseGateStates(getEnvAny([]string{"GCLSYNC_GATE_STATES"}, "01,02"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"GCLSYNC_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"GCLSYNC_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort:    getEnvIntAny([]string{"GCLSYNC_HTTP_PORT"}, 8090),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"GCLSYNC_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"GCLSYNC_DB_DSN"}, "gclsync.db"),
		CSVLogPath:  getEnvAny([]string{"GCLSYNC_CSV_LOG"}, "experiment_data.csv"),
		LogFile:     getEnvAny([]string{"GCLSYNC_LOG_FILE"}, ""),

		HistorySize:      getEnvIntAny([]string{"GCLSYNC_HISTORY_SIZE"}, 64),
		HistoryRetention: getEnvDurationAny([]string{"GCLSYNC_HISTORY_RETENTION"}, 24*time.Hour),

		TopologyFile:     getEnvAny([]string{"GCLSYNC_TOPOLOGY_FILE"}, ""),
		VerifyInterfaces: getEnvBoolAny([]string{"GCLSYNC_VERIFY_INTERFACES"}, false),

		Strategy:        getEnvAny([]string{"GCLSYNC_STRATEGY"}, string(gcl.KindHeuristic)),
		CycleTime:       time.Duration(getEnvIntAny([]string{"GCLSYNC_CYCLE_TIME_NS"}, 200000)),
		MinSlot:         time.Duration(getEnvIntAny([]string{"GCLSYNC_MIN_SLOT_NS"}, int(models.DefaultMinSlot))),
		Slots:           getEnvIntAny([]string{"GCLSYNC_SLOTS"}, 3),
		GateStates:      gateStates,
		RefreshInterval: getEnvDurationAny([]string{"GCLSYNC_REFRESH_INTERVAL"}, 0),
		FailureInterval: getEnvDurationAny([]string{"GCLSYNC_FAILURE_INTERVAL"}, 5*time.Second),
		LeadMargin:      getEnvDurationAny([]string{"GCLSYNC_LEAD_MARGIN"}, 5*time.Second),
		TAIOffset:       getEnvDurationAny([]string{"GCLSYNC_TAI_OFFSET"}, 37*time.Second),

		ApplyTimeout:      getEnvDurationAny([]string{"GCLSYNC_APPLY_TIMEOUT"}, 60*time.Second),
		ApplyAttempts:     getEnvIntAny([]string{"GCLSYNC_APPLY_ATTEMPTS"}, 3),
		ApplyBackoff:      getEnvDurationAny([]string{"GCLSYNC_APPLY_BACKOFF"}, 500*time.Millisecond),
		CommandTimeout:    getEnvDurationAny([]string{"GCLSYNC_COMMAND_TIMEOUT"}, 10*time.Second),
		RollbackOnPartial: getEnvBoolAny([]string{"GCLSYNC_ROLLBACK_ON_PARTIAL"}, true),
		TCBin:             getEnvAny([]string{"GCLSYNC_TC_BIN"}, "tc"),
		UseSudo:           getEnvBoolAny([]string{"GCLSYNC_USE_SUDO"}, false),
		ClockID:           getEnvAny([]string{"GCLSYNC_CLOCK_ID"}, taprio.ClockRealtime),
		TaprioFlags:       getEnvAny([]string{"GCLSYNC_TAPRIO_FLAGS"}, "0x0"),

		ProbeEnabled: getEnvBoolAny([]string{"GCLSYNC_PROBE_ENABLED"}, true),
		ProbeCount:   getEnvIntAny([]string{"GCLSYNC_PROBE_COUNT"}, 5),
		ProbeTimeout: getEnvDurationAny([]string{"GCLSYNC_PROBE_TIMEOUT"}, time.Second),
		PingBin:      getEnvAny([]string{"GCLSYNC_PING_BIN"}, "ping"),

		TracingEnabled:    getEnvBoolAny([]string{"GCLSYNC_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GCLSYNC_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GCLSYNC_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"GCLSYNC_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"GCLSYNC_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"GCLSYNC_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"GCLSYNC_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"GCLSYNC_INSTANCE_ID"}, ""),

		EventBus: EventBusBackend(getEnvAny([]string{"GCLSYNC_EVENT_BUS"}, string(EventBusMemory))),
		NATSURL:  getEnvAny([]string{"GCLSYNC_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at the first cycle.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("GCLSYNC_DB_DSN must be provided")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("GCLSYNC_HTTP_PORT %d out of range", c.HTTPPort)
	}

	known := false
	for _, k := range gcl.Kinds() {
		if strings.EqualFold(c.Strategy, string(k)) {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown GCLSYNC_STRATEGY %q", c.Strategy)
	}
	// Cycle, slot and gate settings are checked by the strategy on every
	// cycle so that a bad combination is recorded as a config_error.
	if c.LeadMargin <= 0 {
		return fmt.Errorf("GCLSYNC_LEAD_MARGIN must be positive")
	}
	if c.RefreshInterval < 0 || c.FailureInterval <= 0 {
		return fmt.Errorf("refresh intervals must be positive")
	}
	if c.ApplyAttempts < 1 {
		return fmt.Errorf("GCLSYNC_APPLY_ATTEMPTS must be at least 1")
	}
	if c.ApplyTimeout <= 0 || c.CommandTimeout <= 0 {
		return fmt.Errorf("apply and command timeouts must be positive")
	}
	if c.HistorySize < 1 || c.HistoryRetention < 0 {
		return fmt.Errorf("GCLSYNC_HISTORY_SIZE must be at least 1 and GCLSYNC_HISTORY_RETENTION not negative")
	}
	if c.ProbeCount < 1 {
		return fmt.Errorf("GCLSYNC_PROBE_COUNT must be at least 1")
	}
	if err := c.TaprioOptions().Validate(); err != nil {
		return err
	}

	switch c.EventBus {
	case EventBusMemory, EventBusNATS, EventBusRedis:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("GCLSYNC_TRACING_SAMPLE_RATE must be within [0, 1]")
	}
	return nil
}

// TaprioOptions returns the shaping options selected by the environment.
func (c *Config) TaprioOptions() taprio.Options {
	return taprio.DefaultOptions().Merge(taprio.Options{ClockID: c.ClockID, Flags: c.TaprioFlags})
}

// SchedulerConfig returns the strategy settings.
func (c *Config) SchedulerConfig() gcl.Config {
	cfg := gcl.DefaultConfig()
	cfg.CycleTime = c.CycleTime
	cfg.MinSlot = c.MinSlot
	cfg.Slots = c.Slots
	cfg.GateStates = append([]models.GateMask(nil), c.GateStates...)
	cfg.Interval = c.RefreshInterval
	return cfg
}

// HTTPAddr joins bind address and port.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func parseGateStates(raw string) ([]models.GateMask, error) {
	var out []models.GateMask
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "0x")
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 16, 32)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("GCLSYNC_GATE_STATES: invalid gate mask %q", part)
		}
		out = append(out, models.GateMask(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("GCLSYNC_GATE_STATES must list at least one gate mask")
	}
	return out, nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("30s") or bare integer seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
