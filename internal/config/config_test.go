package config

import (
	"testing"
	"time"

	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/taprio"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite || cfg.DBDSN == "" {
		t.Fatalf("unexpected database defaults: %s %q", cfg.DBBackend, cfg.DBDSN)
	}
	if cfg.CycleTime != 200*time.Microsecond || cfg.MinSlot != 50*time.Microsecond || cfg.Slots != 3 {
		t.Fatalf("unexpected schedule defaults: %s %s %d", cfg.CycleTime, cfg.MinSlot, cfg.Slots)
	}
	if cfg.LeadMargin != 5*time.Second || cfg.FailureInterval != 5*time.Second {
		t.Fatalf("unexpected timing defaults: %s %s", cfg.LeadMargin, cfg.FailureInterval)
	}
	if len(cfg.GateStates) != 2 || cfg.GateStates[0] != 0x01 || cfg.GateStates[1] != 0x02 {
		t.Fatalf("unexpected gate states %v", cfg.GateStates)
	}
	if cfg.ApplyAttempts != 3 || !cfg.RollbackOnPartial || cfg.ProbeCount != 5 {
		t.Fatalf("unexpected deploy defaults: %+v", cfg)
	}
	if cfg.TaprioOptions().ClockID != taprio.ClockRealtime {
		t.Fatalf("unexpected clock %s", cfg.TaprioOptions().ClockID)
	}
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("GCLSYNC_STRATEGY", "fixed")
	t.Setenv("GCLSYNC_CYCLE_TIME_NS", "1000000")
	t.Setenv("GCLSYNC_GATE_STATES", "0x01, 02, 10")
	t.Setenv("GCLSYNC_REFRESH_INTERVAL", "45s")
	t.Setenv("GCLSYNC_LEAD_MARGIN", "2")
	t.Setenv("GCLSYNC_CLOCK_ID", "CLOCK_TAI")
	t.Setenv("GCLSYNC_TAPRIO_FLAGS", "0x1")
	t.Setenv("GCLSYNC_USE_SUDO", "yes")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Strategy != "fixed" || cfg.CycleTime != time.Millisecond {
		t.Fatalf("strategy settings not read: %s %s", cfg.Strategy, cfg.CycleTime)
	}
	want := []models.GateMask{0x01, 0x02, 0x10}
	for i, m := range want {
		if cfg.GateStates[i] != m {
			t.Fatalf("GateStates = %v, want %v", cfg.GateStates, want)
		}
	}
	if cfg.RefreshInterval != 45*time.Second || cfg.LeadMargin != 2*time.Second {
		t.Fatalf("durations not read: %s %s", cfg.RefreshInterval, cfg.LeadMargin)
	}
	if !cfg.UseSudo || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("flags not read: sudo=%v redis=%s", cfg.UseSudo, cfg.RedisAddr)
	}
	sc := cfg.SchedulerConfig()
	if sc.Interval != 45*time.Second || len(sc.GateStates) != 3 {
		t.Fatalf("SchedulerConfig() = %+v", sc)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string][2]string{
		"backend":     {"GCLSYNC_DB_BACKEND", "oracle"},
		"strategy":    {"GCLSYNC_STRATEGY", "genetic"},
		"gate states": {"GCLSYNC_GATE_STATES", "zz"},
		"zero mask":   {"GCLSYNC_GATE_STATES", "00"},
		"attempts":    {"GCLSYNC_APPLY_ATTEMPTS", "0"},
		"history":     {"GCLSYNC_HISTORY_SIZE", "0"},
		"clock":       {"GCLSYNC_CLOCK_ID", "CLOCK_WALL"},
		"event bus":   {"GCLSYNC_EVENT_BUS", "kafka"},
		"sample rate": {"GCLSYNC_TRACING_SAMPLE_RATE", "2"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", kv[0], kv[1])
			}
		})
	}
}

func TestShortCycleIsLeftToTheStrategy(t *testing.T) {
	t.Setenv("GCLSYNC_CYCLE_TIME_NS", "100000")
	if _, err := Load(); err != nil {
		t.Fatalf("short cycle must load so the loop can record it: %v", err)
	}
}
