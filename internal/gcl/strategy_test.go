package gcl

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/friendsincode/gclsync/internal/models"
)

func heuristicConfig(cycle, minSlot time.Duration, slots int, seed int64) Config {
	cfg := DefaultConfig()
	cfg.CycleTime = cycle
	cfg.MinSlot = minSlot
	cfg.Slots = slots
	cfg.Rand = rand.New(rand.NewSource(seed))
	return cfg
}

func TestHeuristicSumsToCycleTime(t *testing.T) {
	cases := []struct {
		cycle   time.Duration
		minSlot time.Duration
		slots   int
	}{
		{200 * time.Microsecond, 50 * time.Microsecond, 3},
		{150 * time.Microsecond, 50 * time.Microsecond, 3},
		{time.Millisecond, 50 * time.Microsecond, 3},
		{time.Millisecond, 10 * time.Microsecond, 8},
		{123457 * time.Nanosecond, 1 * time.Microsecond, 5},
		{50 * time.Microsecond, 50 * time.Microsecond, 1},
	}

	for _, c := range cases {
		for seed := int64(0); seed < 200; seed++ {
			h, err := NewHeuristic(heuristicConfig(c.cycle, c.minSlot, c.slots, seed))
			if err != nil {
				t.Fatalf("NewHeuristic(%v, %v, %d): %v", c.cycle, c.minSlot, c.slots, err)
			}
			s, err := h.Generate(c.cycle)
			if err != nil {
				t.Fatalf("Generate(%v) seed %d: %v", c.cycle, seed, err)
			}
			if s.Sum() != c.cycle {
				t.Fatalf("sum %v != cycle %v", s.Sum(), c.cycle)
			}
			if s.Len() != c.slots {
				t.Fatalf("got %d entries, want %d", s.Len(), c.slots)
			}
			entries := s.Entries()
			for i, e := range entries[:len(entries)-1] {
				if e.Duration < c.minSlot {
					t.Fatalf("entry %d duration %v below min %v", i, e.Duration, c.minSlot)
				}
			}
			if err := s.Validate(c.minSlot); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		}
	}
}

func TestHeuristicBaselineExample(t *testing.T) {
	for seed := int64(0); seed < 500; seed++ {
		h, err := NewHeuristic(heuristicConfig(200000, 50000, 3, seed))
		if err != nil {
			t.Fatalf("NewHeuristic: %v", err)
		}
		s, err := h.Generate(200000)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		entries := s.Entries()
		if len(entries) != 3 {
			t.Fatalf("got %d entries", len(entries))
		}
		first := entries[0].Duration
		if first < 50000 || first > 100000 {
			t.Fatalf("first entry %v outside [50000, 100000]", first)
		}
		if entries[1].Duration < 50000 {
			t.Fatalf("second entry %v below 50000", entries[1].Duration)
		}
		for _, e := range entries {
			if e.GateState != 0x01 && e.GateState != 0x02 {
				t.Fatalf("unexpected gate state %#x", e.GateState)
			}
		}
	}
}

func TestHeuristicRejectsShortCycle(t *testing.T) {
	_, err := NewHeuristic(heuristicConfig(149999, 50000, 3, 1))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("NewHeuristic() error = %v, want ErrConfiguration", err)
	}

	h, err := NewHeuristic(heuristicConfig(200000, 50000, 3, 1))
	if err != nil {
		t.Fatalf("NewHeuristic: %v", err)
	}
	s, err := h.Generate(100000)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Generate() error = %v, want ErrConfiguration", err)
	}
	if !s.IsZero() {
		t.Fatalf("Generate() returned a schedule alongside the error: %s", s)
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "cycle_time" {
		t.Fatalf("expected cycle_time ConfigError, got %v", err)
	}
}

func TestHeuristicRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero slots", heuristicConfig(200000, 50000, 0, 1)},
		{"zero min slot", heuristicConfig(200000, 0, 3, 1)},
		{"no gate states", func() Config {
			c := heuristicConfig(200000, 50000, 3, 1)
			c.GateStates = nil
			return c
		}()},
		{"closed gate state", func() Config {
			c := heuristicConfig(200000, 50000, 3, 1)
			c.GateStates = []models.GateMask{0}
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHeuristic(tt.cfg); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("NewHeuristic() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestFixedSplitsEvenly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CycleTime = time.Millisecond
	cfg.GateStates = []models.GateMask{0x01, 0x02, 0x04}

	f, err := NewFixed(cfg)
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	s, err := f.Generate(time.Millisecond)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if s.Sum() != time.Millisecond {
		t.Fatalf("sum %v", s.Sum())
	}
	entries := s.Entries()
	if entries[0].Duration != 333333 || entries[2].Duration != 333334 {
		t.Fatalf("unexpected split %+v", entries)
	}
	if entries[0].GateState != 0x01 || entries[2].GateState != 0x04 {
		t.Fatalf("unexpected order %+v", entries)
	}
	if f.Interval() != DefaultFixedInterval {
		t.Fatalf("Interval() = %v", f.Interval())
	}
}

func TestFixedShuffleKeepsStates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CycleTime = time.Millisecond
	cfg.Shuffle = true
	cfg.Rand = rand.New(rand.NewSource(7))

	f, err := NewFixed(cfg)
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	for i := 0; i < 20; i++ {
		s, err := f.Generate(time.Millisecond)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		seen := map[models.GateMask]bool{}
		for _, e := range s.Entries() {
			seen[e.GateState] = true
		}
		if !seen[0x01] || !seen[0x02] {
			t.Fatalf("shuffle dropped a gate state: %s", s)
		}
	}
}

func TestNewSelectsByKind(t *testing.T) {
	tests := []struct {
		kind     string
		wantName string
		interval time.Duration
		wantErr  bool
	}{
		{"heuristic", "HeuristicGCLScheduler", DefaultHeuristicInterval, false},
		{"", "HeuristicGCLScheduler", DefaultHeuristicInterval, false},
		{"Fixed", "FixedGCLScheduler", DefaultFixedInterval, false},
		{"optimal", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, err := New(tt.kind, DefaultConfig())
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("New(%q) error = %v, want ErrConfiguration", tt.kind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q): %v", tt.kind, err)
			}
			if s.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.wantName)
			}
			if s.Interval() != tt.interval {
				t.Errorf("Interval() = %v, want %v", s.Interval(), tt.interval)
			}
		})
	}
}
