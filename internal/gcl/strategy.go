/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gcl produces gate control list schedules.
package gcl

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/friendsincode/gclsync/internal/models"
)

// ErrConfiguration indicates a scheduler configuration that cannot yield a
// valid schedule. Deployment must not proceed when it is returned.
var ErrConfiguration = errors.New("gcl configuration error")

// ConfigError describes which setting is invalid.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("gcl configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// Strategy generates schedules for a cycle time.
type Strategy interface {
	// Name identifies the strategy in logs and records.
	Name() string
	// Generate returns a fresh schedule whose durations sum to cycleTime.
	Generate(cycleTime time.Duration) (models.Schedule, error)
	// Interval is how often the strategy wants to be refreshed.
	Interval() time.Duration
}

// Kind selects a strategy implementation.
type Kind string

const (
	KindHeuristic Kind = "heuristic"
	KindFixed     Kind = "fixed"
)

// DefaultGateStates are the two exclusive states: class 0 open, class 1 open.
var DefaultGateStates = []models.GateMask{0x01, 0x02}

// Config holds settings shared by every strategy.
type Config struct {
	CycleTime  time.Duration
	MinSlot    time.Duration
	Slots      int
	GateStates []models.GateMask
	Interval   time.Duration
	Shuffle    bool
	Rand       *rand.Rand
}

// DefaultConfig mirrors the baseline heuristic: a 200µs cycle split into three
// windows of at least 50µs.
func DefaultConfig() Config {
	return Config{
		CycleTime:  200 * time.Microsecond,
		MinSlot:    models.DefaultMinSlot,
		Slots:      3,
		GateStates: append([]models.GateMask(nil), DefaultGateStates...),
	}
}

// New builds the strategy registered under kind.
func New(kind string, cfg Config) (Strategy, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindHeuristic, "":
		return NewHeuristic(cfg)
	case KindFixed:
		return NewFixed(cfg)
	default:
		return nil, &ConfigError{Field: "strategy", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
}

// Kinds lists the registered strategy kinds.
func Kinds() []Kind {
	return []Kind{KindHeuristic, KindFixed}
}

func validateCycle(cycleTime, minSlot time.Duration, slots int) error {
	if slots < 1 {
		return &ConfigError{Field: "slots", Reason: fmt.Sprintf("must be at least 1, got %d", slots)}
	}
	if minSlot <= 0 {
		return &ConfigError{Field: "min_slot", Reason: fmt.Sprintf("must be positive, got %d", minSlot)}
	}
	if cycleTime < time.Duration(slots)*minSlot {
		return &ConfigError{
			Field:  "cycle_time",
			Reason: fmt.Sprintf("%dns cannot hold %d slots of at least %dns", cycleTime.Nanoseconds(), slots, minSlot.Nanoseconds()),
		}
	}
	return nil
}

func validateGateStates(states []models.GateMask) error {
	if len(states) == 0 {
		return &ConfigError{Field: "gate_states", Reason: "at least one gate state is required"}
	}
	for _, s := range states {
		if s == 0 {
			return &ConfigError{Field: "gate_states", Reason: "gate state 0 closes every queue"}
		}
	}
	return nil
}

// checkSum enforces the postcondition every strategy must meet before a
// schedule leaves the package.
func checkSum(s models.Schedule, cycleTime time.Duration) error {
	if sum := s.Sum(); sum != cycleTime {
		return fmt.Errorf("%w: durations sum to %d, cycle time is %d", models.ErrInvalidSchedule, sum, cycleTime)
	}
	return nil
}

func newRand(r *rand.Rand) *rand.Rand {
	if r != nil {
		return r
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
