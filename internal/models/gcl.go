/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSchedule indicates a schedule that violates the cycle invariants.
var ErrInvalidSchedule = errors.New("invalid schedule")

// DefaultMinSlot is the guard band applied to every non-closing gate window.
const DefaultMinSlot = 50 * time.Microsecond

// GateMask is a bitmask over traffic-class queues. Only the shaping layer
// interprets the bits.
type GateMask uint32

// Hex renders the mask the way taprio expects it.
func (m GateMask) Hex() string {
	return fmt.Sprintf("%02x", uint32(m))
}

// GateEntry opens GateState for Duration.
type GateEntry struct {
	GateState GateMask
	Duration  time.Duration
}

// Schedule is an immutable cyclic gate control list.
type Schedule struct {
	entries   []GateEntry
	cycleTime time.Duration
}

// NewSchedule copies entries into a new schedule. It does not validate; call
// Validate before deploying.
func NewSchedule(cycleTime time.Duration, entries []GateEntry) Schedule {
	cp := make([]GateEntry, len(entries))
	copy(cp, entries)
	return Schedule{entries: cp, cycleTime: cycleTime}
}

// Entries returns a copy of the gate entries in order.
func (s Schedule) Entries() []GateEntry {
	cp := make([]GateEntry, len(s.entries))
	copy(cp, s.entries)
	return cp
}

// CycleTime is the period after which the schedule repeats.
func (s Schedule) CycleTime() time.Duration {
	return s.cycleTime
}

// Len returns the number of gate entries.
func (s Schedule) Len() int {
	return len(s.entries)
}

// IsZero reports whether the schedule holds no entries.
func (s Schedule) IsZero() bool {
	return len(s.entries) == 0
}

// Sum adds up all entry durations.
func (s Schedule) Sum() time.Duration {
	var total time.Duration
	for _, e := range s.entries {
		total += e.Duration
	}
	return total
}

// Validate checks the cycle-sum and minimum dwell invariants. The closing
// entry is exempt from the minSlot check.
func (s Schedule) Validate(minSlot time.Duration) error {
	if len(s.entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidSchedule)
	}
	if s.cycleTime <= 0 {
		return fmt.Errorf("%w: cycle time %d must be positive", ErrInvalidSchedule, s.cycleTime)
	}
	last := len(s.entries) - 1
	for i, e := range s.entries {
		if e.Duration <= 0 {
			return fmt.Errorf("%w: entry %d has non-positive duration %d", ErrInvalidSchedule, i, e.Duration)
		}
		if i != last && e.Duration < minSlot {
			return fmt.Errorf("%w: entry %d duration %d below minimum %d", ErrInvalidSchedule, i, e.Duration, minSlot)
		}
	}
	if sum := s.Sum(); sum != s.cycleTime {
		return fmt.Errorf("%w: durations sum to %d, cycle time is %d", ErrInvalidSchedule, sum, s.cycleTime)
	}
	return nil
}

// String renders the schedule as repeated sched-entry clauses.
func (s Schedule) String() string {
	parts := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		parts = append(parts, fmt.Sprintf("sched-entry S %s %d", e.GateState.Hex(), e.Duration.Nanoseconds()))
	}
	return strings.Join(parts, " ")
}

// BaseTime is the activation instant of a schedule, in nanoseconds since the
// Unix epoch of the synchronized clock domain.
type BaseTime int64

// NewBaseTime returns now shifted forward by lead.
func NewBaseTime(now time.Time, lead time.Duration) BaseTime {
	return BaseTime(now.Add(lead).UnixNano())
}

// Nanoseconds returns the raw epoch offset.
func (b BaseTime) Nanoseconds() int64 {
	return int64(b)
}

// Time converts the base time back to wall-clock time.
func (b BaseTime) Time() time.Time {
	return time.Unix(0, int64(b))
}

// After reports whether the base time lies strictly after t.
func (b BaseTime) After(t time.Time) bool {
	return int64(b) > t.UnixNano()
}

// Shift moves the base time by d.
func (b BaseTime) Shift(d time.Duration) BaseTime {
	return b + BaseTime(d.Nanoseconds())
}

// SwitchTarget identifies one shaping interface on a switch.
type SwitchTarget struct {
	ID        string `yaml:"id" json:"id"`
	Interface string `yaml:"interface" json:"interface"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// Host is a probe endpoint.
type Host struct {
	ID        string `yaml:"id" json:"id"`
	Address   string `yaml:"address" json:"address"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}
