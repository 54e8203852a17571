/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gcl

import (
	"math/rand"
	"sync"
	"time"

	"github.com/friendsincode/gclsync/internal/models"
)

// DefaultFixedInterval is the refresh cadence of the fixed strategy.
const DefaultFixedInterval = 20 * time.Second

// Fixed gives every gate state one equal window per cycle. With Shuffle set
// the order of windows is redrawn on each generation.
type Fixed struct {
	minSlot    time.Duration
	gateStates []models.GateMask
	interval   time.Duration
	shuffle    bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFixed validates cfg and returns the strategy. The slot count is the
// number of gate states.
func NewFixed(cfg Config) (*Fixed, error) {
	if err := validateGateStates(cfg.GateStates); err != nil {
		return nil, err
	}
	if err := validateCycle(cfg.CycleTime, cfg.MinSlot, len(cfg.GateStates)); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultFixedInterval
	}
	return &Fixed{
		minSlot:    cfg.MinSlot,
		gateStates: append([]models.GateMask(nil), cfg.GateStates...),
		interval:   interval,
		shuffle:    cfg.Shuffle,
		rng:        newRand(cfg.Rand),
	}, nil
}

// Name implements Strategy.
func (f *Fixed) Name() string {
	return "FixedGCLScheduler"
}

// Interval implements Strategy.
func (f *Fixed) Interval() time.Duration {
	return f.interval
}

// Generate implements Strategy.
func (f *Fixed) Generate(cycleTime time.Duration) (models.Schedule, error) {
	n := len(f.gateStates)
	if err := validateCycle(cycleTime, f.minSlot, n); err != nil {
		return models.Schedule{}, err
	}

	states := append([]models.GateMask(nil), f.gateStates...)
	if f.shuffle {
		f.mu.Lock()
		f.rng.Shuffle(len(states), func(i, j int) { states[i], states[j] = states[j], states[i] })
		f.mu.Unlock()
	}

	window := cycleTime / time.Duration(n)
	entries := make([]models.GateEntry, 0, n)
	remaining := cycleTime
	for i, state := range states {
		d := window
		if i == n-1 {
			d = remaining
		}
		entries = append(entries, models.GateEntry{GateState: state, Duration: d})
		remaining -= d
	}

	schedule := models.NewSchedule(cycleTime, entries)
	if err := checkSum(schedule, cycleTime); err != nil {
		return models.Schedule{}, err
	}
	return schedule, nil
}
