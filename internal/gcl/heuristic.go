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

// DefaultHeuristicInterval is the refresh cadence of the heuristic strategy.
const DefaultHeuristicInterval = 30 * time.Second

// Heuristic draws random window lengths that always leave room for the
// remaining windows. The closing window takes whatever budget is left.
type Heuristic struct {
	slots      int
	minSlot    time.Duration
	gateStates []models.GateMask
	interval   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHeuristic validates cfg and returns the strategy.
func NewHeuristic(cfg Config) (*Heuristic, error) {
	if err := validateCycle(cfg.CycleTime, cfg.MinSlot, cfg.Slots); err != nil {
		return nil, err
	}
	if err := validateGateStates(cfg.GateStates); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHeuristicInterval
	}
	return &Heuristic{
		slots:      cfg.Slots,
		minSlot:    cfg.MinSlot,
		gateStates: append([]models.GateMask(nil), cfg.GateStates...),
		interval:   interval,
		rng:        newRand(cfg.Rand),
	}, nil
}

// Name implements Strategy.
func (h *Heuristic) Name() string {
	return "HeuristicGCLScheduler"
}

// Interval implements Strategy.
func (h *Heuristic) Interval() time.Duration {
	return h.interval
}

// Generate implements Strategy.
func (h *Heuristic) Generate(cycleTime time.Duration) (models.Schedule, error) {
	if err := validateCycle(cycleTime, h.minSlot, h.slots); err != nil {
		return models.Schedule{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]models.GateEntry, 0, h.slots)
	remaining := cycleTime
	for i := 0; i < h.slots-1; i++ {
		slotsLeftAfter := time.Duration(h.slots - i - 1)
		maxPossible := remaining - slotsLeftAfter*h.minSlot
		span := int64(maxPossible - h.minSlot)
		duration := h.minSlot + time.Duration(h.rng.Int63n(span+1))

		entries = append(entries, models.GateEntry{
			GateState: h.gateStates[h.rng.Intn(len(h.gateStates))],
			Duration:  duration,
		})
		remaining -= duration
	}
	entries = append(entries, models.GateEntry{
		GateState: h.gateStates[h.rng.Intn(len(h.gateStates))],
		Duration:  remaining,
	})

	schedule := models.NewSchedule(cycleTime, entries)
	if err := checkSum(schedule, cycleTime); err != nil {
		return models.Schedule{}, err
	}
	return schedule, nil
}
