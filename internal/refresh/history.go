/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package refresh

import (
	"sync"
	"time"

	"github.com/friendsincode/gclsync/internal/models"
)

// History keeps the most recent cycle records in memory for inspection
// without a database round trip.
type History struct {
	mu      sync.RWMutex
	limit   int
	records []models.DeploymentRecord
}

// NewHistory creates a history holding at most limit records.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 64
	}
	return &History{limit: limit, records: make([]models.DeploymentRecord, 0, limit)}
}

// Add appends a record, evicting the oldest when full.
func (h *History) Add(rec models.DeploymentRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == h.limit {
		copy(h.records, h.records[1:])
		h.records = h.records[:h.limit-1]
	}
	h.records = append(h.records, rec)
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []models.DeploymentRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]models.DeploymentRecord, 0, n)
	for i := len(h.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.records[i])
	}
	return out
}

// Prune removes records older than cutoff.
func (h *History) Prune(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	filtered := h.records[:0]
	for _, rec := range h.records {
		if rec.Timestamp.After(cutoff) {
			filtered = append(filtered, rec)
		}
	}
	h.records = filtered
}
