/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recordlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/friendsincode/gclsync/internal/models"
)

// Header is the first row of every CSV log.
var Header = []string{
	"timestamp",
	"scheduler_name",
	"cycle_time",
	"sched_entries",
	"base_time",
	"status",
	"targets_applied",
	"targets_total",
	"latency_ms",
	"jitter_ms",
	"schedule_adherence_ns",
	"lead_slack_ns",
	"error",
}

// CSV appends records to a CSV file, writing the header when the file is new.
type CSV struct {
	path string
	mu   sync.Mutex
}

// NewCSV creates a CSV sink. The file is created lazily on first append.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

// Path returns the log file path.
func (c *CSV) Path() string {
	return c.path
}

// Append implements Sink.
func (c *CSV) Append(_ context.Context, rec models.DeploymentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := false
	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fresh = true
	case err != nil:
		return fmt.Errorf("stat record log: %w", err)
	default:
		fresh = info.Size() == 0
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open record log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write record log header: %w", err)
		}
	}
	if err := w.Write(Row(rec)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush record log: %w", err)
	}
	return nil
}

// Row renders rec in Header column order. Measurement sentinels are written
// as-is so missing data stays distinguishable from zero.
func Row(rec models.DeploymentRecord) []string {
	return []string{
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.SchedulerName,
		strconv.FormatInt(rec.CycleTimeNs, 10),
		rec.Schedule,
		strconv.FormatInt(rec.BaseTimeNs, 10),
		string(rec.Status),
		strconv.Itoa(rec.TargetsApplied),
		strconv.Itoa(rec.TargetsTotal),
		strconv.FormatFloat(rec.LatencyMs, 'f', -1, 64),
		strconv.FormatFloat(rec.JitterMs, 'f', -1, 64),
		strconv.FormatInt(rec.AdherenceNs, 10),
		strconv.FormatInt(rec.LeadSlackNs, 10),
		rec.Error,
	}
}
