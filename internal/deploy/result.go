/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package deploy

import (
	"errors"
	"sort"
	"time"

	"github.com/friendsincode/gclsync/internal/gcl"
	"github.com/friendsincode/gclsync/internal/models"
)

// Result is the outcome of applying one schedule to a set of targets.
// Targets holds exactly one entry per requested target once pre-checks pass.
type Result struct {
	Schedule models.Schedule
	BaseTime models.BaseTime
	Targets  models.ApplyResults
	Duration time.Duration
	Err      error
}

// Applied counts targets that accepted the schedule.
func (r Result) Applied() int {
	n := 0
	for _, t := range r.Targets {
		if t.Applied {
			n++
		}
	}
	return n
}

// Complete reports whether every target accepted the schedule.
func (r Result) Complete() bool {
	return r.Err == nil && len(r.Targets) > 0 && r.Applied() == len(r.Targets)
}

// Partial reports a mixed outcome: some targets run the new schedule and
// some do not.
func (r Result) Partial() bool {
	applied := r.Applied()
	return applied > 0 && applied < len(r.Targets)
}

// Failed reports that no target accepted the schedule.
func (r Result) Failed() bool {
	return r.Applied() == 0
}

// ConfigurationError reports whether the deployment was refused before any
// target was touched.
func (r Result) ConfigurationError() bool {
	return errors.Is(r.Err, gcl.ErrConfiguration)
}

// Succeeded lists the IDs of targets that accepted the schedule, sorted.
func (r Result) Succeeded() []string {
	return r.ids(true)
}

// FailedTargets lists the IDs of targets that did not accept the schedule, sorted.
func (r Result) FailedTargets() []string {
	return r.ids(false)
}

func (r Result) ids(applied bool) []string {
	out := make([]string, 0, len(r.Targets))
	for id, t := range r.Targets {
		if t.Applied == applied {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Status maps the result to a record status.
func (r Result) Status() models.DeploymentStatus {
	switch {
	case r.ConfigurationError():
		return models.DeploymentConfigError
	case r.Complete():
		return models.DeploymentApplied
	case r.Partial():
		return models.DeploymentPartial
	default:
		return models.DeploymentFailed
	}
}
