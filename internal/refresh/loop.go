/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package refresh periodically regenerates the gate schedule, deploys it to
// every switch and records what happened.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/deploy"
	"github.com/friendsincode/gclsync/internal/events"
	"github.com/friendsincode/gclsync/internal/gcl"
	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/probe"
	"github.com/friendsincode/gclsync/internal/recordlog"
	"github.com/friendsincode/gclsync/internal/taprio"
	"github.com/friendsincode/gclsync/internal/telemetry"
)

// State is the loop's coarse activity.
type State int32

const (
	StateIdle State = iota
	StateUpdating
)

func (s State) String() string {
	if s == StateUpdating {
		return "updating"
	}
	return "idle"
}

// Deployer pushes schedules to switches.
type Deployer interface {
	Apply(ctx context.Context, targets []models.SwitchTarget, schedule models.Schedule, base models.BaseTime) deploy.Result
	Rollback(ctx context.Context, targets []models.SwitchTarget, previous models.Schedule, base models.BaseTime) deploy.Result
	Options() taprio.Options
}

// Measurer takes latency, jitter and adherence measurements.
type Measurer interface {
	SampleLatencyJitter(ctx context.Context, source, target models.Host, count int) (probe.Stats, error)
	ScheduleAdherence(intended models.BaseTime) time.Duration
}

// Topology supplies targets and the probe pair.
type Topology interface {
	Targets() []models.SwitchTarget
	ProbeHosts() (source, target models.Host, ok bool)
}

// Deps are the collaborators of a Loop. Sink and Publisher are optional.
type Deps struct {
	Strategy  gcl.Strategy
	Deployer  Deployer
	Measurer  Measurer
	Topology  Topology
	Sink      recordlog.Sink
	Publisher events.Publisher
}

// Config controls loop timing and policy.
type Config struct {
	CycleTime  time.Duration
	LeadMargin time.Duration
	TAIOffset  time.Duration
	// Interval overrides the strategy's own refresh interval when positive.
	Interval          time.Duration
	FailureInterval   time.Duration
	ApplyTimeout      time.Duration
	RollbackOnPartial bool
	ProbeEnabled      bool
	ProbeCount        int
	// ProbeAfterActivation delays measurement until the new schedule is live.
	ProbeAfterActivation bool
	HistorySize          int
	// HistoryRetention drops in-memory records older than this after each
	// cycle. Zero keeps them until evicted by HistorySize.
	HistoryRetention time.Duration
}

// DefaultConfig returns loop defaults.
func DefaultConfig() Config {
	return Config{
		CycleTime:            200 * time.Microsecond,
		LeadMargin:           5 * time.Second,
		TAIOffset:            37 * time.Second,
		FailureInterval:      5 * time.Second,
		ApplyTimeout:         60 * time.Second,
		RollbackOnPartial:    true,
		ProbeEnabled:         true,
		ProbeCount:           5,
		ProbeAfterActivation: true,
		HistorySize:          64,
	}
}

// Loop runs refresh cycles until its context ends. A failing cycle never
// stops the loop.
type Loop struct {
	deps    Deps
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
	history *History

	state atomic.Int32

	mu       sync.RWMutex
	last     *models.DeploymentRecord
	lastGood models.Schedule
}

// New validates deps and creates a loop.
func New(deps Deps, cfg Config, logger zerolog.Logger) (*Loop, error) {
	if deps.Strategy == nil || deps.Deployer == nil || deps.Topology == nil {
		return nil, errors.New("refresh loop needs a strategy, a deployer and a topology")
	}
	if cfg.ProbeEnabled && deps.Measurer == nil {
		return nil, errors.New("probing enabled without a measurer")
	}
	if deps.Sink == nil {
		deps.Sink = recordlog.Discard{}
	}
	def := DefaultConfig()
	if cfg.LeadMargin <= 0 {
		cfg.LeadMargin = def.LeadMargin
	}
	if cfg.FailureInterval <= 0 {
		cfg.FailureInterval = def.FailureInterval
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = def.ApplyTimeout
	}
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = def.ProbeCount
	}

	return &Loop{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With().Str("component", "refresh").Str("scheduler", deps.Strategy.Name()).Logger(),
		now:     time.Now,
		history: NewHistory(cfg.HistorySize),
	}, nil
}

// State returns the current activity.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LastRecord returns the record of the most recent finished cycle.
func (l *Loop) LastRecord() (models.DeploymentRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return models.DeploymentRecord{}, false
	}
	return *l.last, true
}

// LastGood returns the schedule most recently applied to every target.
func (l *Loop) LastGood() (models.Schedule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastGood, !l.lastGood.IsZero()
}

// History returns the in-memory record history.
func (l *Loop) History() *History {
	return l.history
}

// Interval is the wait after a successful cycle.
func (l *Loop) Interval() time.Duration {
	if l.cfg.Interval > 0 {
		return l.cfg.Interval
	}
	return l.deps.Strategy.Interval()
}

// Run performs the initial configuration immediately, then one cycle per
// interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Dur("interval", l.Interval()).Msg("refresh loop started")

	for {
		if ctx.Err() != nil {
			l.logger.Info().Msg("refresh loop stopped")
			return ctx.Err()
		}
		rec := l.Cycle(ctx)

		wait := l.nextWait(rec)
		l.logger.Debug().Dur("wait", wait).Str("last_status", string(rec.Status)).Msg("waiting for next cycle")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info().Msg("refresh loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loop) nextWait(rec models.DeploymentRecord) time.Duration {
	wait := l.Interval()
	switch rec.Status {
	case models.DeploymentApplied, models.DeploymentConfigError:
		return wait
	}
	return min(wait, l.cfg.FailureInterval)
}

// Cycle runs one generate, deploy, measure and record pass and returns the
// record. Panics are recovered and recorded as unexpected errors.
func (l *Loop) Cycle(ctx context.Context) (rec models.DeploymentRecord) {
	l.state.Store(int32(StateUpdating))
	telemetry.RefreshState.Set(1)
	start := l.now()

	ctx, span := telemetry.StartSpan(ctx, "refresh", "refresh.cycle")

	rec = models.DeploymentRecord{
		ID:            uuid.NewString(),
		Timestamp:     start.UTC(),
		SchedulerName: l.deps.Strategy.Name(),
		CycleTimeNs:   l.cfg.CycleTime.Nanoseconds(),
		LatencyMs:     probe.NoData,
		JitterMs:      probe.NoData,
	}

	defer func() {
		if r := recover(); r != nil {
			telemetry.RefreshPanicsTotal.Inc()
			rec.Status = models.DeploymentUnexpectedError
			rec.Error = fmt.Sprintf("panic: %v", r)
			l.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("refresh cycle panicked")
		}
		if rec.Status == models.DeploymentUnexpectedError || rec.Status == models.DeploymentFailed {
			telemetry.RecordError(span, errors.New(rec.Error))
		}
		span.End()

		l.finish(ctx, rec, start)
		l.state.Store(int32(StateIdle))
		telemetry.RefreshState.Set(0)
	}()

	l.run(ctx, &rec)
	return rec
}

func (l *Loop) run(ctx context.Context, rec *models.DeploymentRecord) {
	schedule, err := l.deps.Strategy.Generate(l.cfg.CycleTime)
	if err != nil {
		rec.Status = statusFor(err)
		rec.Error = err.Error()
		l.logger.Error().Err(err).Msg("schedule generation failed, deployment blocked")
		return
	}
	rec.Schedule = schedule.String()

	targets := l.deps.Topology.Targets()
	rec.TargetsTotal = len(targets)

	issued := l.now()
	base := l.baseTime(issued)
	rec.BaseTimeNs = base.Nanoseconds()

	l.logger.Info().
		Int64("cycle_time", l.cfg.CycleTime.Nanoseconds()).
		Str("schedule", rec.Schedule).
		Int64("base_time", base.Nanoseconds()).
		Int("targets", len(targets)).
		Msg("deploying schedule")

	result := l.apply(ctx, func(ctx context.Context) deploy.Result {
		return l.deps.Deployer.Apply(ctx, targets, schedule, base)
	})

	// Deviation between issuing the schedule and every switch holding it.
	if l.deps.Measurer != nil {
		rec.AdherenceNs = l.deps.Measurer.ScheduleAdherence(models.NewBaseTime(issued, 0)).Nanoseconds()
	}
	activation := models.NewBaseTime(issued, l.cfg.LeadMargin)
	rec.LeadSlackNs = activation.Nanoseconds() - l.now().UnixNano()
	if rec.LeadSlackNs < 0 {
		l.logger.Warn().Int64("lead_slack_ns", rec.LeadSlackNs).Msg("apply finished after the activation time")
	}

	rec.Results = result.Targets
	rec.TargetsApplied = result.Applied()
	rec.Status = result.Status()
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}

	switch {
	case result.Complete():
		l.mu.Lock()
		l.lastGood = schedule
		l.mu.Unlock()
		l.measure(ctx, rec, activation)

	case result.ConfigurationError():
		l.logger.Error().Err(result.Err).Msg("deployment refused")

	default:
		l.rollback(ctx, rec, targets)
	}
}

// rollback reinstalls the last good schedule after a partial or failed
// deployment so that switches never run mismatched schedules.
func (l *Loop) rollback(ctx context.Context, rec *models.DeploymentRecord, targets []models.SwitchTarget) {
	previous, ok := l.LastGood()
	if !l.cfg.RollbackOnPartial || !ok {
		l.logger.Warn().
			Str("status", string(rec.Status)).
			Bool("rollback_enabled", l.cfg.RollbackOnPartial).
			Msg("deployment incomplete, no rollback performed")
		return
	}

	base := l.baseTime(l.now())
	rb := l.apply(ctx, func(ctx context.Context) deploy.Result {
		return l.deps.Deployer.Rollback(ctx, targets, previous, base)
	})
	if !rb.Complete() {
		rec.Error = fmt.Sprintf("%s; rollback failed: %v", rec.Error, rb.Err)
		l.logger.Error().Err(rb.Err).Strs("failed_targets", rb.FailedTargets()).Msg("rollback failed")
		return
	}
	rec.Status = models.DeploymentRolledBack
	rec.Error = fmt.Sprintf("%s; rolled back to %s at base time %d", rec.Error, previous.String(), base.Nanoseconds())
	l.logger.Warn().Int64("base_time", base.Nanoseconds()).Msg("rolled back to last good schedule")
}

// apply runs fn detached from ctx cancellation. A rollout that has started
// finishes on every target, bounded only by ApplyTimeout.
func (l *Loop) apply(ctx context.Context, fn func(context.Context) deploy.Result) deploy.Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ApplyTimeout)
	defer cancel()
	return fn(ctx)
}

func (l *Loop) measure(ctx context.Context, rec *models.DeploymentRecord, activation models.BaseTime) {
	if !l.cfg.ProbeEnabled || l.deps.Measurer == nil {
		return
	}
	source, target, ok := l.deps.Topology.ProbeHosts()
	if !ok {
		return
	}
	if l.cfg.ProbeAfterActivation {
		if wait := activation.Time().Sub(l.now()); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}

	stats, err := l.deps.Measurer.SampleLatencyJitter(ctx, source, target, l.cfg.ProbeCount)
	rec.LatencyMs = stats.LatencyMs
	rec.JitterMs = stats.JitterMs
	if err != nil {
		l.logger.Warn().Err(err).Str("source", source.ID).Str("target", target.ID).Msg("measurement failed")
	}
}

// baseTime derives the shared activation instant from issued.
func (l *Loop) baseTime(issued time.Time) models.BaseTime {
	base := models.NewBaseTime(issued, l.cfg.LeadMargin)
	if l.deps.Deployer.Options().ClockID == taprio.ClockTAI {
		base = base.Shift(l.cfg.TAIOffset)
	}
	return base
}

func (l *Loop) finish(ctx context.Context, rec models.DeploymentRecord, start time.Time) {
	l.history.Add(rec)
	if l.cfg.HistoryRetention > 0 {
		l.history.Prune(l.now().Add(-l.cfg.HistoryRetention))
	}
	l.mu.Lock()
	l.last = &rec
	l.mu.Unlock()

	telemetry.RefreshCyclesTotal.WithLabelValues(string(rec.Status)).Inc()
	telemetry.RefreshCycleDuration.Observe(l.now().Sub(start).Seconds())
	if rec.LatencyMs != probe.NoData {
		telemetry.ProbeLatencyMs.Set(rec.LatencyMs)
	}
	if rec.JitterMs != probe.NoData {
		telemetry.ProbeJitterMs.Set(rec.JitterMs)
	}
	if rec.Status != models.DeploymentConfigError && rec.BaseTimeNs != 0 {
		telemetry.ScheduleAdherenceNs.Set(float64(rec.AdherenceNs))
		telemetry.LeadSlackNs.Set(float64(rec.LeadSlackNs))
	}

	// Shutdown must not lose the record of the cycle it interrupted.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.deps.Sink.Append(sinkCtx, rec); err != nil {
		l.logger.Error().Err(err).Str("record", rec.ID).Msg("failed to append deployment record")
	}

	if l.deps.Publisher != nil {
		l.deps.Publisher.Publish(eventFor(rec.Status), payloadFor(rec))
	}

	l.logger.Info().
		Str("status", string(rec.Status)).
		Int("targets_applied", rec.TargetsApplied).
		Int("targets_total", rec.TargetsTotal).
		Float64("latency_ms", rec.LatencyMs).
		Float64("jitter_ms", rec.JitterMs).
		Int64("schedule_adherence_ns", rec.AdherenceNs).
		Msg("refresh cycle complete")
}

func statusFor(err error) models.DeploymentStatus {
	if errors.Is(err, gcl.ErrConfiguration) {
		return models.DeploymentConfigError
	}
	return models.DeploymentUnexpectedError
}

func eventFor(status models.DeploymentStatus) events.EventType {
	switch status {
	case models.DeploymentApplied:
		return events.EventDeployed
	case models.DeploymentPartial:
		return events.EventPartial
	case models.DeploymentRolledBack:
		return events.EventRolledBack
	case models.DeploymentConfigError:
		return events.EventConfigError
	default:
		return events.EventCycleFailed
	}
}

func payloadFor(rec models.DeploymentRecord) events.Payload {
	return events.Payload{
		"id":              rec.ID,
		"timestamp":       rec.Timestamp,
		"scheduler_name":  rec.SchedulerName,
		"status":          string(rec.Status),
		"cycle_time":      rec.CycleTimeNs,
		"sched_entries":   rec.Schedule,
		"base_time":       rec.BaseTimeNs,
		"targets_applied": rec.TargetsApplied,
		"targets_total":   rec.TargetsTotal,
		"latency_ms":      rec.LatencyMs,
		"jitter_ms":       rec.JitterMs,
		"error":           rec.Error,
	}
}
