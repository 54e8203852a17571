/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package deploy installs gate schedules on a set of switches so that every
// switch activates the same schedule at the same base time.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/gclsync/internal/executor"
	"github.com/friendsincode/gclsync/internal/gcl"
	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/taprio"
	"github.com/friendsincode/gclsync/internal/telemetry"
)

var (
	// ErrDeployment indicates at least one target did not accept the schedule.
	ErrDeployment = errors.New("deployment failed")

	// ErrRejected indicates the shaping layer printed a failure marker.
	ErrRejected = errors.New("shaping layer rejected configuration")
)

// Config controls how schedules are pushed to targets.
type Config struct {
	TCBin          string
	Options        taprio.Options
	Attempts       int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	CommandTimeout time.Duration
	// MinSlot is the shortest dwell accepted for any entry but the last.
	// Zero only requires positive durations.
	MinSlot time.Duration
	// Concurrency bounds parallel targets; zero means one worker per target.
	Concurrency int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		TCBin:          "tc",
		Options:        taprio.DefaultOptions(),
		Attempts:       3,
		Backoff:        500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		CommandTimeout: 10 * time.Second,
	}
}

// Engine applies schedules to switch targets through a Runner.
type Engine struct {
	runner executor.Runner
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a deployment engine. Zero config fields fall back to
// DefaultConfig values.
func NewEngine(runner executor.Runner, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.TCBin == "" {
		cfg.TCBin = def.TCBin
	}
	cfg.Options = def.Options.Merge(cfg.Options)
	if cfg.Attempts < 1 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.Backoff)
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}

	return &Engine{
		runner: runner,
		cfg:    cfg,
		logger: logger.With().Str("component", "deploy").Logger(),
	}
}

// Options returns the effective taprio options.
func (e *Engine) Options() taprio.Options {
	return e.cfg.Options
}

// Apply installs schedule on every target with the shared base time. It
// always waits for every target before returning.
func (e *Engine) Apply(ctx context.Context, targets []models.SwitchTarget, schedule models.Schedule, base models.BaseTime) Result {
	return e.run(ctx, "apply", targets, schedule, base)
}

// Rollback reinstalls a previously good schedule on every target. The caller
// supplies a fresh base time.
func (e *Engine) Rollback(ctx context.Context, targets []models.SwitchTarget, previous models.Schedule, base models.BaseTime) Result {
	return e.run(ctx, "rollback", targets, previous, base)
}

func (e *Engine) run(ctx context.Context, op string, targets []models.SwitchTarget, schedule models.Schedule, base models.BaseTime) Result {
	ctx, span := telemetry.StartSpan(ctx, "deploy", "deploy."+op)
	defer span.End()

	start := time.Now()
	result := Result{Schedule: schedule, BaseTime: base}

	if err := e.precheck(targets, schedule, base, start); err != nil {
		result.Err = err
		telemetry.RecordError(span, err)
		e.logger.Error().Err(err).Str("operation", op).Msg("deployment refused")
		return result
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"gcl.operation":  op,
		"gcl.targets":    len(targets),
		"gcl.base_time":  base.Nanoseconds(),
		"gcl.cycle_time": schedule.CycleTime().Nanoseconds(),
	})

	outcomes := make([]models.ApplyResult, len(targets))
	var g errgroup.Group
	if e.cfg.Concurrency > 0 {
		g.SetLimit(e.cfg.Concurrency)
	}
	for i, target := range targets {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = models.ApplyResult{
						TargetID:  target.ID,
						Interface: target.Interface,
						Error:     fmt.Sprintf("panic: %v", r),
					}
					e.logger.Error().
						Interface("panic", r).
						Str("target", target.ID).
						Str("stack", string(debug.Stack())).
						Msg("target apply panicked")
				}
			}()
			outcomes[i] = e.applyTarget(ctx, target, schedule, base)
			return nil
		})
	}
	_ = g.Wait()

	result.Targets = make(models.ApplyResults, len(outcomes))
	for _, o := range outcomes {
		result.Targets[o.TargetID] = o
	}
	result.Duration = time.Since(start)
	telemetry.DeployDuration.WithLabelValues(op).Observe(result.Duration.Seconds())
	telemetry.DeployTargetsApplied.Set(float64(result.Applied()))

	if failed := result.FailedTargets(); len(failed) > 0 {
		result.Err = fmt.Errorf("%w: %d of %d targets did not apply: %s",
			ErrDeployment, len(failed), len(targets), strings.Join(failed, ", "))
		telemetry.RecordError(span, result.Err)
		e.logger.Warn().
			Str("operation", op).
			Strs("failed_targets", failed).
			Strs("applied_targets", result.Succeeded()).
			Msg("deployment incomplete")
		return result
	}

	e.logger.Info().
		Str("operation", op).
		Int("targets", len(targets)).
		Int64("base_time", base.Nanoseconds()).
		Str("schedule", schedule.String()).
		Dur("duration", result.Duration).
		Msg("schedule applied to all targets")
	return result
}

// precheck refuses deployments that could only half-succeed.
func (e *Engine) precheck(targets []models.SwitchTarget, schedule models.Schedule, base models.BaseTime, now time.Time) error {
	if len(targets) == 0 {
		return &gcl.ConfigError{Field: "targets", Reason: "no switch targets configured"}
	}
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t.ID == "" || t.Interface == "" {
			return &gcl.ConfigError{Field: "targets", Reason: fmt.Sprintf("target %q has no id or interface", t.ID)}
		}
		if _, dup := seen[t.ID]; dup {
			return &gcl.ConfigError{Field: "targets", Reason: fmt.Sprintf("duplicate target id %q", t.ID)}
		}
		seen[t.ID] = struct{}{}
	}
	if err := schedule.Validate(e.cfg.MinSlot); err != nil {
		return &gcl.ConfigError{Field: "schedule", Reason: err.Error()}
	}
	if !base.After(now) {
		return &gcl.ConfigError{Field: "base_time", Reason: fmt.Sprintf("base time %d is not in the future", base.Nanoseconds())}
	}
	if err := e.cfg.Options.Validate(); err != nil {
		return &gcl.ConfigError{Field: "taprio", Reason: err.Error()}
	}
	return nil
}

// applyTarget retries one target with exponential backoff until it accepts
// the schedule, attempts run out, or ctx is done.
func (e *Engine) applyTarget(ctx context.Context, target models.SwitchTarget, schedule models.Schedule, base models.BaseTime) models.ApplyResult {
	res := models.ApplyResult{TargetID: target.ID, Interface: target.Interface}
	logger := e.logger.With().Str("target", target.ID).Str("interface", target.Interface).Logger()
	install := taprio.InstallArgs(target.Interface, schedule, base, e.cfg.Options)

	delay := e.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		res.Attempts = attempt

		out, err := e.installOnce(ctx, target, install)
		res.Output = strings.TrimSpace(out)
		if err == nil {
			res.Applied = true
			telemetry.DeployAttemptsTotal.WithLabelValues(target.ID, "success").Inc()
			logger.Debug().Int("attempt", attempt).Msg("target accepted schedule")
			return res
		}

		lastErr = err
		telemetry.DeployAttemptsTotal.WithLabelValues(target.ID, "failure").Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Str("output", res.Output).Msg("apply attempt failed")

		if attempt == e.cfg.Attempts {
			break
		}
		if !sleep(ctx, delay) {
			lastErr = fmt.Errorf("%w; retries aborted: %v", err, ctx.Err())
			break
		}
		delay = min(delay*2, e.cfg.MaxBackoff)
	}

	res.Error = lastErr.Error()
	logger.Error().
		Err(lastErr).
		Int("attempts", res.Attempts).
		Str("output", res.Output).
		Msg("target did not accept schedule")
	return res
}

// installOnce removes any existing root qdisc and installs the new one.
func (e *Engine) installOnce(ctx context.Context, target models.SwitchTarget, install []string) (string, error) {
	out, err := e.exec(ctx, target.Namespace, taprio.DeleteArgs(target.Interface))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("remove qdisc: %w", ctxErr)
	}
	outcome := taprio.Classify(out)
	switch {
	case outcome.Absent:
	case err != nil:
		return out, fmt.Errorf("remove qdisc: %w", err)
	case !outcome.OK:
		return out, fmt.Errorf("remove qdisc: %w: %s", ErrRejected, outcome.Marker)
	}

	out, err = e.exec(ctx, target.Namespace, install)
	if err != nil {
		return out, fmt.Errorf("install taprio: %w", err)
	}
	if outcome := taprio.Classify(out); !outcome.OK {
		return out, fmt.Errorf("install taprio: %w: %s", ErrRejected, outcome.Marker)
	}
	return out, nil
}

func (e *Engine) exec(ctx context.Context, namespace string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	return e.runner.Run(ctx, namespace, e.cfg.TCBin, args...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
