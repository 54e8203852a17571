/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package probe measures round trip latency, jitter and schedule adherence
// between hosts of the managed network.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/executor"
	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/telemetry"
)

// NoData marks a measurement that could not be taken. It is never a valid
// latency or jitter value.
const NoData = -1.0

// ErrNoSamples indicates every probe in a measurement failed.
var ErrNoSamples = errors.New("no successful probe samples")

var rttRe = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)

// Stats is the result of one latency/jitter measurement.
type Stats struct {
	LatencyMs float64 `json:"latency_ms"`
	JitterMs  float64 `json:"jitter_ms"`
	Sent      int     `json:"sent"`
	Received  int     `json:"received"`
}

// HasLatency reports whether LatencyMs holds a measured value.
func (s Stats) HasLatency() bool { return s.LatencyMs != NoData }

// HasJitter reports whether JitterMs holds a measured value.
func (s Stats) HasJitter() bool { return s.JitterMs != NoData }

// Config controls probe commands.
type Config struct {
	PingBin string
	// Timeout is passed to ping -W and bounds each probe.
	Timeout time.Duration
}

// DefaultConfig returns probe defaults.
func DefaultConfig() Config {
	return Config{PingBin: "ping", Timeout: time.Second}
}

// Prober issues ping probes through a Runner.
type Prober struct {
	runner executor.Runner
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewProber creates a prober.
func NewProber(runner executor.Runner, cfg Config, logger zerolog.Logger) *Prober {
	if cfg.PingBin == "" {
		cfg.PingBin = "ping"
	}
	if cfg.Timeout < time.Second {
		// ping -W takes whole seconds
		cfg.Timeout = time.Second
	}
	return &Prober{
		runner: runner,
		cfg:    cfg,
		logger: logger.With().Str("component", "probe").Logger(),
		now:    time.Now,
	}
}

// SampleLatencyJitter sends count independent probes from source to target,
// in order, and summarizes the successful ones.
func (p *Prober) SampleLatencyJitter(ctx context.Context, source, target models.Host, count int) (Stats, error) {
	ctx, span := telemetry.StartSpan(ctx, "probe", "probe.latency_jitter")
	defer span.End()

	if count < 1 {
		count = 1
	}
	stats := Stats{LatencyMs: NoData, JitterMs: NoData}
	samples := make([]float64, 0, count)

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		stats.Sent++
		rtt, err := p.ping(ctx, source, target)
		if err != nil {
			telemetry.ProbeSamplesTotal.WithLabelValues("failure").Inc()
			p.logger.Debug().Err(err).Str("source", source.ID).Str("target", target.ID).Int("probe", i+1).Msg("probe failed")
			continue
		}
		telemetry.ProbeSamplesTotal.WithLabelValues("success").Inc()
		samples = append(samples, rtt)
	}
	stats.Received = len(samples)

	if len(samples) == 0 {
		err := fmt.Errorf("%w: %s -> %s, %d sent", ErrNoSamples, source.ID, target.ID, stats.Sent)
		telemetry.RecordError(span, err)
		return stats, err
	}
	stats.LatencyMs = MeanLatency(samples)
	stats.JitterMs = MeanAbsDiff(samples)

	telemetry.AddSpanAttributes(span, map[string]any{
		"probe.sent":       stats.Sent,
		"probe.received":   stats.Received,
		"probe.latency_ms": stats.LatencyMs,
	})
	return stats, nil
}

func (p *Prober) ping(ctx context.Context, source, target models.Host) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout+time.Second)
	defer cancel()

	wait := strconv.Itoa(int(p.cfg.Timeout / time.Second))
	out, err := p.runner.Run(ctx, source.Namespace, p.cfg.PingBin, "-c", "1", "-W", wait, target.Address)
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", target.Address, err)
	}
	rtt, ok := ParseRTT(out)
	if !ok {
		return 0, fmt.Errorf("ping %s: no round trip time in output", target.Address)
	}
	return rtt, nil
}

// ScheduleAdherence returns |now - intended| with now sampled at call time.
func (p *Prober) ScheduleAdherence(intended models.BaseTime) time.Duration {
	return Adherence(intended, models.BaseTime(p.now().UnixNano()))
}

// Adherence returns the absolute deviation between two instants.
func Adherence(intended, observed models.BaseTime) time.Duration {
	d := observed.Nanoseconds() - intended.Nanoseconds()
	if d < 0 {
		d = -d
	}
	return time.Duration(d)
}

// ParseRTT extracts the round trip time in milliseconds from ping output.
func ParseRTT(output string) (float64, bool) {
	m := rttRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// MeanLatency is the arithmetic mean of samples, or NoData when empty.
func MeanLatency(samples []float64) float64 {
	if len(samples) == 0 {
		return NoData
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// MeanAbsDiff is the mean absolute difference of temporally adjacent
// samples, or NoData with fewer than two samples.
func MeanAbsDiff(samples []float64) float64 {
	if len(samples) < 2 {
		return NoData
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		sum += math.Abs(samples[i] - samples[i-1])
	}
	return sum / float64(len(samples)-1)
}
