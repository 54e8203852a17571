/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/config"
	"github.com/friendsincode/gclsync/internal/deploy"
	"github.com/friendsincode/gclsync/internal/executor"
	"github.com/friendsincode/gclsync/internal/gcl"
	"github.com/friendsincode/gclsync/internal/probe"
	"github.com/friendsincode/gclsync/internal/refresh"
	"github.com/friendsincode/gclsync/internal/topology"
)

// Toolkit is the set of components shared by the daemon and the one-shot
// CLI commands.
type Toolkit struct {
	Topology *topology.Static
	Strategy gcl.Strategy
	Runner   executor.Runner
	Engine   *deploy.Engine
	Prober   *probe.Prober
}

// LoadTopology reads the configured topology file, or the built-in one.
func LoadTopology(cfg *config.Config) (*topology.Static, error) {
	if cfg.TopologyFile == "" {
		return topology.Default(), nil
	}
	topo, err := topology.LoadFile(cfg.TopologyFile)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	return topo, nil
}

// NewToolkit builds the scheduling, deployment and measurement components.
// runner may be nil to execute commands on this host.
func NewToolkit(cfg *config.Config, runner executor.Runner, logger zerolog.Logger) (*Toolkit, error) {
	topo, err := LoadTopology(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.VerifyInterfaces {
		statuses, err := topology.NewLinkChecker(logger).Verify(topo.Targets())
		if err != nil {
			return nil, err
		}
		for _, st := range statuses {
			if !st.Skipped {
				logger.Info().Str("target", st.TargetID).Str("interface", st.Interface).Str("oper_state", st.OperState).Msg("shaping interface present")
			}
		}
	}

	strategy, err := gcl.New(cfg.Strategy, cfg.SchedulerConfig())
	if err != nil {
		return nil, fmt.Errorf("build %s strategy: %w", cfg.Strategy, err)
	}

	if runner == nil {
		runner = executor.NewLocalRunner(cfg.UseSudo, logger)
	}

	dc := deploy.DefaultConfig()
	dc.TCBin = cfg.TCBin
	// Shaping options in the topology file take precedence over the environment.
	dc.Options = cfg.TaprioOptions().Merge(topo.Shaping())
	dc.Attempts = cfg.ApplyAttempts
	dc.Backoff = cfg.ApplyBackoff
	dc.CommandTimeout = cfg.CommandTimeout
	dc.MinSlot = cfg.MinSlot
	if err := dc.Options.Validate(); err != nil {
		return nil, err
	}

	pc := probe.DefaultConfig()
	pc.PingBin = cfg.PingBin
	pc.Timeout = cfg.ProbeTimeout

	return &Toolkit{
		Topology: topo,
		Strategy: strategy,
		Runner:   runner,
		Engine:   deploy.NewEngine(runner, dc, logger),
		Prober:   probe.NewProber(runner, pc, logger),
	}, nil
}

// LoopConfig maps the environment onto refresh loop settings.
func LoopConfig(cfg *config.Config, topo *topology.Static) refresh.Config {
	rc := refresh.DefaultConfig()
	rc.CycleTime = cfg.CycleTime
	rc.LeadMargin = cfg.LeadMargin
	rc.TAIOffset = cfg.TAIOffset
	rc.Interval = cfg.RefreshInterval
	rc.FailureInterval = cfg.FailureInterval
	rc.ApplyTimeout = cfg.ApplyTimeout
	rc.RollbackOnPartial = cfg.RollbackOnPartial
	rc.ProbeEnabled = cfg.ProbeEnabled
	rc.ProbeCount = cfg.ProbeCount
	rc.HistorySize = cfg.HistorySize
	rc.HistoryRetention = cfg.HistoryRetention
	if n := topo.Probe().Count; n > 0 {
		rc.ProbeCount = n
	}
	return rc
}
