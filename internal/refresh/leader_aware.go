/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/leadership"
)

// Runner is anything that runs until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// LeaderAware runs the wrapped loop only while this instance holds
// leadership, so two replicas never deploy to the same switches.
type LeaderAware struct {
	runner   Runner
	election leadership.Elector
	logger   zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeaderAware wraps runner with election.
func NewLeaderAware(runner Runner, election leadership.Elector, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_refresh").Logger(),
	}
}

// Start begins campaigning and watching for leadership changes.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.mu.Lock()
	la.ctx = ctx
	la.mu.Unlock()

	la.logger.Info().Msg("starting leader-aware refresh loop")
	if err := la.election.Start(ctx); err != nil {
		return err
	}

	go la.watch(ctx)
	return nil
}

// Stop halts the loop and gives up leadership.
func (la *LeaderAware) Stop() error {
	la.logger.Info().Msg("stopping leader-aware refresh loop")
	la.stopLoop()
	return la.election.Stop()
}

// Running reports whether the wrapped loop is active.
func (la *LeaderAware) Running() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.done != nil
}

// IsLeader reports whether this instance holds leadership.
func (la *LeaderAware) IsLeader() bool {
	return la.election.IsLeader()
}

func (la *LeaderAware) watch(ctx context.Context) {
	leaderCh := la.election.LeaderCh()

	if la.election.IsLeader() {
		la.startLoop()
	}

	for {
		select {
		case <-ctx.Done():
			la.stopLoop()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				la.logger.Info().Msg("became leader, starting refresh loop")
				la.startLoop()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping refresh loop")
				la.stopLoop()
			}
		}
	}
}

func (la *LeaderAware) startLoop() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(la.ctx)
	done := make(chan struct{})
	la.cancel = cancel
	la.done = done

	go func() {
		defer close(done)
		if err := la.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("refresh loop error")
		}
		la.mu.Lock()
		if la.done == done {
			la.done = nil
			la.cancel = nil
		}
		la.mu.Unlock()
		cancel()
	}()
}

// stopLoop cancels the loop and waits for the current cycle to finish. The
// loop counts as running until it has returned, so startLoop cannot overlap
// it with a second one.
func (la *LeaderAware) stopLoop() {
	la.mu.Lock()
	cancel, done := la.cancel, la.done
	la.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
