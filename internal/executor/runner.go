/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package executor runs shaping and probe commands on switches and hosts.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrCommandFailed indicates the command ran but exited non-zero.
var ErrCommandFailed = errors.New("command failed")

// Runner executes a command inside a network namespace and returns its
// combined stdout and stderr. An empty namespace means the root namespace.
type Runner interface {
	Run(ctx context.Context, namespace, name string, args ...string) (string, error)
}

// DefaultWaitDelay bounds how long Run waits for output pipes to close after
// the command is killed.
const DefaultWaitDelay = time.Second

// LocalRunner runs commands on this machine with os/exec.
type LocalRunner struct {
	sudo      bool
	waitDelay time.Duration
	logger    zerolog.Logger
}

// NewLocalRunner creates a runner. With sudo set every command is prefixed
// with sudo.
func NewLocalRunner(sudo bool, logger zerolog.Logger) *LocalRunner {
	return &LocalRunner{
		sudo:      sudo,
		waitDelay: DefaultWaitDelay,
		logger:    logger.With().Str("component", "command_runner").Logger(),
	}
}

// Argv builds the full argument vector for a command.
func (r *LocalRunner) Argv(namespace, name string, args ...string) []string {
	argv := make([]string, 0, len(args)+6)
	if r.sudo {
		argv = append(argv, "sudo")
	}
	if namespace != "" {
		argv = append(argv, "ip", "netns", "exec", namespace)
	}
	argv = append(argv, name)
	return append(argv, args...)
}

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, namespace, name string, args ...string) (string, error) {
	argv := r.Argv(namespace, name, args...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	// Each command leads its own process group so a timeout also kills
	// whatever it spawned (tc under sudo, a backgrounded ping).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = r.waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug().Str("namespace", namespace).Str("cmd", strings.Join(argv, " ")).Msg("running command")

	runErr := cmd.Run()
	output := out.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, fmt.Errorf("%s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return output, nil
	case errors.As(runErr, &exitErr):
		return output, fmt.Errorf("%w: %s exited with code %d", ErrCommandFailed, name, exitErr.ExitCode())
	default:
		// binary missing, permission denied
		return output, fmt.Errorf("run %s: %w", name, runErr)
	}
}
