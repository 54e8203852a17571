/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation seen by FakeRunner.
type Call struct {
	Namespace string
	Name      string
	Args      []string
}

// Line joins the call into a single command line.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is what FakeRunner returns for a matching call.
type Response struct {
	Output string
	Err    error
}

// FakeRunner is an in-memory Runner for tests. Handler decides the response
// for each call; without one every call succeeds with empty output.
type FakeRunner struct {
	Handler func(ctx context.Context, call Call) Response

	mu    sync.Mutex
	calls []Call
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, namespace, name string, args ...string) (string, error) {
	call := Call{Namespace: namespace, Name: name, Args: append([]string(nil), args...)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Handler == nil {
		return "", nil
	}
	resp := f.Handler(ctx, call)
	return resp.Output, resp.Err
}

// Calls returns a snapshot of every call so far.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsMatching returns the calls whose command line contains substr.
func (f *FakeRunner) CallsMatching(substr string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.Contains(c.Line(), substr) {
			out = append(out, c)
		}
	}
	return out
}
