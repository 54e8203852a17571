package deploy

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/executor"
	"github.com/friendsincode/gclsync/internal/gcl"
	"github.com/friendsincode/gclsync/internal/models"
)

func testSchedule() models.Schedule {
	return models.NewSchedule(200*time.Microsecond, []models.GateEntry{
		{GateState: 0x01, Duration: 60 * time.Microsecond},
		{GateState: 0x02, Duration: 70 * time.Microsecond},
		{GateState: 0x01, Duration: 70 * time.Microsecond},
	})
}

func testTargets() []models.SwitchTarget {
	return []models.SwitchTarget{
		{ID: "s1", Interface: "s1-eth1"},
		{ID: "s2", Interface: "s2-eth2"},
		{ID: "s3", Interface: "s3-eth1", Namespace: "s3"},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = time.Millisecond
	cfg.MaxBackoff = 4 * time.Millisecond
	cfg.CommandTimeout = time.Second
	return cfg
}

func futureBase() models.BaseTime {
	return models.NewBaseTime(time.Now(), 5*time.Second)
}

func isInstall(c executor.Call) bool {
	return len(c.Args) > 1 && c.Args[1] == "replace"
}

func iface(c executor.Call) string {
	for i, a := range c.Args {
		if a == "dev" && i+1 < len(c.Args) {
			return c.Args[i+1]
		}
	}
	return ""
}

func TestApplyAllTargetsSucceed(t *testing.T) {
	runner := &executor.FakeRunner{}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())
	base := futureBase()

	result := engine.Apply(context.Background(), testTargets(), testSchedule(), base)

	if !result.Complete() || result.Err != nil {
		t.Fatalf("expected complete result, got err=%v targets=%+v", result.Err, result.Targets)
	}
	if len(result.Targets) != 3 {
		t.Fatalf("expected 3 target results, got %d", len(result.Targets))
	}
	if result.Status() != models.DeploymentApplied {
		t.Fatalf("Status() = %s", result.Status())
	}

	installs := runner.CallsMatching("taprio")
	if len(installs) != 3 {
		t.Fatalf("expected 3 install calls, got %d", len(installs))
	}
	wantBase := "base-time " + strconv.FormatInt(base.Nanoseconds(), 10) + " "
	for _, c := range installs {
		if !strings.Contains(c.Line(), wantBase) {
			t.Fatalf("install calls disagree on base time: %q", c.Line())
		}
		if !strings.Contains(c.Line(), "sched-entry S 01 60000 sched-entry S 02 70000 sched-entry S 01 70000") {
			t.Fatalf("install call missing schedule: %q", c.Line())
		}
	}
	for _, c := range runner.Calls() {
		if iface(c) == "s3-eth1" && c.Namespace != "s3" {
			t.Fatalf("namespaced target ran outside its namespace: %+v", c)
		}
	}
}

func TestApplyRemovesExistingQdiscFirst(t *testing.T) {
	var mu sync.Mutex
	order := map[string][]string{}
	runner := &executor.FakeRunner{Handler: func(_ context.Context, c executor.Call) executor.Response {
		mu.Lock()
		order[iface(c)] = append(order[iface(c)], c.Args[1])
		mu.Unlock()
		if c.Args[1] == "del" {
			return executor.Response{
				Output: "Error: Cannot delete qdisc with handle of zero.",
				Err:    executor.ErrCommandFailed,
			}
		}
		return executor.Response{}
	}}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())

	result := engine.Apply(context.Background(), testTargets(), testSchedule(), futureBase())
	if !result.Complete() {
		t.Fatalf("absent qdisc must not fail the deployment: %+v", result.Targets)
	}
	for name, ops := range order {
		if len(ops) != 2 || ops[0] != "del" || ops[1] != "replace" {
			t.Fatalf("%s: unexpected command order %v", name, ops)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	runner := &executor.FakeRunner{}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())
	base := futureBase()

	first := engine.Apply(context.Background(), testTargets(), testSchedule(), base)
	second := engine.Apply(context.Background(), testTargets(), testSchedule(), base)

	if first.Status() != second.Status() || second.Status() != models.DeploymentApplied {
		t.Fatalf("repeated apply diverged: %s then %s", first.Status(), second.Status())
	}
	lines := func(calls []executor.Call) []string {
		out := make([]string, 0, len(calls))
		for _, c := range calls {
			out = append(out, c.Line())
		}
		sort.Strings(out)
		return out
	}
	installs := runner.CallsMatching("taprio")
	if len(installs) != 6 {
		t.Fatalf("expected 6 install calls, got %d", len(installs))
	}
	a, b := lines(installs[:3]), lines(installs[3:])
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("repeated apply rendered a different command:\n%s\n%s", a[i], b[i])
		}
	}
}

func TestApplyPartialFailure(t *testing.T) {
	runner := &executor.FakeRunner{Handler: func(_ context.Context, c executor.Call) executor.Response {
		if iface(c) == "s2-eth2" && isInstall(c) {
			return executor.Response{Output: "RTNETLINK answers: Invalid argument"}
		}
		return executor.Response{}
	}}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())

	result := engine.Apply(context.Background(), testTargets(), testSchedule(), futureBase())

	if len(result.Targets) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(result.Targets))
	}
	if !result.Partial() || result.Complete() {
		t.Fatalf("expected partial result, got %+v", result.Targets)
	}
	if result.Status() != models.DeploymentPartial {
		t.Fatalf("Status() = %s", result.Status())
	}
	if !errors.Is(result.Err, ErrDeployment) {
		t.Fatalf("Err = %v, want ErrDeployment", result.Err)
	}
	if got := result.FailedTargets(); len(got) != 1 || got[0] != "s2" {
		t.Fatalf("FailedTargets() = %v", got)
	}
	if got := result.Succeeded(); len(got) != 2 || got[0] != "s1" || got[1] != "s3" {
		t.Fatalf("Succeeded() = %v", got)
	}
	s2 := result.Targets["s2"]
	if s2.Attempts != 3 {
		t.Fatalf("expected 3 attempts on failing target, got %d", s2.Attempts)
	}
	if !strings.Contains(s2.Output, "RTNETLINK") {
		t.Fatalf("raw output not kept: %q", s2.Output)
	}
}

func TestApplyRetriesTransientFailure(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	runner := &executor.FakeRunner{Handler: func(_ context.Context, c executor.Call) executor.Response {
		if iface(c) != "s1-eth1" || !isInstall(c) {
			return executor.Response{}
		}
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return executor.Response{Output: "Error: device busy", Err: executor.ErrCommandFailed}
		}
		return executor.Response{}
	}}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())

	result := engine.Apply(context.Background(), testTargets(), testSchedule(), futureBase())
	if !result.Complete() {
		t.Fatalf("expected recovery after retries: %+v", result.Targets)
	}
	if result.Targets["s1"].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Targets["s1"].Attempts)
	}
	if result.Targets["s2"].Attempts != 1 {
		t.Fatalf("healthy target retried: %d attempts", result.Targets["s2"].Attempts)
	}
}

func TestApplyAllFail(t *testing.T) {
	runner := &executor.FakeRunner{Handler: func(_ context.Context, c executor.Call) executor.Response {
		if isInstall(c) {
			return executor.Response{Output: "Error: Unknown qdisc \"taprio\""}
		}
		return executor.Response{}
	}}
	cfg := fastConfig()
	cfg.Attempts = 1
	engine := NewEngine(runner, cfg, zerolog.Nop())

	result := engine.Apply(context.Background(), testTargets(), testSchedule(), futureBase())
	if !result.Failed() || result.Status() != models.DeploymentFailed {
		t.Fatalf("expected failed result, got %s", result.Status())
	}
	if len(result.Targets) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(result.Targets))
	}
}

func TestApplyRefusesBadInputs(t *testing.T) {
	past := models.NewBaseTime(time.Now(), -time.Second)
	tests := []struct {
		name     string
		targets  []models.SwitchTarget
		schedule models.Schedule
		base     models.BaseTime
	}{
		{"base in past", testTargets(), testSchedule(), past},
		{"empty schedule", testTargets(), models.Schedule{}, futureBase()},
		{"no targets", nil, testSchedule(), futureBase()},
		{"duplicate target", []models.SwitchTarget{{ID: "s1", Interface: "a"}, {ID: "s1", Interface: "b"}}, testSchedule(), futureBase()},
		{"bad sum", testTargets(), models.NewSchedule(time.Millisecond, []models.GateEntry{{GateState: 1, Duration: time.Microsecond * 100}}), futureBase()},
		{"negative entry", testTargets(), models.NewSchedule(200*time.Microsecond, []models.GateEntry{
			{GateState: 0x01, Duration: 300 * time.Microsecond},
			{GateState: 0x02, Duration: -100 * time.Microsecond},
		}), futureBase()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &executor.FakeRunner{}
			engine := NewEngine(runner, fastConfig(), zerolog.Nop())

			result := engine.Apply(context.Background(), tt.targets, tt.schedule, tt.base)
			if !errors.Is(result.Err, gcl.ErrConfiguration) {
				t.Fatalf("Err = %v, want configuration error", result.Err)
			}
			if result.Status() != models.DeploymentConfigError {
				t.Fatalf("Status() = %s", result.Status())
			}
			if n := len(runner.Calls()); n != 0 {
				t.Fatalf("refused deployment touched switches: %d calls", n)
			}
		})
	}
}

func TestApplyStopsRetryingOnCancel(t *testing.T) {
	runner := &executor.FakeRunner{Handler: func(_ context.Context, c executor.Call) executor.Response {
		if isInstall(c) {
			return executor.Response{Output: "Error: nope"}
		}
		return executor.Response{}
	}}
	cfg := fastConfig()
	cfg.Attempts = 10
	cfg.Backoff = time.Hour
	cfg.MaxBackoff = time.Hour
	engine := NewEngine(runner, cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- engine.Apply(ctx, testTargets(), testSchedule(), futureBase()) }()

	select {
	case result := <-done:
		if len(result.Targets) != 3 {
			t.Fatalf("expected 3 entries after cancel, got %d", len(result.Targets))
		}
		for id, r := range result.Targets {
			if r.Applied || r.Attempts != 1 {
				t.Fatalf("%s: unexpected outcome %+v", id, r)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Apply did not return after cancellation")
	}
}

func TestRollbackUsesPreviousSchedule(t *testing.T) {
	runner := &executor.FakeRunner{}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())
	previous := models.NewSchedule(time.Millisecond, []models.GateEntry{
		{GateState: 0x01, Duration: 500 * time.Microsecond},
		{GateState: 0x02, Duration: 500 * time.Microsecond},
	})

	result := engine.Rollback(context.Background(), testTargets(), previous, futureBase())
	if !result.Complete() {
		t.Fatalf("rollback failed: %v", result.Err)
	}
	for _, c := range runner.CallsMatching("taprio") {
		if !strings.Contains(c.Line(), "sched-entry S 01 500000 sched-entry S 02 500000") {
			t.Fatalf("rollback installed wrong schedule: %q", c.Line())
		}
	}
}

func TestApplyRefusesShortSlot(t *testing.T) {
	runner := &executor.FakeRunner{}
	cfg := fastConfig()
	cfg.MinSlot = 50 * time.Microsecond
	engine := NewEngine(runner, cfg, zerolog.Nop())

	short := models.NewSchedule(200*time.Microsecond, []models.GateEntry{
		{GateState: 0x01, Duration: 20 * time.Microsecond},
		{GateState: 0x02, Duration: 180 * time.Microsecond},
	})
	result := engine.Apply(context.Background(), testTargets(), short, futureBase())
	if !errors.Is(result.Err, gcl.ErrConfiguration) {
		t.Fatalf("Err = %v, want configuration error", result.Err)
	}
	if n := len(runner.Calls()); n != 0 {
		t.Fatalf("refused deployment touched switches: %d calls", n)
	}
}

func TestApplyTargetPanicBecomesFailure(t *testing.T) {
	runner := &executor.FakeRunner{Handler: func(_ context.Context, c executor.Call) executor.Response {
		if isInstall(c) && iface(c) == "s2-eth2" {
			panic("runner blew up")
		}
		return executor.Response{}
	}}
	engine := NewEngine(runner, fastConfig(), zerolog.Nop())

	result := engine.Apply(context.Background(), testTargets(), testSchedule(), futureBase())

	if len(result.Targets) != 3 {
		t.Fatalf("expected 3 target results, got %d", len(result.Targets))
	}
	s2 := result.Targets["s2"]
	if s2.Applied || !strings.HasPrefix(s2.Error, "panic: runner blew up") {
		t.Fatalf("s2 outcome %+v", s2)
	}
	if !result.Targets["s1"].Applied || !result.Targets["s3"].Applied {
		t.Fatalf("healthy targets not applied: %+v", result.Targets)
	}
	if result.Status() != models.DeploymentPartial || !errors.Is(result.Err, ErrDeployment) {
		t.Fatalf("Status() = %s err=%v", result.Status(), result.Err)
	}
}
