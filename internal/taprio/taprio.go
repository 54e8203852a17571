/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package taprio renders gate schedules into tc taprio qdisc commands and
// interprets the textual responses of the shaping layer.
package taprio

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/friendsincode/gclsync/internal/models"
)

// ErrInvalidOptions indicates a descriptor that tc would reject outright.
var ErrInvalidOptions = errors.New("invalid taprio options")

// Clock domain selectors accepted by taprio.
const (
	ClockRealtime  = "CLOCK_REALTIME"
	ClockTAI       = "CLOCK_TAI"
	ClockMonotonic = "CLOCK_MONOTONIC"
	ClockBoottime  = "CLOCK_BOOTTIME"
)

var queueRe = regexp.MustCompile(`^\d+@\d+$`)

// Options describes everything in the descriptor except the interface,
// base time and schedule.
type Options struct {
	Verb        string   `yaml:"verb,omitempty"`
	NumTC       int      `yaml:"num_tc,omitempty"`
	PriorityMap []int    `yaml:"map,omitempty"`
	Queues      []string `yaml:"queues,omitempty"`
	ClockID     string   `yaml:"clockid,omitempty"`
	Flags       string   `yaml:"flags,omitempty"`
}

// DefaultOptions returns the two-class software taprio layout.
func DefaultOptions() Options {
	return Options{
		Verb:        "replace",
		NumTC:       2,
		PriorityMap: []int{0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		Queues:      []string{"1@0", "1@1"},
		ClockID:     ClockRealtime,
		Flags:       "0x0",
	}
}

// Merge overlays the non-zero fields of override onto o.
func (o Options) Merge(override Options) Options {
	out := o
	if override.Verb != "" {
		out.Verb = override.Verb
	}
	if override.NumTC > 0 {
		out.NumTC = override.NumTC
	}
	if len(override.PriorityMap) > 0 {
		out.PriorityMap = append([]int(nil), override.PriorityMap...)
	}
	if len(override.Queues) > 0 {
		out.Queues = append([]string(nil), override.Queues...)
	}
	if override.ClockID != "" {
		out.ClockID = override.ClockID
	}
	if override.Flags != "" {
		out.Flags = override.Flags
	}
	return out
}

// Validate checks the descriptor shape.
func (o Options) Validate() error {
	switch o.Verb {
	case "replace", "add":
	default:
		return fmt.Errorf("%w: verb %q must be replace or add", ErrInvalidOptions, o.Verb)
	}
	if o.NumTC < 1 || o.NumTC > 16 {
		return fmt.Errorf("%w: num_tc %d out of range", ErrInvalidOptions, o.NumTC)
	}
	if len(o.PriorityMap) != 16 {
		return fmt.Errorf("%w: map needs 16 priorities, got %d", ErrInvalidOptions, len(o.PriorityMap))
	}
	for i, tc := range o.PriorityMap {
		if tc < 0 || tc >= o.NumTC {
			return fmt.Errorf("%w: priority %d maps to class %d, only %d classes", ErrInvalidOptions, i, tc, o.NumTC)
		}
	}
	if len(o.Queues) < o.NumTC {
		return fmt.Errorf("%w: %d queue groups for %d classes", ErrInvalidOptions, len(o.Queues), o.NumTC)
	}
	for _, q := range o.Queues {
		if !queueRe.MatchString(q) {
			return fmt.Errorf("%w: queue group %q is not count@offset", ErrInvalidOptions, q)
		}
	}
	switch o.ClockID {
	case ClockRealtime, ClockTAI, ClockMonotonic, ClockBoottime:
	default:
		return fmt.Errorf("%w: unknown clockid %q", ErrInvalidOptions, o.ClockID)
	}
	if _, err := strconv.ParseUint(strings.TrimPrefix(o.Flags, "0x"), 16, 32); err != nil {
		return fmt.Errorf("%w: flags %q", ErrInvalidOptions, o.Flags)
	}
	return nil
}

// InstallArgs renders the tc arguments that install schedule on iface,
// activating at base.
func InstallArgs(iface string, schedule models.Schedule, base models.BaseTime, opts Options) []string {
	args := []string{"qdisc", opts.Verb, "dev", iface, "root", "taprio",
		"num_tc", strconv.Itoa(opts.NumTC), "map"}
	for _, tc := range opts.PriorityMap {
		args = append(args, strconv.Itoa(tc))
	}
	args = append(args, "queues")
	args = append(args, opts.Queues...)
	args = append(args, "base-time", strconv.FormatInt(base.Nanoseconds(), 10))
	for _, e := range schedule.Entries() {
		args = append(args, "sched-entry", "S", e.GateState.Hex(), strconv.FormatInt(e.Duration.Nanoseconds(), 10))
	}
	args = append(args, "clockid", opts.ClockID, "flags", opts.Flags)
	return args
}

// DeleteArgs renders the tc arguments that remove the root qdisc of iface.
func DeleteArgs(iface string) []string {
	return []string{"qdisc", "del", "dev", iface, "root"}
}

// Command joins a binary and its arguments for logs.
func Command(bin string, args []string) string {
	return bin + " " + strings.Join(args, " ")
}
