/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package taprio

import "strings"

// FailureMarkers are substrings in tc output that signal a rejected command.
// Matching is case-sensitive except for "failed".
var FailureMarkers = []string{
	"Error",
	"RTNETLINK answers",
	"Cannot find device",
	"Unknown qdisc",
	"Invalid argument",
}

// AbsentMarkers are responses to a delete when nothing was installed.
var AbsentMarkers = []string{
	"No such file or directory",
	"Cannot delete qdisc with handle of zero",
	"Invalid handle",
}

// Outcome is the structured reading of one tc response.
type Outcome struct {
	OK     bool
	Absent bool
	Marker string
}

// Classify reads raw tc output. Empty output or output without a failure
// marker is success.
func Classify(output string) Outcome {
	for _, m := range AbsentMarkers {
		if strings.Contains(output, m) {
			return Outcome{OK: false, Absent: true, Marker: m}
		}
	}
	for _, m := range FailureMarkers {
		if strings.Contains(output, m) {
			return Outcome{OK: false, Marker: m}
		}
	}
	if strings.Contains(strings.ToLower(output), "failed") {
		return Outcome{OK: false, Marker: "failed"}
	}
	return Outcome{OK: true}
}

// DeleteSucceeded treats a missing qdisc as a successful delete.
func (o Outcome) DeleteSucceeded() bool {
	return o.OK || o.Absent
}
