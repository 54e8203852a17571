/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version reports build information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/gclsync/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the VCS revision, filled from build info when not set by ldflags.
var Commit = ""

// Info is the build description served by the status endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build description.
func Get() Info {
	commit := Commit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return Info{Version: Version, Commit: commit, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	if i.Commit == "" {
		return fmt.Sprintf("gclsync %s (%s)", i.Version, i.GoVersion)
	}
	return fmt.Sprintf("gclsync %s (%s, %s)", i.Version, i.Commit, i.GoVersion)
}
