/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package topology

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"

	"github.com/friendsincode/gclsync/internal/models"
)

// ErrMissingInterface indicates a shaped interface that does not exist.
var ErrMissingInterface = errors.New("interface not found")

// LinkStatus describes one verified interface.
type LinkStatus struct {
	TargetID  string `json:"target_id"`
	Interface string `json:"interface"`
	Index     int    `json:"index,omitempty"`
	OperState string `json:"oper_state"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// LinkChecker confirms shaped interfaces exist in the root namespace.
type LinkChecker struct {
	lookup func(name string) (netlink.Link, error)
	logger zerolog.Logger
}

// NewLinkChecker creates a checker backed by netlink.
func NewLinkChecker(logger zerolog.Logger) *LinkChecker {
	return &LinkChecker{
		lookup: netlink.LinkByName,
		logger: logger.With().Str("component", "link_checker").Logger(),
	}
}

// Verify looks up every root-namespace target interface. Namespaced targets
// are reported as skipped. All missing interfaces are joined into one error.
func (c *LinkChecker) Verify(targets []models.SwitchTarget) ([]LinkStatus, error) {
	statuses := make([]LinkStatus, 0, len(targets))
	var errs []error

	for _, t := range targets {
		st := LinkStatus{TargetID: t.ID, Interface: t.Interface}
		if t.Namespace != "" {
			st.Skipped = true
			st.OperState = "unknown"
			statuses = append(statuses, st)
			continue
		}

		link, err := c.lookup(t.Interface)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s on %s: %v", ErrMissingInterface, t.Interface, t.ID, err))
			st.OperState = "missing"
			statuses = append(statuses, st)
			continue
		}

		attrs := link.Attrs()
		st.Index = attrs.Index
		st.OperState = attrs.OperState.String()
		if attrs.OperState != netlink.OperUp && attrs.OperState != netlink.OperUnknown {
			c.logger.Warn().Str("target", t.ID).Str("interface", t.Interface).Str("oper_state", st.OperState).Msg("shaped interface is not up")
		}
		statuses = append(statuses, st)
	}

	return statuses, errors.Join(errs...)
}
