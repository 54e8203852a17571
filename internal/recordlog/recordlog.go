/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recordlog persists one row per refresh cycle.
package recordlog

import (
	"context"
	"errors"

	"github.com/friendsincode/gclsync/internal/models"
)

// Sink accepts deployment records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Append(ctx context.Context, rec models.DeploymentRecord) error
}

// Multi fans a record out to every sink. All sinks are attempted and their
// errors joined.
type Multi []Sink

// Append implements Sink.
func (m Multi) Append(ctx context.Context, rec models.DeploymentRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

// Append implements Sink.
func (Discard) Append(context.Context, models.DeploymentRecord) error { return nil }
