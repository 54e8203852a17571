/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recordlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/gclsync/internal/models"
)

// ErrNoRecords is returned by Latest on an empty log.
var ErrNoRecords = errors.New("no deployment records")

// DB stores records in the deployment_records table.
type DB struct {
	db *gorm.DB
}

// NewDB creates a database sink. The table must already be migrated.
func NewDB(db *gorm.DB) *DB {
	return &DB{db: db}
}

// Append implements Sink.
func (d *DB) Append(ctx context.Context, rec models.DeploymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := d.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert deployment record: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first. Status filters when set.
func (d *DB) List(ctx context.Context, limit int, status models.DeploymentStatus) ([]models.DeploymentRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := d.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.DeploymentRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list deployment records: %w", err)
	}
	return out, nil
}

// Latest returns the most recent record.
func (d *DB) Latest(ctx context.Context) (models.DeploymentRecord, error) {
	var rec models.DeploymentRecord
	err := d.db.WithContext(ctx).Order("timestamp DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, ErrNoRecords
	}
	if err != nil {
		return rec, fmt.Errorf("latest deployment record: %w", err)
	}
	return rec, nil
}

// Counts returns the number of records per status.
func (d *DB) Counts(ctx context.Context) (map[models.DeploymentStatus]int64, error) {
	var rows []struct {
		Status models.DeploymentStatus
		N      int64
	}
	err := d.db.WithContext(ctx).
		Model(&models.DeploymentRecord{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count deployment records: %w", err)
	}
	out := make(map[models.DeploymentStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
