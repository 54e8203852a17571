/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DeploymentStatus summarizes the outcome of one refresh cycle.
type DeploymentStatus string

const (
	DeploymentApplied         DeploymentStatus = "applied"
	DeploymentPartial         DeploymentStatus = "partial"
	DeploymentFailed          DeploymentStatus = "failed"
	DeploymentRolledBack      DeploymentStatus = "rolled_back"
	DeploymentConfigError     DeploymentStatus = "config_error"
	DeploymentUnexpectedError DeploymentStatus = "unexpected_error"
)

// ApplyResult is the per-switch outcome of a deployment.
type ApplyResult struct {
	TargetID  string `json:"target_id"`
	Interface string `json:"interface"`
	Applied   bool   `json:"applied"`
	Attempts  int    `json:"attempts"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ApplyResults maps switch IDs to their apply outcome, with GORM scanner/valuer support.
type ApplyResults map[string]ApplyResult

func (r ApplyResults) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *ApplyResults) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*r = ApplyResults{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal ApplyResults: %v", value)
	}
	if len(raw) == 0 {
		*r = ApplyResults{}
		return nil
	}
	out := ApplyResults{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal apply results: %w", err)
	}
	*r = out
	return nil
}

// DeploymentRecord is one append-only row of the experiment log.
type DeploymentRecord struct {
	ID             string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp      time.Time        `gorm:"index" json:"timestamp"`
	SchedulerName  string           `gorm:"type:varchar(64);index" json:"scheduler_name"`
	CycleTimeNs    int64            `json:"cycle_time_ns"`
	Schedule       string           `gorm:"type:text" json:"schedule"`
	BaseTimeNs     int64            `json:"base_time_ns"`
	Status         DeploymentStatus `gorm:"type:varchar(32);index" json:"status"`
	TargetsTotal   int              `json:"targets_total"`
	TargetsApplied int              `json:"targets_applied"`
	Results        ApplyResults     `gorm:"type:text" json:"results"`
	LatencyMs      float64          `json:"latency_ms"`
	JitterMs       float64          `json:"jitter_ms"`
	AdherenceNs    int64            `json:"schedule_adherence_ns"`
	LeadSlackNs    int64            `json:"lead_slack_ns"`
	Error          string           `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (DeploymentRecord) TableName() string {
	return "deployment_records"
}

// Succeeded reports whether the cycle installed its own schedule everywhere.
func (r DeploymentRecord) Succeeded() bool {
	return r.Status == DeploymentApplied
}
