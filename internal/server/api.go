/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/recordlog"
	"github.com/friendsincode/gclsync/internal/refresh"
	"github.com/friendsincode/gclsync/internal/topology"
	"github.com/friendsincode/gclsync/internal/version"
)

// LoopView is the read side of the refresh loop.
type LoopView interface {
	State() refresh.State
	Interval() time.Duration
	LastRecord() (models.DeploymentRecord, bool)
	LastGood() (models.Schedule, bool)
	History() *refresh.History
}

// RecordStore is the queryable record log.
type RecordStore interface {
	List(ctx context.Context, limit int, status models.DeploymentStatus) ([]models.DeploymentRecord, error)
	Latest(ctx context.Context) (models.DeploymentRecord, error)
	Counts(ctx context.Context) (map[models.DeploymentStatus]int64, error)
}

// TopologyView lists what the loop deploys to.
type TopologyView interface {
	Targets() []models.SwitchTarget
	Probe() topology.ProbePair
}

// API serves the read-only inspection endpoints.
type API struct {
	loop     LoopView
	records  RecordStore
	topology TopologyView
	leader   func() (bool, bool)
	logger   zerolog.Logger
}

// NewAPI creates the inspection API. records may be nil, in which case
// record queries are answered from the loop's in-memory history.
func NewAPI(loop LoopView, records RecordStore, topo TopologyView, logger zerolog.Logger) *API {
	return &API{loop: loop, records: records, topology: topo, logger: logger}
}

// WithLeader reports leadership in health and status responses.
func (a *API) WithLeader(isLeader func() bool) *API {
	a.leader = func() (bool, bool) { return isLeader(), true }
	return a
}

// Routes mounts the API.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Get("/targets", a.handleTargets)
		r.Get("/records", a.handleRecords)
		r.Get("/records/latest", a.handleLatest)
		r.Get("/records/summary", a.handleSummary)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "state": a.loop.State().String()}
	if a.leader != nil {
		resp["leader"], _ = a.leader()
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	State           string                   `json:"state"`
	IntervalSeconds float64                  `json:"interval_seconds"`
	Leader          *bool                    `json:"leader,omitempty"`
	LastGood        string                   `json:"last_good_schedule,omitempty"`
	LastRecord      *models.DeploymentRecord `json:"last_record,omitempty"`
	Version         version.Info             `json:"version"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:           a.loop.State().String(),
		IntervalSeconds: a.loop.Interval().Seconds(),
		Version:         version.Get(),
	}
	if a.leader != nil {
		leader, _ := a.leader()
		resp.Leader = &leader
	}
	if s, ok := a.loop.LastGood(); ok {
		resp.LastGood = s.String()
	}
	if rec, ok := a.loop.LastRecord(); ok {
		resp.LastRecord = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"targets": a.topology.Targets(),
		"probe":   a.topology.Probe(),
	})
}

// maxRecordsLimit caps ?limit= on the records listing.
const maxRecordsLimit = 1000

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxRecordsLimit)
	}
	status := models.DeploymentStatus(r.URL.Query().Get("status"))

	if a.records == nil {
		var out []models.DeploymentRecord
		for _, rec := range a.loop.History().Recent(0) {
			if status == "" || rec.Status == status {
				out = append(out, rec)
			}
			if len(out) == limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": nonNil(out)})
		return
	}

	records, err := a.records.List(r.Context(), limit, status)
	if err != nil {
		a.logger.Error().Err(err).Msg("list records failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": nonNil(records)})
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	if a.records == nil {
		rec, ok := a.loop.LastRecord()
		if !ok {
			writeError(w, http.StatusNotFound, "no_records")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	rec, err := a.records.Latest(r.Context())
	if errors.Is(err, recordlog.ErrNoRecords) {
		writeError(w, http.StatusNotFound, "no_records")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("latest record failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	var counts map[models.DeploymentStatus]int64
	if a.records == nil {
		counts = map[models.DeploymentStatus]int64{}
		for _, rec := range a.loop.History().Recent(0) {
			counts[rec.Status]++
		}
	} else {
		var err error
		counts, err = a.records.Counts(r.Context())
		if err != nil {
			a.logger.Error().Err(err).Msg("record counts failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func nonNil(records []models.DeploymentRecord) []models.DeploymentRecord {
	if records == nil {
		return []models.DeploymentRecord{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
