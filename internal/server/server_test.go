package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/gclsync/internal/config"
	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/recordlog"
	"github.com/friendsincode/gclsync/internal/refresh"
	"github.com/friendsincode/gclsync/internal/topology"
)

type stubLoop struct {
	history *refresh.History
	last    *models.DeploymentRecord
	good    models.Schedule
}

func (l *stubLoop) State() refresh.State      { return refresh.StateIdle }
func (l *stubLoop) Interval() time.Duration   { return 30 * time.Second }
func (l *stubLoop) History() *refresh.History { return l.history }

func (l *stubLoop) LastRecord() (models.DeploymentRecord, bool) {
	if l.last == nil {
		return models.DeploymentRecord{}, false
	}
	return *l.last, true
}

func (l *stubLoop) LastGood() (models.Schedule, bool) {
	return l.good, !l.good.IsZero()
}

func newStubLoop(records ...models.DeploymentRecord) *stubLoop {
	l := &stubLoop{history: refresh.NewHistory(10)}
	for i := range records {
		l.history.Add(records[i])
		l.last = &records[i]
	}
	return l
}

func serve(t *testing.T, api *API, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	api.Routes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthReportsLeadership(t *testing.T) {
	api := NewAPI(newStubLoop(), nil, topology.Default(), zerolog.Nop()).WithLeader(func() bool { return true })

	rr := serve(t, api, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	decode(t, rr, &body)
	if body["status"] != "ok" || body["state"] != "idle" || body["leader"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusIncludesLastRecord(t *testing.T) {
	loop := newStubLoop(models.DeploymentRecord{ID: "r1", Status: models.DeploymentApplied})
	loop.good = models.NewSchedule(200*time.Microsecond, []models.GateEntry{
		{GateState: 0x01, Duration: 100 * time.Microsecond},
		{GateState: 0x02, Duration: 100 * time.Microsecond},
	})
	api := NewAPI(loop, nil, topology.Default(), zerolog.Nop())

	rr := serve(t, api, "/api/v1/status")
	var body statusResponse
	decode(t, rr, &body)
	if body.LastRecord == nil || body.LastRecord.ID != "r1" {
		t.Fatalf("last record = %+v", body.LastRecord)
	}
	if body.LastGood == "" || body.IntervalSeconds != 30 || body.Leader != nil {
		t.Fatalf("body = %+v", body)
	}
}

func TestRecordsFromHistory(t *testing.T) {
	loop := newStubLoop(
		models.DeploymentRecord{ID: "a", Status: models.DeploymentApplied},
		models.DeploymentRecord{ID: "b", Status: models.DeploymentPartial},
		models.DeploymentRecord{ID: "c", Status: models.DeploymentApplied},
	)
	api := NewAPI(loop, nil, topology.Default(), zerolog.Nop())

	var body struct {
		Records []models.DeploymentRecord `json:"records"`
	}
	decode(t, serve(t, api, "/api/v1/records?status=applied&limit=1"), &body)
	if len(body.Records) != 1 || body.Records[0].ID != "c" {
		t.Fatalf("records = %+v", body.Records)
	}

	if rr := serve(t, api, "/api/v1/records?limit=zero"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}

	var summary struct {
		Counts map[string]int64 `json:"counts"`
	}
	decode(t, serve(t, api, "/api/v1/records/summary"), &summary)
	if summary.Counts["applied"] != 2 || summary.Counts["partial"] != 1 {
		t.Fatalf("counts = %v", summary.Counts)
	}
}

func TestRecordsFromStore(t *testing.T) {
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := database.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&models.DeploymentRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := recordlog.NewDB(database)
	api := NewAPI(newStubLoop(), store, topology.Default(), zerolog.Nop())

	if rr := serve(t, api, "/api/v1/records/latest"); rr.Code != http.StatusNotFound {
		t.Fatalf("empty latest status = %d", rr.Code)
	}

	now := time.Now().UTC()
	for i, status := range []models.DeploymentStatus{models.DeploymentFailed, models.DeploymentApplied} {
		rec := models.DeploymentRecord{Timestamp: now.Add(time.Duration(i) * time.Second), Status: status}
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var latest models.DeploymentRecord
	decode(t, serve(t, api, "/api/v1/records/latest"), &latest)
	if latest.Status != models.DeploymentApplied {
		t.Fatalf("latest = %+v", latest)
	}

	var body struct {
		Records []models.DeploymentRecord `json:"records"`
	}
	decode(t, serve(t, api, "/api/v1/records"), &body)
	if len(body.Records) != 2 {
		t.Fatalf("records = %d", len(body.Records))
	}
}

type limitStore struct {
	limit int
}

func (s *limitStore) List(_ context.Context, limit int, _ models.DeploymentStatus) ([]models.DeploymentRecord, error) {
	s.limit = limit
	return nil, nil
}

func (s *limitStore) Latest(context.Context) (models.DeploymentRecord, error) {
	return models.DeploymentRecord{}, recordlog.ErrNoRecords
}

func (s *limitStore) Counts(context.Context) (map[models.DeploymentStatus]int64, error) {
	return nil, nil
}

func TestRecordsLimitClamped(t *testing.T) {
	store := &limitStore{}
	api := NewAPI(newStubLoop(), store, topology.Default(), zerolog.Nop())

	if rr := serve(t, api, "/api/v1/records?limit=1000000"); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if store.limit != maxRecordsLimit {
		t.Fatalf("store asked for %d records, want %d", store.limit, maxRecordsLimit)
	}

	serve(t, api, "/api/v1/records?limit=7")
	if store.limit != 7 {
		t.Fatalf("store asked for %d records, want 7", store.limit)
	}
}

func TestTargetsListed(t *testing.T) {
	api := NewAPI(newStubLoop(), nil, topology.Default(), zerolog.Nop())
	var body struct {
		Targets []models.SwitchTarget `json:"targets"`
		Probe   topology.ProbePair    `json:"probe"`
	}
	decode(t, serve(t, api, "/api/v1/targets"), &body)
	if len(body.Targets) != 2 || body.Probe.Source != "h1" {
		t.Fatalf("body = %+v", body)
	}
}

func TestNewServesRoutes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GCLSYNC_DB_DSN", filepath.Join(dir, "gclsync.db"))
	t.Setenv("GCLSYNC_CSV_LOG", filepath.Join(dir, "experiment_data.csv"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics", "/api/v1/status", "/api/v1/records"} {
		rr := httptest.NewRecorder()
		srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rr.Code)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("GET %s missing security headers", path)
		}
	}
}

func TestSecurityHeadersSetHSTSOnHTTPS(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("expected HSTS behind HTTPS proxy")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("unexpected HSTS on plain HTTP")
	}
}
