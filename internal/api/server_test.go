package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/lox/weatherwidget/internal/api"
	"github.com/lox/weatherwidget/internal/models"
	"github.com/lox/weatherwidget/internal/presenter"
	"github.com/lox/weatherwidget/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, zerolog.Nop())
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

// countingRefresher publishes its snapshot to the adapter like the poller does.
type countingRefresher struct {
	n       atomic.Int32
	adapter *presenter.Adapter
	bundle  *models.Bundle
	ctxErr  error
}

func (c *countingRefresher) Refresh(ctx context.Context) models.Snapshot {
	c.n.Add(1)
	c.ctxErr = ctx.Err()
	if c.bundle == nil {
		c.adapter.OnUpdate(nil, models.Score{}, models.StateNoData)
	} else {
		c.adapter.OnUpdate(c.bundle, models.Score{Value: 90, Available: true, Reason: models.ReasonOK}, models.StateSuccess)
	}
	return c.adapter.Latest()
}

func testBundle() *models.Bundle {
	loc := time.FixedZone("+03", 3*3600)
	start := time.Now().In(loc).Truncate(time.Hour)
	b := &models.Bundle{
		Current:              models.Current{Time: start, Temperature: 22.5, WeatherCode: 45, IsDay: true},
		Timezone:             "Europe/Istanbul",
		TimezoneAbbreviation: "+03",
		UTCOffsetSeconds:     3 * 3600,
		FetchedAt:            time.Now().UTC(),
	}
	for i := 1; i <= 24; i++ {
		b.Hourly.Time = append(b.Hourly.Time, start.Add(time.Duration(i)*time.Hour))
		b.Hourly.Temperature = append(b.Hourly.Temperature, 20)
		b.Hourly.WeatherCode = append(b.Hourly.WeatherCode, 80)
		b.Hourly.IsDay = append(b.Hourly.IsDay, true)
	}
	b.Daily.Time = []time.Time{start}
	b.Daily.TempMin = []float64{15}
	b.Daily.TempMax = []float64{25}
	b.Daily.WeatherCode = []int{3}
	return b
}

func newServer(t *testing.T) (*api.Server, *presenter.Adapter, *countingRefresher, *store.Store) {
	t.Helper()
	st := setupTestStore(t)
	adapter := presenter.New(zerolog.Nop())
	refresher := &countingRefresher{adapter: adapter}
	return api.NewServer(":0", adapter, refresher, st, zerolog.Nop()), adapter, refresher, st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, adapter, _, _ := newServer(t)
	h := srv.Handler()

	w := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 before first update, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"starting"`) {
		t.Errorf("expected starting status, got %s", w.Body.String())
	}

	adapter.OnUpdate(testBundle(), models.Score{}, models.StateUsingCache)
	w = get(t, h, "/health")
	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" || !health.Stale {
		t.Errorf("expected degraded+stale, got %+v", health)
	}

	adapter.OnUpdate(nil, models.Score{}, models.StateNoData)
	w = get(t, h, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with no data, got %d", w.Code)
	}
}

func TestHealthEndpoint_IncludesFetchRuns(t *testing.T) {
	srv, adapter, _, st := newServer(t)
	ctx := context.Background()

	run, err := st.StartFetchRun(ctx, "41.0082,28.9784", "startup")
	if err != nil {
		t.Fatal(err)
	}
	run.Success = true
	run.State = sql.NullString{String: "success", Valid: true}
	if err := st.CompleteFetchRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	adapter.OnUpdate(testBundle(), models.Score{}, models.StateSuccess)

	var health api.HealthStatus
	if err := json.Unmarshal(get(t, srv.Handler(), "/health").Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("expected ok, got %q", health.Status)
	}
	if health.Today == nil || health.Today.Total != 1 || health.Today.Success != 1 {
		t.Errorf("expected one successful run today, got %+v", health.Today)
	}
}

func TestAPICurrent(t *testing.T) {
	srv, adapter, _, _ := newServer(t)
	h := srv.Handler()

	if w := get(t, h, "/api/current"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without data, got %d", w.Code)
	}

	adapter.SetLocation(models.Coordinates{Latitude: 41.0082, Longitude: 28.9784})
	score := models.Score{Value: 75, Available: true, Reason: models.ReasonOK, Explanation: "predicted 20.5°, observed 22.5°, error 2.0°"}
	adapter.OnUpdate(testBundle(), score, models.StateSuccess)

	w := get(t, h, "/api/current")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cur api.CurrentView
	if err := json.Unmarshal(w.Body.Bytes(), &cur); err != nil {
		t.Fatal(err)
	}
	if cur.Temperature == nil || *cur.Temperature != 22.5 {
		t.Errorf("unexpected temperature %v", cur.Temperature)
	}
	if cur.Description != "Fog" || cur.Condition != "fog" {
		t.Errorf("unexpected description %q / condition %q", cur.Description, cur.Condition)
	}
	if cur.Score.Value != 75 || cur.Score.Reason != "ok" {
		t.Errorf("unexpected score %+v", cur.Score)
	}
	if cur.Latitude != 41.0082 {
		t.Errorf("unexpected latitude %v", cur.Latitude)
	}
}

func TestAPIForecast(t *testing.T) {
	srv, adapter, _, _ := newServer(t)
	adapter.OnUpdate(testBundle(), models.Score{}, models.StateSuccess)

	w := get(t, srv.Handler(), "/api/forecast?step=2&hours=3&days=5")
	var view api.ForecastView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Hours) != 3 {
		t.Fatalf("expected 3 hours, got %d", len(view.Hours))
	}
	if got := view.Hours[1].Time.Sub(view.Hours[0].Time); got != 2*time.Hour {
		t.Errorf("expected 2h step, got %v", got)
	}
	if view.Hours[0].Description != "Slight rain showers" {
		t.Errorf("unexpected description %q", view.Hours[0].Description)
	}
	if len(view.Days) != 1 || view.Days[0].Condition != "cloudy" {
		t.Errorf("unexpected days %+v", view.Days)
	}
}

func TestAPIHistory(t *testing.T) {
	srv, _, _, st := newServer(t)
	ctx := context.Background()
	for _, trigger := range []string{"startup", "timer", "manual"} {
		run, err := st.StartFetchRun(ctx, "41.0082,28.9784", trigger)
		if err != nil {
			t.Fatal(err)
		}
		if err := st.CompleteFetchRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	var runs []api.RunJSON
	if err := json.Unmarshal(get(t, srv.Handler(), "/api/history?limit=2").Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Trigger != "manual" || runs[0].FinishedAt == nil {
		t.Errorf("unexpected latest run %+v", runs[0])
	}
}

func TestAPIRefresh(t *testing.T) {
	srv, _, refresher, _ := newServer(t)
	h := srv.Handler()

	if w := get(t, h, "/api/refresh"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", w.Code)
	}

	refresher.bundle = testBundle()
	req := httptest.NewRequest("POST", "/api/refresh", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if refresher.n.Load() != 1 {
		t.Errorf("expected one refresh, got %d", refresher.n.Load())
	}
	var cur api.CurrentView
	if err := json.Unmarshal(w.Body.Bytes(), &cur); err != nil {
		t.Fatal(err)
	}
	if cur.State != "success" || cur.Score.Value != 90 {
		t.Errorf("unexpected snapshot %+v", cur)
	}
}

func TestAPIRefresh_NoData(t *testing.T) {
	srv, _, _, _ := newServer(t)

	req := httptest.NewRequest("POST", "/api/refresh", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAPIRefresh_DetachedFromRequest(t *testing.T) {
	srv, _, refresher, _ := newServer(t)
	refresher.bundle = testBundle()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/refresh", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if refresher.ctxErr != nil {
		t.Errorf("refresh saw cancelled context: %v", refresher.ctxErr)
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, _ := newServer(t)
	w := get(t, srv.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collector output")
	}
}
