package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/weatherwidget/internal/forecast"
	"github.com/lox/weatherwidget/internal/models"
)

type HealthStatus struct {
	Status    string         `json:"status"`
	State     string         `json:"state"`
	Stale     bool           `json:"stale"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"`
	Today     *DayHealthView `json:"today,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

type DayHealthView struct {
	Date    string `json:"date"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Cached  int    `json:"cached"`
	NoData  int    `json:"no_data"`
}

type ScoreView struct {
	Value       int    `json:"value"`
	Available   bool   `json:"available"`
	Reason      string `json:"reason"`
	Explanation string `json:"explanation"`
}

type CurrentView struct {
	State       string    `json:"state"`
	Stale       bool      `json:"stale"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	UpdatedAt   time.Time `json:"updated_at"`
	Time        time.Time `json:"time"`
	FetchedAt   time.Time `json:"fetched_at"`
	Timezone    string    `json:"timezone"`
	Temperature *float64  `json:"temperature"`
	WeatherCode int       `json:"weather_code"`
	Description string    `json:"description"`
	Condition   string    `json:"condition"`
	IsDay       bool      `json:"is_day"`
	Score       ScoreView `json:"score"`
}

type HourJSON struct {
	Time        time.Time `json:"time"`
	Temperature *float64  `json:"temperature"`
	WeatherCode int       `json:"weather_code"`
	Description string    `json:"description"`
	Condition   string    `json:"condition"`
}

type DayJSON struct {
	Date        string   `json:"date"`
	Min         *float64 `json:"min"`
	Max         *float64 `json:"max"`
	WeatherCode int      `json:"weather_code"`
	Description string   `json:"description"`
	Condition   string   `json:"condition"`
}

type ForecastView struct {
	Hours []HourJSON `json:"hours"`
	Days  []DayJSON  `json:"days"`
}

type RunJSON struct {
	ID           int64      `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Location     string     `json:"location"`
	Trigger      string     `json:"trigger"`
	State        string     `json:"state,omitempty"`
	Attempts     int64      `json:"attempts"`
	HTTPStatus   int64      `json:"http_status,omitempty"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Latest()
	health := HealthStatus{
		State: snap.State.String(),
		Stale: snap.Stale,
	}
	if !snap.UpdatedAt.IsZero() {
		health.UpdatedAt = &snap.UpdatedAt
	}
	if snap.Bundle != nil {
		health.FetchedAt = &snap.Bundle.FetchedAt
	}

	status := http.StatusOK
	switch snap.State {
	case models.StateSuccess:
		health.Status = "ok"
	case models.StateUsingCache:
		health.Status = "degraded"
	case models.StateIdle, models.StateFetching:
		health.Status = "starting"
		if snap.Bundle != nil {
			health.Status = "ok"
		}
	default:
		health.Status = "error"
		status = http.StatusServiceUnavailable
	}

	if s.history != nil {
		days, err := s.history.GetFetchHealth(r.Context(), 1)
		if err != nil {
			health.Errors = append(health.Errors, "fetch history: "+err.Error())
		} else if len(days) > 0 {
			d := days[0]
			health.Today = &DayHealthView{Date: d.Date, Total: d.TotalRuns, Success: d.SuccessRuns, Cached: d.CachedRuns, NoData: d.NoDataRuns}
		}
	}

	writeJSON(w, status, health)
}

func (s *Server) handleAPICurrent(w http.ResponseWriter, r *http.Request) {
	writeSnapshot(w, s.source.Latest())
}

func writeSnapshot(w http.ResponseWriter, snap models.Snapshot) {
	if snap.Bundle == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"state": snap.State.String(), "error": "no weather data"})
		return
	}
	b := snap.Bundle
	writeJSON(w, http.StatusOK, CurrentView{
		State:       snap.State.String(),
		Stale:       snap.Stale,
		Latitude:    snap.Location.Latitude,
		Longitude:   snap.Location.Longitude,
		UpdatedAt:   snap.UpdatedAt,
		Time:        b.Current.Time,
		FetchedAt:   b.FetchedAt,
		Timezone:    b.Timezone,
		Temperature: jsonFloat(b.Current.Temperature),
		WeatherCode: b.Current.WeatherCode,
		Description: forecast.Describe(b.Current.WeatherCode),
		Condition:   string(forecast.ConditionForCode(b.Current.WeatherCode, b.Current.IsDay)),
		IsDay:       b.Current.IsDay,
		Score: ScoreView{
			Value:       snap.Score.Value,
			Available:   snap.Score.Available,
			Reason:      string(snap.Score.Reason),
			Explanation: snap.Score.Explanation,
		},
	})
}

func (s *Server) handleAPIForecast(w http.ResponseWriter, r *http.Request) {
	step := queryInt(r, "step", 3)
	hours := queryInt(r, "hours", 4)
	days := queryInt(r, "days", 3)

	view := ForecastView{Hours: []HourJSON{}, Days: []DayJSON{}}
	for _, h := range s.source.NextHours(s.now(), step, hours) {
		view.Hours = append(view.Hours, HourJSON{
			Time:        h.Time,
			Temperature: jsonFloat(h.Temperature),
			WeatherCode: h.WeatherCode,
			Description: h.Description,
			Condition:   string(h.Condition),
		})
	}
	for _, d := range s.source.NextDays(s.now(), days) {
		view.Days = append(view.Days, DayJSON{
			Date:        d.Date.Format("2006-01-02"),
			Min:         jsonFloat(d.Min),
			Max:         jsonFloat(d.Max),
			WeatherCode: d.WeatherCode,
			Description: d.Description,
			Condition:   string(d.Condition),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}
	runs, err := s.history.RecentFetchRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		rj := RunJSON{
			ID:           run.ID,
			StartedAt:    run.StartedAt,
			Location:     run.LocationID,
			Trigger:      run.Trigger,
			State:        run.State.String,
			Attempts:     run.Attempts.Int64,
			HTTPStatus:   run.HTTPStatus.Int64,
			Success:      run.Success,
			ErrorMessage: run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			rj.FinishedAt = &run.FinishedAt.Time
		}
		out = append(out, rj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.refresher == nil {
		http.Error(w, "refresh not available", http.StatusNotFound)
		return
	}
	// The cycle is shared with the poll loop; a client hanging up must not
	// cancel it for everyone else.
	ctx := context.WithoutCancel(r.Context())
	writeSnapshot(w, s.refresher.Refresh(ctx))
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// jsonFloat maps NaN to null.
func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
