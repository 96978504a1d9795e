package presenter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/weatherwidget/internal/forecast"
	"github.com/lox/weatherwidget/internal/models"
)

// Renderer draws a snapshot. Render is called on the poller's goroutine and
// must return quickly.
type Renderer interface {
	Render(models.Snapshot)
}

type RendererFunc func(models.Snapshot)

func (f RendererFunc) Render(s models.Snapshot) { f(s) }

// Adapter hands poller updates to renderers. The latest snapshot is readable
// from any goroutine without locking.
type Adapter struct {
	latest   atomic.Pointer[models.Snapshot]
	location atomic.Pointer[models.Coordinates]

	mu        sync.RWMutex
	renderers []Renderer

	now func() time.Time
	log zerolog.Logger
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		now: time.Now,
		log: logger.With().Str("component", "presenter").Logger(),
	}
}

func (a *Adapter) Subscribe(r Renderer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renderers = append(a.renderers, r)
}

// SetLocation tags subsequent snapshots with coords.
func (a *Adapter) SetLocation(coords models.Coordinates) {
	a.location.Store(&coords)
}

// OnUpdate stores the new snapshot and pushes it to every renderer.
func (a *Adapter) OnUpdate(b *models.Bundle, score models.Score, state models.FetchState) {
	snap := models.Snapshot{
		Bundle:    b,
		Score:     score,
		State:     state,
		Stale:     state == models.StateUsingCache,
		UpdatedAt: a.now(),
	}
	if loc := a.location.Load(); loc != nil {
		snap.Location = *loc
	}
	a.latest.Store(&snap)

	a.mu.RLock()
	renderers := a.renderers
	a.mu.RUnlock()

	for _, r := range renderers {
		a.render(r, snap)
	}
}

func (a *Adapter) render(r Renderer, snap models.Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Error().Interface("panic", rec).Str("state", snap.State.String()).Msg("renderer panicked")
		}
	}()
	r.Render(snap)
}

// Latest returns the most recent snapshot, or an idle one before the first
// update.
func (a *Adapter) Latest() models.Snapshot {
	if s := a.latest.Load(); s != nil {
		return *s
	}
	snap := models.Snapshot{State: models.StateIdle}
	if loc := a.location.Load(); loc != nil {
		snap.Location = *loc
	}
	return snap
}

type HourView struct {
	Time        time.Time
	Temperature float64
	WeatherCode int
	Description string
	Condition   forecast.WeatherCondition
}

type DayView struct {
	Date        time.Time
	Min         float64
	Max         float64
	WeatherCode int
	Description string
	Condition   forecast.WeatherCondition
}

// NextHours returns up to slots hourly entries starting at the first hour not
// before now, every step hours.
func (a *Adapter) NextHours(now time.Time, step, slots int) []HourView {
	b := a.Latest().Bundle
	if b == nil {
		return nil
	}
	h := b.Hourly
	indices := forecast.NextHourIndices(h.Time, now, step, slots)
	views := make([]HourView, 0, len(indices))
	for _, i := range indices {
		views = append(views, HourView{
			Time:        h.Time[i],
			Temperature: h.Temperature[i],
			WeatherCode: h.WeatherCode[i],
			Description: forecast.Describe(h.WeatherCode[i]),
			Condition:   forecast.ConditionForCode(h.WeatherCode[i], h.IsDay[i]),
		})
	}
	return views
}

// NextDays returns up to slots daily entries starting at today in the
// bundle's zone. Days that have already passed are skipped, so a bundle
// served from cache days later yields fewer rows or none.
func (a *Adapter) NextDays(now time.Time, slots int) []DayView {
	b := a.Latest().Bundle
	if b == nil || slots <= 0 {
		return nil
	}
	d := b.Daily
	start := forecast.FirstDayIndex(d.Time, now, b.Location())
	if start < 0 {
		return nil
	}
	end := min(start+slots, len(d.Time))
	views := make([]DayView, 0, end-start)
	for i := start; i < end; i++ {
		views = append(views, DayView{
			Date:        d.Time[i],
			Min:         d.TempMin[i],
			Max:         d.TempMax[i],
			WeatherCode: d.WeatherCode[i],
			Description: forecast.Describe(d.WeatherCode[i]),
			Condition:   forecast.ConditionForCode(d.WeatherCode[i], true),
		})
	}
	return views
}
