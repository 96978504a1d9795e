package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/lox/weatherwidget/internal/metrics"
	"github.com/lox/weatherwidget/internal/models"
	"github.com/lox/weatherwidget/internal/store"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultForecastDays = 2
	DefaultRetryBudget  = 2

	TriggerStartup  = "startup"
	TriggerTimer    = "timer"
	TriggerManual   = "manual"
	TriggerLocation = "location"

	cycleKey = "cycle"
)

// BundleFetcher is satisfied by *Client.
type BundleFetcher interface {
	FetchBundleReport(ctx context.Context, coords models.Coordinates, forecastDays, retryBudget int) (*models.Bundle, *FetchReport)
}

// BundleCache is satisfied by *store.BundleCache.
type BundleCache interface {
	Save(ctx context.Context, b *models.Bundle)
	Load(ctx context.Context) (*models.Bundle, bool)
}

type Scorer interface {
	Score(ctx context.Context, b *models.Bundle, at time.Time) models.Score
}

// Publisher receives every state change. It must not block.
type Publisher interface {
	OnUpdate(b *models.Bundle, score models.Score, state models.FetchState)
}

// RunRecorder persists one audit row per cycle. *store.Store satisfies it.
type RunRecorder interface {
	StartFetchRun(ctx context.Context, locationID, trigger string) (*store.FetchRun, error)
	CompleteFetchRun(ctx context.Context, run *store.FetchRun) error
}

// locationPublisher is implemented by publishers that want to know which
// location a snapshot belongs to.
type locationPublisher interface {
	SetLocation(models.Coordinates)
}

type PollerConfig struct {
	Location     models.Coordinates
	Interval     time.Duration
	ForecastDays int
	RetryBudget  int
}

// Poller drives fetch cycles on a timer and on demand. At most one cycle is
// in flight at any time.
type Poller struct {
	fetcher   BundleFetcher
	cache     BundleCache
	scorer    Scorer
	publisher Publisher
	recorder  RunRecorder

	interval     time.Duration
	forecastDays int
	retryBudget  int

	location atomic.Pointer[models.Coordinates]
	last     atomic.Pointer[models.Snapshot]
	group    singleflight.Group
	wake     chan string
	now      func() time.Time
	log      zerolog.Logger
}

func NewPoller(cfg PollerConfig, fetcher BundleFetcher, cache BundleCache, scorer Scorer, publisher Publisher, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ForecastDays < 1 {
		cfg.ForecastDays = DefaultForecastDays
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}

	p := &Poller{
		fetcher:      fetcher,
		cache:        cache,
		scorer:       scorer,
		publisher:    publisher,
		interval:     cfg.Interval,
		forecastDays: cfg.ForecastDays,
		retryBudget:  cfg.RetryBudget,
		wake:         make(chan string, 1),
		now:          time.Now,
		log:          logger.With().Str("component", "poller").Logger(),
	}
	loc := cfg.Location
	p.location.Store(&loc)
	return p
}

// SetRecorder enables the fetch_runs audit trail.
func (p *Poller) SetRecorder(rec RunRecorder) {
	p.recorder = rec
}

func (p *Poller) Location() models.Coordinates {
	return *p.location.Load()
}

// SetLocation switches the polled location and requests a refresh.
func (p *Poller) SetLocation(coords models.Coordinates) {
	p.location.Store(&coords)
	p.log.Info().Str("location", coords.String()).Msg("location changed")
	p.signal(TriggerLocation)
}

// RequestRefresh asks the Run loop for an immediate cycle. It never blocks;
// requests made while one is already pending are coalesced.
func (p *Poller) RequestRefresh() {
	p.signal(TriggerManual)
}

func (p *Poller) signal(trigger string) {
	select {
	case p.wake <- trigger:
	default:
	}
}

// Latest returns the last snapshot the poller published.
func (p *Poller) Latest() models.Snapshot {
	if s := p.last.Load(); s != nil {
		return *s
	}
	return models.Snapshot{State: models.StateIdle, Location: p.Location()}
}

// Run performs an immediate cycle and then one cycle per interval, measured
// from the end of the previous cycle, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Str("location", p.Location().String()).
		Dur("interval", p.interval).
		Msg("poller started")

	trigger := TriggerStartup
	for {
		p.refresh(ctx, trigger)
		if ctx.Err() != nil {
			p.log.Info().Msg("poller shutting down")
			return ctx.Err()
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info().Msg("poller shutting down")
			return ctx.Err()
		case <-timer.C:
			trigger = TriggerTimer
		case trigger = <-p.wake:
			timer.Stop()
		}
	}
}

// Refresh runs one cycle synchronously and returns the published snapshot.
// Concurrent callers share the cycle already in flight.
func (p *Poller) Refresh(ctx context.Context) models.Snapshot {
	return p.refresh(ctx, TriggerManual)
}

func (p *Poller) refresh(ctx context.Context, trigger string) models.Snapshot {
	v, _, shared := p.group.Do(cycleKey, func() (interface{}, error) {
		return p.cycle(ctx, trigger), nil
	})
	if shared {
		p.log.Debug().Str("trigger", trigger).Msg("joined in-flight cycle")
	}
	return v.(models.Snapshot)
}

func (p *Poller) cycle(ctx context.Context, trigger string) (snap models.Snapshot) {
	start := p.now()
	coords := p.Location()
	prev := p.Latest()

	run := p.startRun(ctx, coords, trigger)
	var report *FetchReport

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("trigger", trigger).Msg("fetch cycle panicked")
			snap = p.publish(coords, prev.Bundle, prev.Score, models.StateFailed)
			if report == nil {
				report = &FetchReport{}
			}
			report.Err = fmt.Errorf("panic: %v", r)
		}
		metrics.FetchCyclesTotal.WithLabelValues(snap.State.String()).Inc()
		metrics.FetchCycleDuration.Observe(p.now().Sub(start).Seconds())
		p.completeRun(run, snap.State, report)
	}()

	p.announceLocation(coords)
	p.publish(coords, prev.Bundle, prev.Score, models.StateFetching)

	bundle, report := p.fetch(ctx, coords)
	if bundle != nil {
		p.cache.Save(ctx, bundle)
		score := p.score(ctx, bundle)
		p.log.Info().
			Str("location", coords.String()).
			Float64("temperature", bundle.Current.Temperature).
			Int("score", score.Value).
			Bool("score_available", score.Available).
			Msg("weather updated")
		return p.publish(coords, bundle, score, models.StateSuccess)
	}

	if ctx.Err() != nil {
		p.log.Warn().Err(ctx.Err()).Msg("cycle cancelled")
		return p.publish(coords, prev.Bundle, prev.Score, models.StateFailed)
	}

	if cached, ok := p.cache.Load(ctx); ok {
		// The single slot may hold another location's bundle after SetLocation.
		cachedAt := coords
		if cached.Coordinates != (models.Coordinates{}) {
			cachedAt = cached.Coordinates
		}
		p.log.Warn().
			Str("location", coords.String()).
			Str("cached_location", cachedAt.String()).
			Time("fetched_at", cached.FetchedAt).
			Msg("fetch failed, showing cached bundle")
		p.announceLocation(cachedAt)
		return p.publish(cachedAt, cached, p.score(ctx, cached), models.StateUsingCache)
	}

	p.log.Warn().Str("location", coords.String()).Msg("fetch failed and no cached bundle")
	return p.publish(coords, nil, models.UnavailableScore(models.ReasonNoObservation, "no weather data"), models.StateNoData)
}

func (p *Poller) fetch(ctx context.Context, coords models.Coordinates) (*models.Bundle, *FetchReport) {
	b, report := p.fetcher.FetchBundleReport(ctx, coords, p.forecastDays, p.retryBudget)
	if report == nil {
		report = &FetchReport{}
	}
	if b == nil && report.Err == nil {
		report.Err = errors.New("no bundle returned")
	}
	return b, report
}

func (p *Poller) announceLocation(coords models.Coordinates) {
	if lp, ok := p.publisher.(locationPublisher); ok {
		lp.SetLocation(coords)
	}
}

// score never fails: a panicking scorer yields an unavailable score so the
// bundle is still published.
func (p *Poller) score(ctx context.Context, b *models.Bundle) (score models.Score) {
	if p.scorer == nil {
		return models.UnavailableScore(models.ReasonNoPredictor, "no predictor configured")
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("scorer panicked")
			score = models.UnavailableScore(models.ReasonPredictorError, "scoring failed")
		}
	}()
	return p.scorer.Score(ctx, b, p.now())
}

func (p *Poller) publish(coords models.Coordinates, b *models.Bundle, score models.Score, state models.FetchState) models.Snapshot {
	snap := models.Snapshot{
		Bundle:    b,
		Score:     score,
		State:     state,
		Stale:     state == models.StateUsingCache,
		Location:  coords,
		UpdatedAt: p.now(),
	}
	p.last.Store(&snap)

	if p.publisher != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error().Interface("panic", r).Str("state", state.String()).Msg("publisher panicked")
				}
			}()
			p.publisher.OnUpdate(b, score, state)
		}()
	}
	return snap
}

func (p *Poller) startRun(ctx context.Context, coords models.Coordinates, trigger string) *store.FetchRun {
	if p.recorder == nil {
		return nil
	}
	run, err := p.recorder.StartFetchRun(ctx, coords.String(), trigger)
	if err != nil {
		p.log.Warn().Err(err).Msg("start fetch run")
		return nil
	}
	return run
}

func (p *Poller) completeRun(run *store.FetchRun, state models.FetchState, report *FetchReport) {
	if p.recorder == nil || run == nil {
		return
	}
	run.State = sql.NullString{String: state.String(), Valid: true}
	run.Success = state == models.StateSuccess
	if report != nil {
		run.Attempts = sql.NullInt64{Int64: int64(report.Attempts), Valid: true}
		if report.HTTPStatus != 0 {
			run.HTTPStatus = sql.NullInt64{Int64: int64(report.HTTPStatus), Valid: true}
		}
		if report.ResponseSize != 0 {
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(report.ResponseSize), Valid: true}
		}
		if report.Err != nil {
			run.ErrorMessage = sql.NullString{String: report.Err.Error(), Valid: true}
		}
	}

	// The cycle context may already be cancelled; the audit row should still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.recorder.CompleteFetchRun(ctx, run); err != nil {
		p.log.Warn().Err(err).Int64("run_id", run.ID).Msg("complete fetch run")
	}
}
