package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lox/weatherwidget/internal/models"
	"github.com/lox/weatherwidget/internal/presenter"
	"github.com/lox/weatherwidget/internal/store"
)

// SnapshotSource is satisfied by *presenter.Adapter.
type SnapshotSource interface {
	Latest() models.Snapshot
	NextHours(now time.Time, step, slots int) []presenter.HourView
	NextDays(now time.Time, slots int) []presenter.DayView
}

// Refresher is satisfied by *ingest.Poller.
type Refresher interface {
	Refresh(ctx context.Context) models.Snapshot
}

// RunHistory is satisfied by *store.Store.
type RunHistory interface {
	RecentFetchRuns(ctx context.Context, limit int) ([]store.FetchRun, error)
	GetFetchHealth(ctx context.Context, days int) ([]store.FetchHealthSummary, error)
}

// Server exposes the widget's state and Prometheus metrics over HTTP.
type Server struct {
	addr      string
	source    SnapshotSource
	refresher Refresher
	history   RunHistory
	now       func() time.Time
	log       zerolog.Logger
}

func NewServer(addr string, source SnapshotSource, refresher Refresher, history RunHistory, logger zerolog.Logger) *Server {
	return &Server{
		addr:      addr,
		source:    source,
		refresher: refresher,
		history:   history,
		now:       time.Now,
		log:       logger.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/current", s.handleAPICurrent)
	mux.HandleFunc("/api/forecast", s.handleAPIForecast)
	mux.HandleFunc("/api/history", s.handleAPIHistory)
	mux.HandleFunc("/api/refresh", s.handleAPIRefresh)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("status server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
