package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/weatherwidget/internal/api"
	"github.com/lox/weatherwidget/internal/consistency"
	"github.com/lox/weatherwidget/internal/console"
	"github.com/lox/weatherwidget/internal/ingest"
	"github.com/lox/weatherwidget/internal/models"
	"github.com/lox/weatherwidget/internal/presenter"
	"github.com/lox/weatherwidget/internal/store"
	"github.com/lox/weatherwidget/internal/theme"
)

// locationKey holds the last explicitly configured location as "lat,lon".
const locationKey = "location"

type Globals struct {
	EnvFile  kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	DB       string                   `help:"Path to SQLite database." default:"data/weatherwidget.db" env:"WEATHER_DB"`
	LogLevel string                   `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"LOG_LEVEL" name:"log-level"`
	LogJSON  bool                     `help:"Log JSON lines instead of console text." env:"LOG_JSON" name:"log-json"`
}

type FetchFlags struct {
	Lat          *float64      `help:"Latitude. Saved for later runs when given with --lon." env:"WEATHER_LAT"`
	Lon          *float64      `help:"Longitude." env:"WEATHER_LON"`
	ForecastDays int           `help:"Days of daily forecast to request." default:"2" env:"WEATHER_FORECAST_DAYS" name:"forecast-days"`
	RetryBudget  int           `help:"Retries after a failed attempt." default:"2" env:"WEATHER_RETRY_BUDGET" name:"retry-budget"`
	RetryDelay   time.Duration `help:"Backoff unit; retry n waits n times this." default:"2s" env:"WEATHER_RETRY_DELAY" name:"retry-delay"`
	Timeout      time.Duration `help:"Per-attempt HTTP timeout." default:"12s" env:"WEATHER_TIMEOUT"`
	Model        string        `help:"Predictor artifact (linear/v1 JSON)." env:"WEATHER_MODEL_PATH"`
	APIURL       string        `help:"Open-Meteo forecast endpoint." default:"https://api.open-meteo.com/v1/forecast" env:"WEATHER_API_URL" name:"api-url"`
}

type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"1" help:"Poll Open-Meteo and render updates until interrupted."`
	Once    OnceCmd    `cmd:"" help:"Run a single fetch cycle, print it and exit."`
	Cache   CacheCmd   `cmd:"" help:"Inspect or clear the cached bundle."`
	History HistoryCmd `cmd:"" help:"Show recent fetch cycles."`
	Theme   ThemeCmd   `cmd:"" help:"Show or change the display theme."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("weatherwidget"),
		kong.Description("Weather widget data service backed by Open-Meteo."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func newLogger(level string, asJSON bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if asJSON {
		w = os.Stderr
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

type app struct {
	db    *sql.DB
	store *store.Store
	log   zerolog.Logger
}

func (g *Globals) open() (*app, error) {
	logger := newLogger(g.LogLevel, g.LogJSON)

	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(g.DB)
	if err != nil {
		return nil, err
	}
	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	version, err := st.MigrationVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("schema version: %w", err)
	}
	logger.Debug().Str("db", g.DB).Int("schema_version", version).Msg("database migrated")
	return &app{db: db, store: st, log: logger}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// resolveLocation picks flags, then the saved location, then the default.
func (a *app) resolveLocation(ctx context.Context, f FetchFlags) (models.Coordinates, error) {
	if f.Lat != nil || f.Lon != nil {
		if f.Lat == nil || f.Lon == nil {
			return models.Coordinates{}, errors.New("--lat and --lon must be given together")
		}
		c := models.Coordinates{Latitude: *f.Lat, Longitude: *f.Lon}
		if err := c.Validate(); err != nil {
			return models.Coordinates{}, err
		}
		if err := a.store.SetSetting(ctx, locationKey, c.String()); err != nil {
			a.log.Warn().Err(err).Msg("save location")
		}
		return c, nil
	}

	value, ok, err := a.store.GetSetting(ctx, locationKey)
	if err != nil {
		a.log.Warn().Err(err).Msg("read saved location")
		return models.DefaultLocation, nil
	}
	if !ok {
		return models.DefaultLocation, nil
	}
	c, err := models.ParseCoordinates(value)
	if err != nil {
		a.log.Warn().Err(err).Str("value", value).Msg("ignoring saved location")
		return models.DefaultLocation, nil
	}
	return c, nil
}

// loadPredictor returns nil when no model is configured or it fails to load;
// scoring then reports no_predictor.
func (a *app) loadPredictor(path string) consistency.Predictor {
	if path == "" {
		return nil
	}
	model, err := consistency.LoadArtifact(path)
	if err != nil {
		a.log.Warn().Err(err).Msg("predictor disabled")
		return nil
	}
	a.log.Info().Str("path", path).Strs("targets", model.Targets()).Msg("predictor loaded")
	return model
}

type pipeline struct {
	poller   *ingest.Poller
	adapter  *presenter.Adapter
	renderer *console.Renderer
	themes   *theme.Service
}

func (a *app) buildPipeline(ctx context.Context, f FetchFlags, interval time.Duration) (*pipeline, error) {
	coords, err := a.resolveLocation(ctx, f)
	if err != nil {
		return nil, err
	}

	client := ingest.NewClient(ingest.ClientConfig{
		BaseURL:          f.APIURL,
		AttemptTimeout:   f.Timeout,
		RetryDelay:       f.RetryDelay,
		BreakerThreshold: ingest.DefaultBreakerThreshold,
		BreakerCooldown:  ingest.DefaultBreakerCooldown,
	}, a.log)

	scorer := consistency.NewScorer(a.loadPredictor(f.Model), a.log)

	adapter := presenter.New(a.log)
	renderer := console.NewStdout(adapter)
	adapter.Subscribe(renderer)

	themes := theme.NewService(a.store, a.log)
	themes.Register(ctx, renderer)

	poller := ingest.NewPoller(ingest.PollerConfig{
		Location:     coords,
		Interval:     interval,
		ForecastDays: f.ForecastDays,
		RetryBudget:  f.RetryBudget,
	}, client, store.NewBundleCache(a.store, a.log), scorer, adapter, a.log)
	poller.SetRecorder(a.store)

	return &pipeline{poller: poller, adapter: adapter, renderer: renderer, themes: themes}, nil
}

type RunCmd struct {
	FetchFlags `embed:""`

	Interval    time.Duration `help:"Polling interval, measured from the end of each cycle." default:"5m" env:"WEATHER_INTERVAL"`
	MetricsAddr string        `help:"Serve the status API and /metrics on this address; empty disables it." env:"WEATHER_METRICS_ADDR" name:"metrics-addr"`
}

func (c *RunCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx, c.FetchFlags, c.Interval)
	if err != nil {
		return err
	}

	// SIGHUP forces a refresh.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				a.log.Info().Msg("refresh requested by signal")
				p.poller.RequestRefresh()
			}
		}
	}()

	if c.MetricsAddr != "" {
		srv := api.NewServer(c.MetricsAddr, p.adapter, p.poller, a.store, a.log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	if err := p.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type OnceCmd struct {
	FetchFlags `embed:""`
}

func (c *OnceCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx, c.FetchFlags, 0)
	if err != nil {
		return err
	}
	snap := p.poller.Refresh(ctx)
	if snap.Bundle == nil {
		return fmt.Errorf("no weather data (%s)", snap.State)
	}
	return nil
}

type CacheCmd struct {
	Show  CacheShowCmd  `cmd:"" default:"1" help:"Print the cached bundle."`
	Clear CacheClearCmd `cmd:"" help:"Delete the cached bundle."`
}

type CacheShowCmd struct{}

func (c *CacheShowCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	b, ok := store.NewBundleCache(a.store, a.log).Load(ctx)
	if !ok {
		fmt.Println("no cached bundle")
		return nil
	}

	adapter := presenter.New(a.log)
	renderer := console.NewStdout(adapter)
	theme.NewService(a.store, a.log).Register(ctx, renderer)
	adapter.Subscribe(renderer)
	if coords, err := a.resolveLocation(ctx, FetchFlags{}); err == nil {
		adapter.SetLocation(coords)
	}
	adapter.OnUpdate(b, models.UnavailableScore(models.ReasonNoPredictor, "cache view"), models.StateUsingCache)
	return nil
}

type CacheClearCmd struct{}

func (c *CacheClearCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := store.NewBundleCache(a.store, a.log).Clear(context.Background()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Println("cache cleared")
	return nil
}

type HistoryCmd struct {
	Limit int `help:"Number of cycles to show." default:"20"`
	Days  int `help:"Days of daily health summary to show." default:"7"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	runs, err := a.store.RecentFetchRuns(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("recent fetch runs: %w", err)
	}
	health, err := a.store.GetFetchHealth(ctx, c.Days)
	if err != nil {
		return fmt.Errorf("fetch health: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tTRIGGER\tLOCATION\tSTATE\tATTEMPTS\tHTTP\tERROR")
	for _, r := range runs {
		httpStatus := "-"
		if r.HTTPStatus.Valid {
			httpStatus = fmt.Sprint(r.HTTPStatus.Int64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Trigger, r.LocationID,
			r.State.String, r.Attempts.Int64, httpStatus, r.ErrorMessage.String)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DATE\tTOTAL\tSUCCESS\tCACHED\tNO DATA")
	for _, h := range health {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", h.Date, h.TotalRuns, h.SuccessRuns, h.CachedRuns, h.NoDataRuns)
	}
	return tw.Flush()
}

type ThemeCmd struct {
	Name string `arg:"" optional:"" help:"Theme to apply (dark or light). Omit to show the current theme."`
}

func (c *ThemeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	svc := theme.NewService(a.store, a.log)
	if c.Name == "" {
		fmt.Println(svc.Current(ctx).Name)
		return nil
	}
	t, err := svc.Apply(ctx, c.Name)
	if err != nil {
		return err
	}
	fmt.Printf("theme set to %s\n", t.Name)
	return nil
}
