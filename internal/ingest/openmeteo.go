package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/lox/weatherwidget/internal/httputil"
	"github.com/lox/weatherwidget/internal/metrics"
	"github.com/lox/weatherwidget/internal/models"
)

const (
	DefaultBaseURL          = "https://api.open-meteo.com/v1/forecast"
	DefaultRetryDelay       = 2 * time.Second
	DefaultBreakerThreshold = 3
	DefaultBreakerCooldown  = 2 * time.Minute

	maxResponseBytes = 4 << 20
)

var (
	errMissingCurrent = errors.New("response has no current_weather section")
	errBadStatus      = errors.New("unexpected status code")
)

type ClientConfig struct {
	BaseURL string
	// AttemptTimeout bounds each request/response round trip.
	AttemptTimeout time.Duration
	// RetryDelay is the linear backoff unit: attempt n waits n*RetryDelay.
	RetryDelay time.Duration
	// BreakerThreshold is the number of consecutive failed fetches that opens
	// the circuit. Zero disables the breaker.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	// HTTPClient overrides the default client (tests inject transports here).
	HTTPClient *http.Client
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          DefaultBaseURL,
		AttemptTimeout:   httputil.DefaultTimeout,
		RetryDelay:       DefaultRetryDelay,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerCooldown:  DefaultBreakerCooldown,
	}
}

// Client fetches weather bundles from Open-Meteo.
type Client struct {
	baseURL        string
	client         *http.Client
	attemptTimeout time.Duration
	retryDelay     time.Duration
	breaker        *gobreaker.CircuitBreaker
	log            zerolog.Logger
}

func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = httputil.DefaultTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewClientWithTimeout(cfg.AttemptTimeout)
	}

	c := &Client{
		baseURL:        cfg.BaseURL,
		client:         httpClient,
		attemptTimeout: cfg.AttemptTimeout,
		retryDelay:     cfg.RetryDelay,
		log:            logger.With().Str("component", "openmeteo").Logger(),
	}

	if cfg.BreakerThreshold > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = DefaultBreakerCooldown
		}
		threshold := cfg.BreakerThreshold
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openmeteo",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		})
	}
	return c
}

// FetchReport describes how a fetch went, for the audit log.
type FetchReport struct {
	Attempts     int
	HTTPStatus   int
	ResponseSize int
	Err          error
}

// FetchBundle performs one fetch with up to retryBudget retries. A false
// result means no usable bundle; the cause is logged, never returned.
func (c *Client) FetchBundle(ctx context.Context, coords models.Coordinates, forecastDays, retryBudget int) (*models.Bundle, bool) {
	b, report := c.FetchBundleReport(ctx, coords, forecastDays, retryBudget)
	return b, report.Err == nil
}

// FetchBundleReport is FetchBundle with the attempt accounting exposed.
func (c *Client) FetchBundleReport(ctx context.Context, coords models.Coordinates, forecastDays, retryBudget int) (*models.Bundle, *FetchReport) {
	if forecastDays < 1 {
		forecastDays = 1
	}
	if retryBudget < 0 {
		retryBudget = 0
	}

	report := &FetchReport{}
	fetch := func() (interface{}, error) {
		return c.fetchWithRetry(ctx, coords, forecastDays, retryBudget, report)
	}

	var (
		result interface{}
		err    error
	)
	if c.breaker != nil {
		result, err = c.breaker.Execute(fetch)
	} else {
		result, err = fetch()
	}

	if err != nil {
		report.Err = err
		c.log.Warn().Err(err).
			Str("location", coords.String()).
			Int("attempts", report.Attempts).
			Int("http_status", report.HTTPStatus).
			Msg("fetch bundle failed")
		return nil, report
	}

	bundle := result.(*models.Bundle)
	if flags := ValidateBundle(bundle); len(flags) > 0 {
		c.log.Warn().Strs("flags", flags).Str("location", coords.String()).Msg("bundle quality flags")
	}
	c.log.Debug().
		Str("location", coords.String()).
		Int("attempts", report.Attempts).
		Int("bytes", report.ResponseSize).
		Float64("temperature", bundle.Current.Temperature).
		Msg("fetched bundle")
	return bundle, report
}

func (c *Client) fetchWithRetry(ctx context.Context, coords models.Coordinates, forecastDays, retryBudget int, report *FetchReport) (*models.Bundle, error) {
	reqURL := c.buildURL(coords, forecastDays)

	var bundle *models.Bundle
	operation := func() error {
		report.Attempts++
		b, err := c.attempt(ctx, reqURL, report)
		if err != nil {
			return err
		}
		b.Coordinates = coords
		bundle = b
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: c.retryDelay}, uint64(retryBudget)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Int("attempt", report.Attempts).Dur("wait", wait).Msg("retrying fetch")
	}
	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		return nil, err
	}
	return bundle, nil
}

// attempt performs a single round trip. Transport errors are returned as-is
// so they are retried; everything else is permanent.
func (c *Client) attempt(ctx context.Context, reqURL string, report *FetchReport) (*models.Bundle, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", httputil.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.APILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICallsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	report.HTTPStatus = resp.StatusCode
	metrics.APICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		report.ResponseSize = len(body)
		return nil, backoff.Permanent(fmt.Errorf("%w: %d: %s", errBadStatus, resp.StatusCode, string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	report.ResponseSize = len(body)

	bundle, err := ParseBundle(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	bundle.FetchedAt = time.Now().UTC()
	return bundle, nil
}

func (c *Client) buildURL(coords models.Coordinates, forecastDays int) string {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	values.Set("current_weather", "true")
	values.Set("hourly", "temperature_2m,weathercode,is_day")
	values.Set("daily", "temperature_2m_min,temperature_2m_max,weathercode")
	values.Set("forecast_days", strconv.Itoa(forecastDays))
	values.Set("timeformat", "iso8601")
	values.Set("timezone", "auto")
	return c.baseURL + "?" + values.Encode()
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

type ForecastResponse struct {
	UTCOffsetSeconds     int             `json:"utc_offset_seconds"`
	Timezone             string          `json:"timezone"`
	TimezoneAbbreviation string          `json:"timezone_abbreviation"`
	CurrentWeather       *CurrentWeather `json:"current_weather"`
	Hourly               *HourlyResponse `json:"hourly"`
	Daily                *DailyResponse  `json:"daily"`
}

type CurrentWeather struct {
	Time        string   `json:"time"`
	Temperature *float64 `json:"temperature"`
	WeatherCode int      `json:"weathercode"`
	IsDay       int      `json:"is_day"`
}

type HourlyResponse struct {
	Time          []string   `json:"time"`
	Temperature2m []*float64 `json:"temperature_2m"`
	WeatherCode   []*int     `json:"weathercode"`
	IsDay         []*int     `json:"is_day"`
}

type DailyResponse struct {
	Time             []string   `json:"time"`
	Temperature2mMin []*float64 `json:"temperature_2m_min"`
	Temperature2mMax []*float64 `json:"temperature_2m_max"`
	WeatherCode      []*int     `json:"weathercode"`
}

// ParseBundle decodes an Open-Meteo forecast response into a validated
// bundle. Missing hourly/daily sections yield empty series; a missing
// current_weather section is an error.
func ParseBundle(body []byte) (*models.Bundle, error) {
	var data ForecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if data.CurrentWeather == nil {
		return nil, errMissingCurrent
	}

	b := &models.Bundle{
		Timezone:             data.Timezone,
		TimezoneAbbreviation: data.TimezoneAbbreviation,
		UTCOffsetSeconds:     data.UTCOffsetSeconds,
	}
	loc := b.Location()

	current := data.CurrentWeather
	b.Current = models.Current{
		Temperature: floatOrNaN(current.Temperature),
		WeatherCode: current.WeatherCode,
		IsDay:       current.IsDay == 1,
	}
	if current.Time != "" {
		t, err := parseAPITime(current.Time, loc)
		if err != nil {
			return nil, fmt.Errorf("current_weather.time: %w", err)
		}
		b.Current.Time = t
	}

	if h := data.Hourly; h != nil {
		times, err := parseAPITimes(h.Time, loc)
		if err != nil {
			return nil, fmt.Errorf("hourly.time%w", err)
		}
		b.Hourly = models.Hourly{
			Time:        times,
			Temperature: floatsOrNaN(h.Temperature2m),
			WeatherCode: intsOrZero(h.WeatherCode),
			IsDay:       flags(h.IsDay),
		}
	}

	if d := data.Daily; d != nil {
		times, err := parseAPITimes(d.Time, loc)
		if err != nil {
			return nil, fmt.Errorf("daily.time%w", err)
		}
		b.Daily = models.Daily{
			Time:        times,
			TempMin:     floatsOrNaN(d.Temperature2mMin),
			TempMax:     floatsOrNaN(d.Temperature2mMax),
			WeatherCode: intsOrZero(d.WeatherCode),
		}
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

var apiTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseAPITime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range apiTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseAPITimes(values []string, loc *time.Location) ([]time.Time, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		t, err := parseAPITime(v, loc)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func floatsOrNaN(values []*float64) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = floatOrNaN(v)
	}
	return out
}

func intsOrZero(values []*int) []int {
	if values == nil {
		return nil
	}
	out := make([]int, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

func flags(values []*int) []bool {
	if values == nil {
		return nil
	}
	out := make([]bool, len(values))
	for i, v := range values {
		out[i] = v != nil && *v == 1
	}
	return out
}
