package console

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/lox/weatherwidget/internal/forecast"
	"github.com/lox/weatherwidget/internal/models"
	"github.com/lox/weatherwidget/internal/presenter"
	"github.com/lox/weatherwidget/internal/theme"
)

const (
	hourStep  = 3
	hourSlots = 4
	daySlots  = 3
)

// Views supplies the forecast rows to print. *presenter.Adapter satisfies it.
type Views interface {
	NextHours(now time.Time, step, slots int) []presenter.HourView
	NextDays(now time.Time, slots int) []presenter.DayView
}

// Renderer prints each snapshot as a short text block.
type Renderer struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	theme theme.Theme
	views Views
	now   func() time.Time
}

func New(w io.Writer, color bool, views Views) *Renderer {
	t, _ := theme.Lookup(string(theme.Default))
	return &Renderer{w: w, color: color, theme: t, views: views, now: time.Now}
}

// NewStdout renders to stdout, with color only when stdout is a terminal.
func NewStdout(views Views) *Renderer {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return New(colorable.NewColorableStdout(), tty, views)
}

func (r *Renderer) ApplyTheme(t theme.Theme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.theme = t
}

func (r *Renderer) Render(s models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	p := r.theme.Palette

	header := fmt.Sprintf("[%s] %s  %s", s.UpdatedAt.Format("15:04:05"), s.Location, s.State)
	fmt.Fprintln(&sb, r.paint(p.TextMuted, header))

	switch {
	case s.State == models.StateFetching && s.Bundle == nil:
		fmt.Fprintln(&sb, r.paint(p.TextMuted, "  fetching weather..."))
	case s.Bundle == nil:
		fmt.Fprintln(&sb, r.paint(p.Warning, "  no weather data available"))
	default:
		r.writeBundle(&sb, s)
	}

	io.WriteString(r.w, sb.String())
}

func (r *Renderer) writeBundle(sb *strings.Builder, s models.Snapshot) {
	p := r.theme.Palette
	b := s.Bundle

	current := fmt.Sprintf("  %s  %s", formatTemp(b.Current.Temperature), forecast.Describe(b.Current.WeatherCode))
	fmt.Fprintln(sb, r.paint(p.Accent, current))
	if s.Stale {
		fmt.Fprintln(sb, r.paint(p.Warning, "  offline, showing data from "+b.FetchedAt.In(b.Location()).Format("Jan 2 15:04")))
	}

	if s.Score.Available {
		fmt.Fprintln(sb, r.paint(p.Text, fmt.Sprintf("  consistency %d%%  %s", s.Score.Value, s.Score.Explanation)))
	} else {
		fmt.Fprintln(sb, r.paint(p.TextMuted, "  consistency n/a"))
	}

	if r.views == nil {
		return
	}
	if hours := r.views.NextHours(r.now(), hourStep, hourSlots); len(hours) > 0 {
		parts := make([]string, len(hours))
		for i, h := range hours {
			parts[i] = fmt.Sprintf("%s %s %s", h.Time.Format("15:04"), formatTemp(h.Temperature), h.Description)
		}
		fmt.Fprintln(sb, r.paint(p.Text, "  next: "+strings.Join(parts, " | ")))
	}
	if days := r.views.NextDays(r.now(), daySlots); len(days) > 0 {
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = fmt.Sprintf("%s %s/%s %s", d.Date.Format("Mon"), formatTemp(d.Min), formatTemp(d.Max), d.Description)
		}
		fmt.Fprintln(sb, r.paint(p.AccentAlt, "  days: "+strings.Join(parts, " | ")))
	}
}

func (r *Renderer) paint(hex, text string) string {
	if !r.color {
		return text
	}
	red, green, blue, ok := parseHex(hex)
	if !ok {
		return text
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", red, green, blue, text)
}

func parseHex(hex string) (r, g, b uint8, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

func formatTemp(v float64) string {
	if math.IsNaN(v) {
		return "--°"
	}
	return fmt.Sprintf("%.1f°", v)
}
