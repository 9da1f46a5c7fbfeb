// Package panel binds each task kind to its data source, its layout and the
// display. A Runner is what a launcher executes, either in a goroutine of
// the server or in a "run" child process.
package panel

import (
	"context"
	"image"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/vinayprograms/inkpanel/display"
	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/logging"
	"github.com/vinayprograms/inkpanel/metrics"
	"github.com/vinayprograms/inkpanel/monitor"
	"github.com/vinayprograms/inkpanel/render"
	"github.com/vinayprograms/inkpanel/sysinfo"
	"github.com/vinayprograms/inkpanel/tasks"
	"github.com/vinayprograms/inkpanel/telemetry"
	"github.com/vinayprograms/inkpanel/track"
	"github.com/vinayprograms/inkpanel/weather"
)

// ForecastDays is the number of weather columns.
const ForecastDays = 3

// ArtSource loads album art by URL.
type ArtSource interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// ForecastSource returns forecast periods.
type ForecastSource interface {
	Periods(ctx context.Context) ([]weather.Period, error)
}

// HostSource samples the host for the dashboard.
type HostSource interface {
	Snapshot() sysinfo.Snapshot
}

// Config configures a Runner. Sources a deployment does not use may be nil;
// running a task without its source fails with INTERNAL.
type Config struct {
	Pipeline  *render.Pipeline
	Publisher *display.Publisher
	ArtPolicy render.ArtPolicy

	// Monitor settings.
	Status       monitor.StatusReader
	StatusKey    string
	Tracks       track.Source
	Art          ArtSource
	PollInterval time.Duration
	SkipBuffer   time.Duration

	Forecast ForecastSource
	IconFs   afero.Fs
	IconDir  string

	Host HostSource

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Tracer  *telemetry.Tracer
}

// Runner runs panel tasks.
type Runner struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a runner.
func New(cfg Config) *Runner {
	if cfg.ArtPolicy == "" {
		cfg.ArtPolicy = render.ArtThreshold
	}
	if cfg.IconFs == nil {
		cfg.IconFs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	return &Runner{cfg: cfg, logger: cfg.Logger.WithComponent("panel")}
}

// Run executes spec. One-shot tasks return after their frame is shown; the
// music task returns when superseded (nil) or canceled.
func (r *Runner) Run(ctx context.Context, spec tasks.Spec, generation uint64) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	switch spec.Kind {
	case tasks.KindMusic:
		return r.runMusic(ctx, generation)
	case tasks.KindWeather:
		return r.runWeather(ctx)
	case tasks.KindDashboard:
		return r.runDashboard(ctx)
	case tasks.KindMessage:
		return r.Show(ctx, render.Message{Text: spec.Message.Text})
	case tasks.KindClean:
		return r.Show(ctx, render.Blank{})
	}
	return perrors.UnknownTask(spec.Kind.Key())
}

// Show renders c and publishes the frame. Nothing is drawn once ctx is done.
func (r *Runner) Show(ctx context.Context, c render.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	layout := c.Layout()
	spanCtx, span := r.cfg.Tracer.StartRenderSpan(ctx, layout)
	start := time.Now()

	frame, err := r.cfg.Pipeline.Render(c, r.cfg.ArtPolicy)
	if err == nil {
		err = r.cfg.Publisher.Publish(spanCtx, layout, frame)
	}
	r.cfg.Tracer.EndRenderSpan(span, time.Since(start), err)
	return err
}

func (r *Runner) runMusic(ctx context.Context, generation uint64) error {
	if r.cfg.Tracks == nil || r.cfg.Status == nil {
		return perrors.New(perrors.ErrCodeInternal, "music: no track source configured",
			perrors.WithTask(tasks.KindMusic.Key()))
	}
	m := monitor.New(monitor.Config{
		Source:       r.cfg.Tracks,
		Presenter:    monitor.PresenterFunc(r.presentTrack),
		Status:       r.cfg.Status,
		StatusKey:    r.cfg.StatusKey,
		TaskKey:      tasks.KindMusic.Key(),
		Generation:   generation,
		PollInterval: r.cfg.PollInterval,
		SkipBuffer:   r.cfg.SkipBuffer,
		Logger:       r.cfg.Logger,
		Metrics:      r.cfg.Metrics,
		Tracer:       r.cfg.Tracer,
	})
	return m.Run(ctx)
}

// presentTrack draws a committed snapshot. Art failures fall back to the
// placeholder.
func (r *Runner) presentTrack(ctx context.Context, snap track.Snapshot) error {
	if !snap.Playing {
		return r.Show(ctx, render.Idle{})
	}
	np := render.NowPlaying{Title: snap.Title, Artist: snap.Artist}
	if snap.ArtURL != "" && r.cfg.Art != nil {
		img, err := r.cfg.Art.Load(ctx, snap.ArtURL)
		if err != nil {
			r.logger.Warn("art_unavailable", map[string]interface{}{
				"url":   snap.ArtURL,
				"error": err.Error(),
			})
		} else {
			np.Art = img
		}
	}
	return r.Show(ctx, np)
}

func (r *Runner) runWeather(ctx context.Context) error {
	if r.cfg.Forecast == nil {
		return perrors.New(perrors.ErrCodeInternal, "weather: no forecast source configured",
			perrors.WithTask(tasks.KindWeather.Key()))
	}
	periods, err := r.cfg.Forecast.Periods(ctx)
	if err != nil {
		return err
	}
	days := weather.Days(periods, ForecastDays)
	if len(days) == 0 {
		return perrors.New(perrors.ErrCodeMalformedMetadata, "forecast has no daytime periods",
			perrors.WithTask(tasks.KindWeather.Key()))
	}

	forecast := render.Forecast{Days: make([]render.ForecastDay, 0, len(days))}
	for _, d := range days {
		icon := render.LoadIcon(r.cfg.IconFs, filepath.Join(r.cfg.IconDir, d.Icon))
		if icon.Status != render.IconOK {
			r.logger.Warn("icon_unavailable", map[string]interface{}{"icon": d.Icon})
		}
		forecast.Days = append(forecast.Days, render.ForecastDay{
			Label:   d.Label,
			Summary: d.Summary,
			High:    d.High,
			Low:     d.Low,
			Icon:    icon,
		})
	}
	return r.Show(ctx, forecast)
}

func (r *Runner) runDashboard(ctx context.Context) error {
	if r.cfg.Host == nil {
		return perrors.New(perrors.ErrCodeInternal, "dashboard: no host source configured",
			perrors.WithTask(tasks.KindDashboard.Key()))
	}
	s := r.cfg.Host.Snapshot()
	return r.Show(ctx, render.Dashboard{
		Host:        s.Host,
		IP:          s.IP,
		Load:        s.Load,
		TempC:       s.TempC,
		RAMPercent:  s.RAMPercent,
		DiskPercent: s.DiskPercent,
	})
}
