package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/vinayprograms/inkpanel/display"
	"github.com/vinayprograms/inkpanel/metrics"
	"github.com/vinayprograms/inkpanel/panel"
	"github.com/vinayprograms/inkpanel/render"
	"github.com/vinayprograms/inkpanel/state"
	"github.com/vinayprograms/inkpanel/sysinfo"
	"github.com/vinayprograms/inkpanel/telemetry"
	"github.com/vinayprograms/inkpanel/track"
	"github.com/vinayprograms/inkpanel/weather"
)

// osFs is swapped for a MemMapFs in tests.
var osFs afero.Fs = afero.NewOsFs()

// openStore opens the configured status backend. The returned function
// closes the store and anything it owns.
func (a *app) openStore() (state.StateStore, func() error, error) {
	sc := a.cfg.Status
	switch sc.Backend {
	case "memory":
		s := state.NewMemoryStore()
		return s, s.Close, nil
	case "file":
		s, err := state.NewFileStore(state.FileStoreConfig{Fs: osFs, Dir: sc.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("open status dir: %w", err)
		}
		return s, s.Close, nil
	case "nats":
		nc, err := nats.Connect(sc.NATSURL, nats.Name("inkpanel"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		s, err := state.NewNATSStore(state.NATSStoreConfig{Conn: nc, Bucket: sc.Bucket})
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return s, func() error {
			s.Close()
			return nc.Drain()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown status backend %q", sc.Backend)
}

func (a *app) newDriver() display.Driver {
	pc := a.cfg.Panel
	if pc.Driver == "memory" {
		return display.NewMemoryDriver(pc.Width, pc.Height)
	}
	return display.NewPNGDriver(osFs, pc.Output, pc.Width, pc.Height)
}

func (a *app) newPipeline() (*render.Pipeline, error) {
	pc := a.cfg.Panel
	fonts, err := render.LoadFonts(osFs, pc.TitleFont, pc.BodyFont)
	if err != nil {
		return nil, err
	}
	return render.NewPipeline(pc.Width, pc.Height, fonts), nil
}

// newMetrics returns a registry with Go and process collectors plus the
// panel's own metrics.
func newMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.New(reg)
}

// initTelemetry starts the tracer provider when enabled. A nil provider
// means the no-op tracer.
func (a *app) initTelemetry(ctx context.Context) (*telemetry.Provider, error) {
	tc := a.cfg.Telemetry
	if !tc.Enabled {
		return nil, nil
	}
	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    "inkpanel",
		ServiceVersion: Version,
		Endpoint:       tc.Endpoint,
		Protocol:       tc.Protocol,
		Insecure:       tc.Insecure,
		SampleRatio:    tc.Sample,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newRunner wires every task to its data source. The returned function
// releases the art cache.
func (a *app) newRunner(store state.StateStore, pub *display.Publisher, m *metrics.Metrics) (*panel.Runner, func(), error) {
	cfg := a.cfg
	policy, err := render.ParseArtPolicy(cfg.Music.ArtPolicy)
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := a.newPipeline()
	if err != nil {
		return nil, nil, err
	}
	art, err := track.NewArtLoader(track.ArtLoaderConfig{CacheSize: cfg.Music.ArtCacheSize})
	if err != nil {
		return nil, nil, err
	}

	if cfg.Music.APIKey == "" || cfg.Music.User == "" {
		a.logger.Warn("lastfm_not_configured", map[string]interface{}{
			"detail": "set music.api_key and music.user or LASTFM_API_KEY and LASTFM_USER",
		})
	}

	r := panel.New(panel.Config{
		Pipeline:  pipeline,
		Publisher: pub,
		ArtPolicy: policy,

		Status:    store,
		StatusKey: cfg.Status.Key,
		Tracks: track.NewLastFM(track.LastFMConfig{
			APIURL:  cfg.Music.APIURL,
			APIKey:  cfg.Music.APIKey,
			User:    cfg.Music.User,
			Timeout: cfg.Music.FetchTimeout.Duration,
		}),
		Art:          art,
		PollInterval: cfg.Music.PollInterval.Duration,
		SkipBuffer:   cfg.Music.SkipBuffer.Duration,

		Forecast: weather.NewClient(weather.Config{
			APIURL:    cfg.Weather.APIURL,
			Latitude:  cfg.Weather.Latitude,
			Longitude: cfg.Weather.Longitude,
			UserAgent: cfg.Weather.UserAgent,
			Attempts:  cfg.Weather.Attempts,
			Logger:    a.logger,
		}),
		IconFs:  osFs,
		IconDir: cfg.Weather.IconDir,

		Host: sysinfo.New(sysinfo.WithFs(osFs), sysinfo.WithDiskPath(cfg.Host.DiskPath)),

		Logger:  a.logger,
		Metrics: m,
		Tracer:  telemetry.GetTracer(),
	})
	return r, art.Close, nil
}

// filePreview serves the PNG driver's output file, which task processes
// write on the server's behalf.
type filePreview struct {
	fs            afero.Fs
	path          string
	width, height int
}

func (p filePreview) WritePNG(w io.Writer) error {
	f, err := p.fs.Open(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return display.NewPublisher(display.NewMemoryDriver(p.width, p.height)).WritePNG(w)
	}
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
