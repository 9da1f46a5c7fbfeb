package display

import (
	"context"
	"image/png"
	"io"
	"sync"
	"time"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/logging"
	"github.com/vinayprograms/inkpanel/metrics"
)

// Publisher pushes frames to a driver one at a time.
type Publisher struct {
	driver  Driver
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	last   *Frame
	lastAt time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l.WithComponent("display") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a publisher for driver.
func NewPublisher(driver Driver, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		driver: driver,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Width returns the panel width.
func (p *Publisher) Width() int { return p.driver.Width() }

// Height returns the panel height.
func (p *Publisher) Height() int { return p.driver.Height() }

// Publish stages and shows f. layout names the screen for logs and metrics.
// A canceled ctx publishes nothing, even when it was canceled while waiting
// for an earlier publish: a stopped task must not cover its successor.
func (p *Publisher) Publish(ctx context.Context, layout string, f *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return perrors.Wrap(err, "publish "+layout)
	}
	start := p.now()
	if err := p.driver.SetImage(f); err != nil {
		return perrors.WrapWithCode(err, perrors.ErrCodeDisplayFailed, "stage frame")
	}
	if err := p.driver.Show(ctx); err != nil {
		if ctx.Err() != nil {
			return perrors.Wrap(ctx.Err(), "show frame")
		}
		return perrors.WrapWithCode(err, perrors.ErrCodeDisplayFailed, "show frame")
	}
	elapsed := p.now().Sub(start)

	p.last = f.Clone()
	p.lastAt = p.now()
	p.logger.FrameShown(layout, elapsed)
	p.metrics.FrameShown(layout, elapsed)
	return nil
}

// Last returns a copy of the last published frame and when it was shown.
// The frame is nil before the first publish.
func (p *Publisher) Last() (*Frame, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, time.Time{}
	}
	return p.last.Clone(), p.lastAt
}

// WritePNG encodes the last published frame, or a blank frame before the
// first publish.
func (p *Publisher) WritePNG(w io.Writer) error {
	f, _ := p.Last()
	if f == nil {
		f = NewFrame(p.Width(), p.Height())
	}
	return png.Encode(w, f.Paletted)
}
