package render

import (
	"fmt"
	"sync"

	"github.com/vinayprograms/inkpanel/display"
)

// Pipeline renders content at a fixed panel size.
type Pipeline struct {
	width  int
	height int
	fonts  *Fonts

	// Faces are not safe for concurrent use.
	mu sync.Mutex
}

// NewPipeline creates a pipeline. A nil fonts uses DefaultFonts.
func NewPipeline(width, height int, fonts *Fonts) *Pipeline {
	if fonts == nil {
		fonts = DefaultFonts()
	}
	return &Pipeline{width: width, height: height, fonts: fonts}
}

// Render draws c. Content is passed by value; pointers and nil are
// rejected. policy applies to album art only.
func (p *Pipeline) Render(c Content, policy ArtPolicy) (*display.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	canvas := NewCanvas(p.width, p.height, display.White)
	switch v := c.(type) {
	case NowPlaying:
		p.drawNowPlaying(canvas, v, policy)
	case Idle:
		p.drawIdle(canvas)
	case Forecast:
		p.drawForecast(canvas, v)
	case Dashboard:
		p.drawDashboard(canvas, v)
	case Message:
		p.drawMessage(canvas, v)
	case Blank:
	default:
		return nil, fmt.Errorf("render: unsupported content %T", c)
	}
	return canvas.Frame(), nil
}
