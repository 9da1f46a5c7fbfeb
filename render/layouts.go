package render

import (
	"fmt"

	"github.com/vinayprograms/inkpanel/display"
)

// Now-playing geometry.
const (
	artSize          = 122
	dividerWidth     = 2
	textGap          = 8
	titleWrap        = 11
	titleMaxLines    = 2
	titleTop         = 15
	titleStep        = 24
	artistGap        = 5
	artistLimit      = 15
	placeholderGlyph = "♫"
)

func (p *Pipeline) drawNowPlaying(c *Canvas, np NowPlaying, policy ArtPolicy) {
	art := ProcessArt(np.Art, artSize, policy)
	if art != nil {
		c.Paste(0, 0, art, display.Black)
		c.VLine(artSize, 0, c.Height()-1, dividerWidth, display.Black)
	} else {
		c.FillRect(0, 0, artSize-1, c.Height()-1, display.Red)
		c.Text(p.fonts.Display(40), 40, 35, placeholderGlyph, display.White)
	}

	x := artSize + textGap
	y := titleTop
	title := p.fonts.Display(22)
	for _, line := range WrapLines(np.Title, titleWrap, titleMaxLines) {
		c.Text(title, x, y, line, display.Red)
		y += titleStep
	}
	y += artistGap
	c.Text(p.fonts.Text(16), x, y, Truncate(np.Artist, artistLimit), display.Black)
}

func (p *Pipeline) drawIdle(c *Canvas) {
	c.Text(p.fonts.Display(22), 20, 20, "Not Playing", display.Red)
	c.Text(p.fonts.Text(16), 20, 50, "Put on some tunes!", display.Black)
}

// Weather geometry.
const (
	forecastColumns = 3
	descWrap        = 10
	descMaxLines    = 2
	descTop         = 55
	descStep        = 11
	highTop         = 78
	lowTop          = 98
	separatorInset  = 10
)

func (p *Pipeline) drawForecast(c *Canvas, f Forecast) {
	colW := c.Width() / forecastColumns
	header := p.fonts.Text(12)
	desc := p.fonts.Text(10)
	temp := p.fonts.Display(20)
	small := p.fonts.Text(9)

	days := f.Days
	if len(days) > forecastColumns {
		days = days[:forecastColumns]
	}
	for i, day := range days {
		x := i * colW
		center := x + colW/2

		c.FillRect(x+2, 2, x+colW-4, 18, display.Black)
		c.Text(header, x+(colW-TextWidth(header, day.Label))/2, 3, day.Label, display.White)

		switch day.Icon.Status {
		case IconOK:
			c.Paste(center-IconSize/2, 20, day.Icon.Mask, display.Red)
		case IconMissing:
			c.Text(temp, center-5, 25, "!", display.Red)
		default:
			c.Text(temp, center-5, 25, "?", display.Red)
		}

		y := descTop
		for _, line := range WrapLines(day.Summary, descWrap, descMaxLines) {
			c.Text(desc, x+(colW-TextWidth(desc, line))/2, y, line, display.Black)
			y += descStep
		}

		high := fmt.Sprintf("%d°", day.High)
		c.Text(temp, center-TextWidth(temp, high)/2, highTop, high, display.Red)

		lowVal := "--"
		if day.Low != nil {
			lowVal = fmt.Sprint(*day.Low)
		}
		low := fmt.Sprintf("L: %s°", lowVal)
		c.Text(small, center-TextWidth(small, low)/2, lowTop, low, display.Black)

		if i < forecastColumns-1 {
			c.VLine(x+colW, separatorInset, c.Height()-separatorInset, 1, display.Black)
		}
	}
}

// Dashboard geometry.
const (
	headerHeight = 28
	rowStep      = 24
	barWidth     = 90
	barHeight    = 10
	hotTempC     = 60
)

func (p *Pipeline) drawDashboard(c *Canvas, d Dashboard) {
	w := c.Width()
	headerFace := p.fonts.Display(20)
	text := p.fonts.Text(12)
	small := p.fonts.Text(10)

	c.FillRect(0, 0, w-1, headerHeight, display.Red)
	c.Text(headerFace, 5, 2, d.Host, display.White)
	c.Text(small, w-TextWidth(small, d.IP)-5, 8, d.IP, display.White)

	y := headerHeight + 5
	c.Text(text, 5, y, "Load:", display.Black)
	c.Text(text, 45, y, fmt.Sprintf("%.2f", d.Load), display.Black)
	tempColor := display.Black
	if d.TempC > hotTempC {
		tempColor = display.Red
	}
	c.Text(text, w-65, y, fmt.Sprintf("%.1fC", d.TempC), tempColor)
	y += rowStep

	c.Text(text, 5, y, "RAM:", display.Black)
	drawBar(c, 45, y+2, d.RAMPercent, display.Black)
	c.Text(small, 50+barWidth, y, fmt.Sprintf("%d%%", int(d.RAMPercent)), display.Black)
	y += rowStep

	c.Text(text, 5, y, "Disk:", display.Black)
	drawBar(c, 45, y+2, d.DiskPercent, display.Red)
	c.Text(small, 50+barWidth, y, fmt.Sprintf("%d%%", int(d.DiskPercent)), display.Black)
}

// drawBar draws an outlined progress bar filled to pct (clamped to 0-100).
func drawBar(c *Canvas, x, y int, pct float64, fill uint8) {
	c.Outline(x, y, x+barWidth, y+barHeight, display.Black)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if fillW := int(float64(barWidth-2) * pct / 100); fillW > 0 {
		c.FillRect(x+1, y+1, x+1+fillW, y+barHeight-1, fill)
	}
}

func (p *Pipeline) drawMessage(c *Canvas, m Message) {
	c.Text(p.fonts.Display(24), 10, (c.Height()-30)/2, m.Text, display.Black)
}
