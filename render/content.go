package render

import "image"

// Layout names.
const (
	LayoutMusic     = "music"
	LayoutIdle      = "idle"
	LayoutWeather   = "weather"
	LayoutDashboard = "dashboard"
	LayoutMessage   = "message"
	LayoutClean     = "clean"
)

// Content is something the pipeline can draw.
type Content interface {
	Layout() string
}

// NowPlaying is the now-playing screen. A nil Art draws the placeholder.
type NowPlaying struct {
	Title  string
	Artist string
	Art    image.Image
}

func (NowPlaying) Layout() string { return LayoutMusic }

// Idle is the "nothing playing" screen.
type Idle struct{}

func (Idle) Layout() string { return LayoutIdle }

// Forecast is the three-column weather screen.
type Forecast struct {
	Days []ForecastDay
}

func (Forecast) Layout() string { return LayoutWeather }

// ForecastDay is one forecast column.
type ForecastDay struct {
	Label   string // "Mon 1/2"
	Summary string
	High    int
	Low     *int // nil when the following period is not a night
	Icon    Icon
}

// Dashboard is the host status screen.
type Dashboard struct {
	Host        string
	IP          string
	Load        float64
	TempC       float64
	RAMPercent  float64
	DiskPercent float64
}

func (Dashboard) Layout() string { return LayoutDashboard }

// Message is a single line of text.
type Message struct {
	Text string
}

func (Message) Layout() string { return LayoutMessage }

// Blank is an all-white frame.
type Blank struct{}

func (Blank) Layout() string { return LayoutClean }
