package weather

import "strings"

// Day is one daytime forecast column.
type Day struct {
	Label   string // "Mon 1/2"
	Summary string
	High    int
	Low     *int // from the following night period, if any
	Icon    string
}

// Icon file names.
const (
	IconRain  = "icon-rain.png"
	IconSnow  = "icon-snow.png"
	IconStorm = "icon-storm.png"
	IconCloud = "icon-cloud.png"
	IconSun   = "icon-sun.png"
)

var iconRules = []struct {
	icon     string
	keywords []string
}{
	{IconRain, []string{"rain", "showers"}},
	{IconSnow, []string{"snow", "wintry"}},
	{IconStorm, []string{"storm", "thunder"}},
	{IconCloud, []string{"cloud", "overcast", "fog"}},
}

// IconFor picks an icon from a short forecast. Rules are checked in order,
// so "Rain And Snow" is rain.
func IconFor(summary string) string {
	s := strings.ToLower(summary)
	for _, rule := range iconRules {
		for _, kw := range rule.keywords {
			if strings.Contains(s, kw) {
				return rule.icon
			}
		}
	}
	return IconSun
}

// Days keeps the first max daytime periods. A day's low comes from the
// period right after it when that one is a night.
func Days(periods []Period, max int) []Day {
	var days []Day
	for i, p := range periods {
		if !p.Daytime {
			continue
		}
		if len(days) >= max {
			break
		}
		day := Day{
			Label:   p.Start.Format("Mon 1/2"),
			Summary: p.ShortForecast,
			High:    p.Temperature,
			Icon:    IconFor(p.ShortForecast),
		}
		if i+1 < len(periods) && !periods[i+1].Daytime {
			low := periods[i+1].Temperature
			day.Low = &low
		}
		days = append(days, day)
	}
	return days
}
