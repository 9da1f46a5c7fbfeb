// Package weather fetches the api.weather.gov forecast and reduces it to
// daytime columns for the panel.
package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tidwall/gjson"

	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/logging"
)

// DefaultAPIURL is the National Weather Service API root.
const DefaultAPIURL = "https://api.weather.gov"

const maxBodyBytes = 4 << 20

// Period is one forecast period (a day or a night).
type Period struct {
	Name          string
	Start         time.Time
	Daytime       bool
	Temperature   int
	ShortForecast string
}

// Config configures a Client.
type Config struct {
	APIURL    string
	Latitude  float64
	Longitude float64

	// UserAgent is required by api.weather.gov to identify the caller.
	UserAgent string

	// Attempts bounds each HTTP call including the first. Default: 3
	Attempts uint

	// Delay is the first backoff delay. Default: 1s
	Delay time.Duration

	// Timeout bounds a single request. Default: 10s
	Timeout time.Duration

	Client *http.Client
	Logger *logging.Logger
}

// Client reads forecasts.
type Client struct {
	cfg    Config
	logger *logging.Logger
}

// NewClient creates a forecast client.
func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Client{cfg: cfg, logger: cfg.Logger.WithComponent("weather")}
}

// Periods resolves the grid point and returns its forecast periods.
func (c *Client) Periods(ctx context.Context) ([]Period, error) {
	pointURL := fmt.Sprintf("%s/points/%.4f,%.4f", c.cfg.APIURL, c.cfg.Latitude, c.cfg.Longitude)
	body, err := c.get(ctx, pointURL)
	if err != nil {
		return nil, err
	}
	forecastURL := gjson.GetBytes(body, "properties.forecast").String()
	if forecastURL == "" {
		return nil, perrors.MalformedMetadata("weather: point has no forecast url")
	}

	body, err = c.get(ctx, forecastURL)
	if err != nil {
		return nil, err
	}
	return ParsePeriods(body)
}

// ParsePeriods reads properties.periods of a forecast response.
func ParsePeriods(body []byte) ([]Period, error) {
	if !gjson.ValidBytes(body) {
		return nil, perrors.MalformedMetadata("weather: response is not JSON")
	}
	raw := gjson.GetBytes(body, "properties.periods")
	if !raw.IsArray() {
		return nil, perrors.MalformedMetadata("weather: missing periods")
	}

	var periods []Period
	for _, p := range raw.Array() {
		start, err := time.Parse(time.RFC3339, p.Get("startTime").String())
		if err != nil {
			return nil, perrors.MalformedMetadata("weather: bad startTime", perrors.WithCause(err))
		}
		periods = append(periods, Period{
			Name:          p.Get("name").String(),
			Start:         start,
			Daytime:       p.Get("isDaytime").Bool(),
			Temperature:   int(p.Get("temperature").Int()),
			ShortForecast: p.Get("shortForecast").String(),
		})
	}
	return periods, nil
}

// get fetches url with retries on transient failures.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) { return c.getOnce(ctx, url) },
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*c.cfg.Delay),
		retry.RetryIf(perrors.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("fetch_retry", map[string]interface{}{
				"attempt": n + 1,
				"url":     url,
				"error":   err.Error(),
			})
		}),
	)
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeInvalidInput, "build weather request")
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, perrors.FetchFailed("weather", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, perrors.FetchFailed("weather", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, perrors.New(perrors.ErrCodeRateLimit, "weather: rate limited")
	case resp.StatusCode >= 500:
		return nil, perrors.FetchFailed("weather", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, perrors.FetchFailed("weather", fmt.Errorf("status %d", resp.StatusCode), perrors.WithRetryable(false))
	}
}
