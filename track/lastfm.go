package track

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	perrors "github.com/vinayprograms/inkpanel/errors"
)

const (
	// DefaultLastFMURL is the Last.fm API root.
	DefaultLastFMURL = "http://ws.audioscrobbler.com/2.0/"

	// artTier is the image index used for art ("extralarge").
	artTier = 3

	maxResponseBytes = 1 << 20
)

// LastFMConfig configures the Last.fm source.
type LastFMConfig struct {
	APIURL  string
	APIKey  string
	User    string
	Timeout time.Duration // per request, default 5s
	Client  *http.Client
}

// LastFM reads the most recent scrobble of a user.
type LastFM struct {
	apiURL  string
	apiKey  string
	user    string
	timeout time.Duration
	client  *http.Client
}

// NewLastFM creates a Last.fm source.
func NewLastFM(cfg LastFMConfig) *LastFM {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultLastFMURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &LastFM{
		apiURL:  cfg.APIURL,
		apiKey:  cfg.APIKey,
		user:    cfg.User,
		timeout: cfg.Timeout,
		client:  cfg.Client,
	}
}

// Current fetches user.getrecenttracks with limit=1.
func (l *LastFM) Current(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("method", "user.getrecenttracks")
	q.Set("user", l.user)
	q.Set("api_key", l.apiKey)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return Snapshot{}, perrors.WrapWithCode(err, perrors.ErrCodeInvalidInput, "build lastfm request")
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Snapshot{}, perrors.FetchFailed("lastfm", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Snapshot{}, perrors.FetchFailed("lastfm", err)
	}
	if apiErr := apiError(body); apiErr != nil {
		return Snapshot{}, apiErr
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, perrors.FetchFailed("lastfm", fmt.Errorf("status %d", resp.StatusCode))
	}
	return ParseRecentTracks(body)
}

// apiError maps a Last.fm {"error": n, "message": "..."} body to an error.
func apiError(body []byte) error {
	code := gjson.GetBytes(body, "error")
	if !code.Exists() {
		return nil
	}
	msg := gjson.GetBytes(body, "message").String()
	switch code.Int() {
	case 29:
		return perrors.New(perrors.ErrCodeRateLimit, "lastfm: "+msg)
	case 4, 9, 10, 26:
		return perrors.New(perrors.ErrCodeUnauthorized, "lastfm: "+msg)
	default:
		return perrors.FetchFailed("lastfm", fmt.Errorf("error %d: %s", code.Int(), msg))
	}
}

// ParseRecentTracks reads the first entry of a getrecenttracks response.
// A response without any track is a zero Snapshot. A missing recenttracks
// object or non-JSON body is MALFORMED_METADATA.
func ParseRecentTracks(body []byte) (Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return Snapshot{}, perrors.MalformedMetadata("lastfm: response is not JSON")
	}
	recent := gjson.GetBytes(body, "recenttracks")
	if !recent.IsObject() {
		return Snapshot{}, perrors.MalformedMetadata("lastfm: missing recenttracks")
	}

	entry := recent.Get("track")
	if entry.IsArray() {
		entry = entry.Get("0")
	}
	if !entry.IsObject() {
		return Snapshot{}, nil
	}

	snap := Snapshot{
		Title:   entry.Get("name").String(),
		Artist:  entry.Get(`artist.\#text`).String(),
		Playing: entry.Get(`\@attr.nowplaying`).String() == "true",
	}
	if images := entry.Get("image").Array(); len(images) > artTier {
		snap.ArtURL = images[artTier].Get(`\#text`).String()
	}
	if snap.Playing && snap.Title == "" {
		return Snapshot{}, perrors.MalformedMetadata("lastfm: playing track without a name")
	}
	return snap, nil
}
