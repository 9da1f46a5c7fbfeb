package track

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/maypok86/otter"
	_ "golang.org/x/image/webp"

	perrors "github.com/vinayprograms/inkpanel/errors"
)

const maxArtBytes = 8 << 20

// ArtLoader downloads and decodes album art, caching decoded images by URL.
type ArtLoader struct {
	client  *http.Client
	timeout time.Duration
	cache   otter.Cache[string, image.Image]
}

// ArtLoaderConfig configures an ArtLoader.
type ArtLoaderConfig struct {
	// CacheSize is the number of decoded images kept. Default: 32
	CacheSize int

	// Timeout bounds one download. Default: 10s
	Timeout time.Duration

	Client *http.Client
}

// NewArtLoader creates an art loader.
func NewArtLoader(cfg ArtLoaderConfig) (*ArtLoader, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	cache, err := otter.MustBuilder[string, image.Image](cfg.CacheSize).
		WithTTL(time.Hour).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build art cache: %w", err)
	}
	return &ArtLoader{client: cfg.Client, timeout: cfg.Timeout, cache: cache}, nil
}

// Load returns the image at url. Failures are FETCH_FAILED or ART_DECODE and
// are not cached.
func (a *ArtLoader) Load(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, perrors.New(perrors.ErrCodeInvalidInput, "no art url")
	}
	if img, ok := a.cache.Get(url); ok {
		return img, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeInvalidInput, "build art request")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, perrors.FetchFailed("art", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, perrors.FetchFailed("art", fmt.Errorf("status %d", resp.StatusCode))
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxArtBytes))
	if err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeArtDecode, "decode art")
	}
	a.cache.Set(url, img)
	return img, nil
}

// Close releases the cache.
func (a *ArtLoader) Close() {
	a.cache.Close()
}
