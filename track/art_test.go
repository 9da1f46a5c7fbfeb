package track

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	perrors "github.com/vinayprograms/inkpanel/errors"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestArtLoader_CachesDecodedImages(t *testing.T) {
	var hits atomic.Int32
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(data)
	}))
	defer srv.Close()

	loader, err := NewArtLoader(ArtLoaderConfig{})
	if err != nil {
		t.Fatalf("NewArtLoader: %v", err)
	}
	defer loader.Close()

	for i := 0; i < 3; i++ {
		img, err := loader.Load(context.Background(), srv.URL+"/xl.png")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if img.Bounds().Dx() != 4 {
			t.Fatalf("unexpected bounds %v", img.Bounds())
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected one download, got %d", hits.Load())
	}
}

func TestArtLoader_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("definitely not an image"))
	}))
	defer srv.Close()

	loader, err := NewArtLoader(ArtLoaderConfig{CacheSize: 4})
	if err != nil {
		t.Fatalf("NewArtLoader: %v", err)
	}
	defer loader.Close()

	if _, err := loader.Load(context.Background(), srv.URL+"/missing.png"); !perrors.Is(err, perrors.ErrCodeFetchFailed) {
		t.Errorf("404: expected FETCH_FAILED, got %v", err)
	}
	if _, err := loader.Load(context.Background(), srv.URL+"/garbage.png"); !perrors.Is(err, perrors.ErrCodeArtDecode) {
		t.Errorf("garbage: expected ART_DECODE, got %v", err)
	}
	if _, err := loader.Load(context.Background(), ""); err == nil {
		t.Error("empty url should fail")
	}
}
