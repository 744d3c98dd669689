//go:build vips

package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	imageshelf "github.com/Skryldev/image-shelf"
	"github.com/Skryldev/image-shelf/adapters/vips"
	"github.com/Skryldev/image-shelf/config"
	"github.com/Skryldev/image-shelf/core"
	"github.com/Skryldev/image-shelf/utils"
)

var (
	backendOnce sync.Once
	backend     *vips.Backend
)

// libvips may only be started once per process.
func sharedBackend() *vips.Backend {
	backendOnce.Do(func() {
		backend = vips.NewBackend(vips.BackendConfig{})
	})
	return backend
}

// keepAlive wraps the shared backend so Shelf.Close does not shut libvips
// down between tests.
type keepAlive struct{ *vips.Backend }

func (keepAlive) Shutdown() {}

func makeJPEG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		tb.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func openShelf(tb testing.TB, codec config.CodecBackend) *imageshelf.Shelf {
	tb.Helper()
	cfg := imageshelf.DefaultConfig()
	cfg.StorageDir = tb.TempDir()
	cfg.Codec.Backend = codec
	var opts []imageshelf.Option
	if codec == config.CodecVips {
		opts = append(opts, imageshelf.WithCodecBackend(keepAlive{sharedBackend()}))
	}
	shelf, err := imageshelf.Open(context.Background(), cfg, opts...)
	if err != nil {
		tb.Fatalf("Open: %v", err)
	}
	return shelf
}

// ─── Correctness ──────────────────────────────────────────────────────────────

func TestVipsFit_MatchesFitDimensions(t *testing.T) {
	shelf := openShelf(t, config.CodecVips)
	defer shelf.Close()
	box := core.Size{Width: 120, Height: 90}

	for _, size := range [][2]int{{800, 400}, {300, 600}, {40, 30}, {333, 101}} {
		raw := makeJPEG(t, size[0], size[1])
		payload, err := shelf.Codec().Encode(context.Background(), imageshelf.FromReader(bytes.NewReader(raw)), box)
		if err != nil {
			t.Fatalf("Encode %v: %v", size, err)
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("payload is not an image: %v", err)
		}
		if format != "jpeg" {
			t.Errorf("payload format: got %s, want jpeg", format)
		}
		wantW, wantH := utils.FitDimensions(size[0], size[1], box.Width, box.Height)
		if cfg.Width != wantW || cfg.Height != wantH {
			t.Errorf("%dx%d: got %dx%d, want %dx%d", size[0], size[1], cfg.Width, cfg.Height, wantW, wantH)
		}
	}
}

// ─── Encode ───────────────────────────────────────────────────────────────────

func benchmarkEncode(b *testing.B, codec config.CodecBackend, w, h int) {
	raw := makeJPEG(b, w, h)
	shelf := openShelf(b, codec)
	defer shelf.Close()
	box := core.Size{Width: 1170, Height: 2532}

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := shelf.Codec().Encode(context.Background(), imageshelf.FromReader(bytes.NewReader(raw)), box); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncode_Stdlib_1920x1080(b *testing.B) { benchmarkEncode(b, config.CodecStdlib, 1920, 1080) }
func BenchmarkEncode_Vips_1920x1080(b *testing.B)   { benchmarkEncode(b, config.CodecVips, 1920, 1080) }
func BenchmarkEncode_Stdlib_4000x3000(b *testing.B) { benchmarkEncode(b, config.CodecStdlib, 4000, 3000) }
func BenchmarkEncode_Vips_4000x3000(b *testing.B)   { benchmarkEncode(b, config.CodecVips, 4000, 3000) }

// ─── Parallel ─────────────────────────────────────────────────────────────────

func BenchmarkEncode_Vips_Parallel(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	shelf := openShelf(b, config.CodecVips)
	defer shelf.Close()
	box := core.Size{Width: 1170, Height: 2532}

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := shelf.Codec().Encode(context.Background(), imageshelf.FromReader(bytes.NewReader(raw)), box); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
