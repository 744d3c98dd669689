//go:build vips

// Package vips is an optional libvips codec backend.  It decodes with
// libvips, fits with vips_resize, and encodes JPEG payloads.
package vips

import (
	"context"
	"fmt"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
	"github.com/Skryldev/image-shelf/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend is a unified libvips-powered Decoder and Encoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.LoggingSettings(nil, govips.LogLevelWarning)
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// Name identifies the backend in logs.
func (b *Backend) Name() string { return "vips" }

// Register makes the backend the decoder for every input format and the
// JPEG encoder.
func (b *Backend) Register(reg core.Registry) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatUnknown} {
		reg.RegisterDecoder(f, b)
	}
	reg.RegisterEncoder(core.FormatJPEG, b)
}

// FitSteps returns the steps that take a vips-decoded image to the fitted
// size: orientation is applied first so the box is matched against the
// image as it is meant to be viewed.
func (b *Backend) FitSteps(box core.Size) []core.Step {
	return []core.Step{&AutoRotateStep{}, &FitStep{Width: box.Width, Height: box.Height}}
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatUnknown:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.decode", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	format := vipsFormatToCore(ref.Format())
	return &core.ImageData{
		Data:   raw,
		Format: format,
		Image:  &Image{ref: ref},
		Meta: core.Metadata{
			Width:      ref.Width(),
			Height:     ref.Height(),
			Format:     format,
			ColorSpace: vipsInterpretationToColorSpace(ref.Interpretation()),
			HasAlpha:   ref.HasAlpha(),
			SizeBytes:  int64(len(raw)),
		},
		OriginalSize: int64(len(raw)),
	}, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool { return f == core.FormatJPEG }

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	if img.Format != core.FormatJPEG {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}
	vi, ok := img.Image.(*Image)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("image must be decoded with the vips backend first"))
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}

	ep := govips.NewJpegExportParams()
	ep.Quality = quality
	ep.StripMetadata = true
	buf, _, err := vi.ref.ExportJpeg(ep)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
	}
	return buf, nil
}

// ─── Image ────────────────────────────────────────────────────────────────────

// Image wraps a *govips.ImageRef for storage in core.ImageData.Image.
type Image struct {
	ref *govips.ImageRef
}

func (v *Image) Width() int            { return v.ref.Width() }
func (v *Image) Height() int           { return v.ref.Height() }
func (v *Image) Ref() *govips.ImageRef { return v.ref }

// ─── FitStep ──────────────────────────────────────────────────────────────────

// FitStep resizes with a Lanczos3 kernel to the largest size that keeps the
// aspect ratio and fits inside Width x Height.  Horizontal and vertical
// scales are set separately so the result lands on the exact pixel size
// utils.FitDimensions computes.
type FitStep struct {
	Width, Height int
}

func (s *FitStep) Name() string { return "vips.fit" }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	vi, ok := img.Image.(*Image)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("expected *vips.Image; use the vips backend to decode"))
	}
	srcW, srcH := vi.ref.Width(), vi.ref.Height()
	dstW, dstH := utils.FitDimensions(srcW, srcH, s.Width, s.Height)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: %dx%d into %dx%d", apperrors.ErrInvalidDimensions, srcW, srcH, s.Width, s.Height))
	}
	if dstW != srcW || dstH != srcH {
		hScale := float64(dstW) / float64(srcW)
		vScale := float64(dstH) / float64(srcH)
		if err := vi.ref.ResizeWithVScale(hScale, vScale, govips.KernelLanczos3); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
	}
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	return &out, nil
}

// ─── AutoRotateStep ───────────────────────────────────────────────────────────

// AutoRotateStep applies the EXIF orientation tag then strips it.
type AutoRotateStep struct{}

func (s *AutoRotateStep) Name() string { return "vips.auto_rotate" }

func (s *AutoRotateStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, ok := img.Image.(*Image)
	if !ok || vi == nil {
		return img, nil
	}
	if err := vi.ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	return &out, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}

// compile-time interface checks
var (
	_ core.Decoder = (*Backend)(nil)
	_ core.Encoder = (*Backend)(nil)
	_ core.Step    = (*FitStep)(nil)
	_ core.Step    = (*AutoRotateStep)(nil)
)
