package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
	"github.com/Skryldev/image-shelf/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(), apperrors.ErrEmptyInput)
	}
	dec, ok := s.Registry.DecoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryInput, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}

	decoded.Data = img.Data
	decoded.Quality = img.Quality
	decoded.OriginalSize = img.OriginalSize
	return decoded, nil
}

// ── Fit ───────────────────────────────────────────────────────────────────────

// FitStep renders the image at the largest size that keeps its aspect ratio
// and fits inside Width x Height.  Nothing is cropped; smaller images are
// scaled up to the box.
type FitStep struct {
	Width, Height int
	// Resampler controls quality vs speed.  Defaults to draw.CatmullRom.
	Resampler xdraw.Interpolator
}

func (s *FitStep) Name() string { return "fit" }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcB := src.Bounds()
	dstW, dstH := utils.FitDimensions(srcB.Dx(), srcB.Dy(), s.Width, s.Height)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: %dx%d into %dx%d", apperrors.ErrInvalidDimensions, srcB.Dx(), srcB.Dy(), s.Width, s.Height))
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.CatmullRom
	}

	// Always render into a fresh buffer, even at the same size: the encoder
	// then sees a plain RGBA image regardless of the decoded colour model.
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)

	out := *img
	out.Image = dst
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	out.Meta.ColorSpace = core.ColorSpaceRGBA
	return &out, nil
}

// Interpolator maps a configuration name to an x/image/draw interpolator.
// Unknown names fall back to CatmullRom.
func Interpolator(name string) xdraw.Interpolator {
	switch name {
	case "nearest":
		return xdraw.NearestNeighbor
	case "approxbilinear":
		return xdraw.ApproxBiLinear
	case "bilinear":
		return xdraw.BiLinear
	}
	return xdraw.CatmullRom
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep sets the output format for the subsequent encode step.
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Quality ───────────────────────────────────────────────────────────────────

// QualityStep records the desired encode quality.  The actual quality is
// consumed by EncodeStep.
type QualityStep struct {
	Quality int
}

func (s *QualityStep) Name() string { return "quality" }

func (s *QualityStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.Quality < 0 || s.Quality > 100 {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("quality %d outside 1-100", s.Quality))
	}
	out := *img
	out.Quality = s.Quality
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the decoded image into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	opts := s.BaseOptions
	if img.Quality > 0 {
		opts.Quality = img.Quality
	}

	data, err := enc.Encode(ctx, img, opts)
	if err != nil {
		if apperrors.IsEncode(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}

	out := *img
	out.Data = data
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}

var (
	_ core.Step = (*DecodeStep)(nil)
	_ core.Step = (*FitStep)(nil)
	_ core.Step = (*FormatStep)(nil)
	_ core.Step = (*QualityStep)(nil)
	_ core.Step = (*EncodeStep)(nil)
)
