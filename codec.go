package imageshelf

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-shelf/adapters/decoder"
	"github.com/Skryldev/image-shelf/adapters/encoder"
	"github.com/Skryldev/image-shelf/collection"
	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
	"github.com/Skryldev/image-shelf/pipeline"
)

// Codec turns acquired images into record payloads: decode, fit inside the
// bounding box, and re-encode as JPEG.  Raw sources go through the
// Processor; already decoded images go through a standalone Pipeline.
type Codec struct {
	proc    *core.Processor
	quality int
	fit     func(box core.Size) []core.Step

	// Decoded images are always fitted and encoded with the Go codecs, even
	// when the Processor's registry holds a different backend.
	imagePipeline func(box core.Size) *pipeline.Pipeline

	jobSeq uint64
}

// CodecOptions configures a Codec.
type CodecOptions struct {
	Quality      int                         // 1-100; 0 means encoder.FullQuality
	Interpolator string                      // see pipeline.Interpolator
	FitSteps     func(core.Size) []core.Step // nil = pipeline.FitStep
	Hooks        []core.Hook                 // observers for EncodeImage
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewCodec creates a Codec running on proc.
func NewCodec(proc *core.Processor, opts CodecOptions) *Codec {
	quality := opts.Quality
	if quality <= 0 {
		quality = encoder.FullQuality
	}
	resampler := pipeline.Interpolator(opts.Interpolator)
	stdFit := func(box core.Size) []core.Step {
		return []core.Step{&pipeline.FitStep{Width: box.Width, Height: box.Height, Resampler: resampler}}
	}
	fit := opts.FitSteps
	if fit == nil {
		fit = stdFit
	}

	stdReg := core.NewRegistry()
	stdReg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(quality))

	c := &Codec{proc: proc, quality: quality, fit: fit}
	c.imagePipeline = func(box core.Size) *pipeline.Pipeline {
		return pipeline.New().
			Use(stdFit(box)...).
			Use(c.encodeSteps(stdReg)...).
			AddHook(opts.Hooks...).
			WithRetry(opts.MaxRetries, opts.RetryDelay)
	}
	return c
}

// Steps returns the full step list applied to a raw source.
func (c *Codec) Steps(box core.Size) []core.Step {
	reg := c.proc.Registry()
	steps := []core.Step{&pipeline.DecodeStep{Registry: reg}}
	steps = append(steps, c.fit(box)...)
	return append(steps, c.encodeSteps(reg)...)
}

func (c *Codec) encodeSteps(reg core.Registry) []core.Step {
	return []core.Step{
		&pipeline.QualityStep{Quality: c.quality},
		&pipeline.FormatStep{Format: core.FormatJPEG},
		&pipeline.EncodeStep{Registry: reg, BaseOptions: core.EncodeOptions{Quality: c.quality}},
	}
}

// Encode reads src, fits it into box, and returns the JPEG payload.
func (c *Codec) Encode(ctx context.Context, src core.Source, box core.Size) ([]byte, error) {
	res, err := c.proc.Process(ctx, src, c.Steps(box)...)
	if err != nil {
		return nil, err
	}
	return res.Primary.Data, nil
}

// EncodeImage fits an already decoded image into box and returns the JPEG
// payload.
func (c *Codec) EncodeImage(ctx context.Context, img image.Image, box core.Size) ([]byte, error) {
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "codec.encode_image", apperrors.ErrEmptyInput)
	}
	out, _, err := c.imagePipeline(box).Run(ctx, decoder.FromImage(img, core.FormatUnknown))
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// EncodeAsync submits the encode to the Processor's worker pool.
func (c *Codec) EncodeAsync(ctx context.Context, src core.Source, box core.Size) <-chan collection.EncodeResult {
	out := make(chan collection.EncodeResult, 1)
	results := make(chan core.JobResult, 1)
	job := core.Job{
		ID:       fmt.Sprintf("ingest-%d", atomic.AddUint64(&c.jobSeq, 1)),
		Ctx:      ctx,
		Source:   src,
		Steps:    c.Steps(box),
		ResultCh: results,
	}
	if err := c.proc.Submit(job); err != nil {
		out <- collection.EncodeResult{Err: err}
		close(out)
		return out
	}
	go func() {
		defer close(out)
		r := <-results
		if r.Err != nil {
			out <- collection.EncodeResult{Err: r.Err}
			return
		}
		out <- collection.EncodeResult{Payload: r.Result.Primary.Data}
	}()
	return out
}

// EncodeBatch encodes srcs concurrently.  Payloads and errors are
// index-aligned with srcs.
func (c *Codec) EncodeBatch(ctx context.Context, srcs []core.Source, box core.Size) ([][]byte, []error) {
	results, errs := c.proc.Batch(ctx, srcs, c.Steps(box)...)
	payloads := make([][]byte, len(srcs))
	for i, r := range results {
		if errs[i] == nil && r != nil {
			payloads[i] = r.Primary.Data
		}
	}
	return payloads, errs
}

var _ collection.Codec = (*Codec)(nil)
