// Package imageshelf wires a persisted, newest-first image collection: a
// CBOR backing file behind a storage adapter, a codec that fits acquired
// images into a bounding box, and the collection that keeps both in step.
package imageshelf

import (
	"context"
	"io"
	"os"

	"github.com/Skryldev/image-shelf/adapters/decoder"
	"github.com/Skryldev/image-shelf/adapters/encoder"
	"github.com/Skryldev/image-shelf/adapters/storage"
	"github.com/Skryldev/image-shelf/collection"
	"github.com/Skryldev/image-shelf/config"
	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
	"github.com/Skryldev/image-shelf/hooks"
	"github.com/Skryldev/image-shelf/store"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// CodecBackend plugs an alternative image library into the codec.  The vips
// adapter implements it.
type CodecBackend interface {
	Name() string
	Register(reg core.Registry)
	FitSteps(box core.Size) []core.Step
	Shutdown()
}

type options struct {
	logger   core.Logger
	notifier core.Notifier
	metrics  core.MetricsCollector
	storage  core.StorageAdapter
	backend  CodecBackend
}

// Option configures Open.
type Option func(*options)

// WithLogger attaches a structured logger to every component.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithNotifier registers the presentation layer with the collection.
func WithNotifier(n core.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithMetrics feeds pipeline steps and collection operations to m.
func WithMetrics(m core.MetricsCollector) Option { return func(o *options) { o.metrics = m } }

// WithStorage overrides the storage adapter selected by Config.Storage.
func WithStorage(s core.StorageAdapter) Option { return func(o *options) { o.storage = s } }

// WithCodecBackend supplies the backend named by Config.Codec.Backend when
// it is not the Go standard library one.
func WithCodecBackend(b CodecBackend) Option { return func(o *options) { o.backend = b } }

// Shelf is one opened collection with everything it runs on.
type Shelf struct {
	cfg     config.Config
	proc    *core.Processor
	codec   *Codec
	store   *store.Store[core.Record]
	coll    *collection.Collection
	backend CodecBackend
}

// Open validates cfg, wires the components, starts the worker pool, and
// loads the collection.  A backing file that cannot be read does not fail
// Open: the collection starts empty and the failure is logged.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Shelf, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "imageshelf.open", err)
	}
	o := options{logger: hooks.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hooks.NopLogger{}
	}

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.Codec.Quality))

	var fitSteps func(core.Size) []core.Step
	if cfg.Codec.Backend != config.CodecStdlib {
		if o.backend == nil || o.backend.Name() != string(cfg.Codec.Backend) {
			return nil, apperrors.New(apperrors.CategoryConfig, "imageshelf.open",
				errBackendNotLinked(cfg.Codec.Backend))
		}
		o.backend.Register(reg)
		fitSteps = o.backend.FitSteps
	} else {
		o.backend = nil
	}

	stepHooks := []core.Hook{hooks.NewLoggingHook(o.logger)}
	if o.metrics != nil {
		stepHooks = append(stepHooks, hooks.NewMetricsHook(o.metrics))
	}

	proc := core.NewProcessor(cfg, reg)
	proc.SetLogger(o.logger)
	for _, h := range stepHooks {
		proc.AddHook(h)
	}

	backend := o.storage
	if backend == nil {
		var err error
		if backend, err = openStorage(ctx, cfg); err != nil {
			return nil, err
		}
	}

	st := store.New[core.Record](backend, cfg.FileName,
		store.WithRetry(cfg.MaxRetries, cfg.RetryDelay),
		store.WithLogger(o.logger),
	)
	codec := NewCodec(proc, CodecOptions{
		Quality:      cfg.Codec.Quality,
		Interpolator: cfg.Codec.Interpolator,
		FitSteps:     fitSteps,
		Hooks:        stepHooks,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
	})

	proc.Start()
	coll := collection.New(ctx, st, codec,
		collection.WithLogger(o.logger),
		collection.WithNotifier(o.notifier),
		collection.WithMetrics(o.metrics),
	)
	o.logger.Info("imageshelf.open",
		"storage", string(cfg.Storage),
		"file", cfg.FileName,
		"codec", string(cfg.Codec.Backend),
		"records", coll.Len(),
	)

	return &Shelf{cfg: cfg, proc: proc, codec: codec, store: st, coll: coll, backend: o.backend}, nil
}

func openStorage(ctx context.Context, cfg config.Config) (core.StorageAdapter, error) {
	switch cfg.Storage {
	case config.StorageS3:
		return storage.NewS3FromConfig(ctx, cfg.S3)
	default:
		return storage.NewLocal(cfg.StorageDir, os.FileMode(cfg.Local.Permissions)), nil
	}
}

// Close stops the worker pool and releases the codec backend.  The
// collection must not be used afterwards.
func (s *Shelf) Close() {
	s.proc.Stop()
	if s.backend != nil {
		s.backend.Shutdown()
	}
}

// Box returns the configured bounding box.
func (s *Shelf) Box() core.Size {
	return core.Size{Width: s.cfg.BoundingBox.Width, Height: s.cfg.BoundingBox.Height}
}

// Collection returns the in-memory collection.
func (s *Shelf) Collection() *collection.Collection { return s.coll }

// Ingest adds src at position 0, fitted into the configured box.
func (s *Shelf) Ingest(ctx context.Context, src core.Source) (core.Record, error) {
	return s.coll.Ingest(ctx, src, s.Box())
}

// IngestAll adds srcs in order; the last one ends up at position 0.
func (s *Shelf) IngestAll(ctx context.Context, srcs []core.Source) ([]core.Record, []error) {
	return s.coll.IngestAll(ctx, srcs, s.Box())
}

// Evict removes the record at pos.
func (s *Shelf) Evict(ctx context.Context, pos int) error { return s.coll.Evict(ctx, pos) }

// Stats returns lightweight processing statistics.
func (s *Shelf) Stats() (processed, errors int64) {
	return s.proc.ProcessedCount(), s.proc.ErrorCount()
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}
