package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageData.
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality int // 1-100; 0 = use encoder default
}

// ErrNotFound is returned (possibly wrapped) by StorageAdapter.Get when the
// key has never been written.
var ErrNotFound = errors.New("not found")

// StorageAdapter holds the bytes of a backing file.  Put must replace the
// stored value as a whole: a reader never observes a partially written value,
// even if the process dies mid-write.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
}

// MetricsCollector receives performance observations from the pipeline and
// the collection.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
	// RecordOperation counts a collection operation ("ingest", "evict",
	// "load") and its outcome.
	RecordOperation(op string, err error)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// Notifier is implemented by the presentation layer.  It is told about every
// committed change to a collection, after the change is durable.
type Notifier interface {
	ItemInserted(pos int)
	ItemRemoved(pos int)
}

// Resetter is an optional Notifier extension.  It is called instead of the
// positional callbacks when the in-memory collection had drifted from disk
// and was replaced wholesale.
type Resetter interface {
	ItemsReset()
}

// EvictionRequester is the capability a presentation cell holds to ask for
// its record to be removed.
type EvictionRequester interface {
	EvictionRequested(pos int)
}
