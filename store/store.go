// Package store persists an ordered collection of records as a single
// backing file.
//
// Every mutation re-reads the file, applies the change to what it found, and
// replaces the file as a whole.  The value returned by a mutation is the
// collection exactly as it now stands on disk.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
)

// Store reads and rewrites one backing file holding a []T.
type Store[T any] struct {
	backend core.StorageAdapter
	name    string
	enc     cbor.EncMode
	dec     cbor.DecMode
	opts    options
	mu      sync.Mutex // serializes read-modify-write cycles
}

type options struct {
	maxRetries int
	retryDelay time.Duration
	logger     core.Logger
}

// Option configures a Store.
type Option func(*options)

// WithRetry retries reads and writes that fail with a transient error.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *options) {
		o.maxRetries = maxRetries
		o.retryDelay = delay
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates a Store keeping its file under name in backend.
func New[T any](backend core.StorageAdapter, name string, opts ...Option) *Store[T] {
	o := options{logger: core.NopLogger{}}
	for _, fn := range opts {
		fn(&o)
	}
	// Timestamps as RFC 3339 text with nanoseconds round-trip exactly.
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor enc mode: %v", err))
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor dec mode: %v", err))
	}
	return &Store[T]{backend: backend, name: name, enc: enc, dec: dec, opts: o}
}

// Name returns the logical name of the backing file.
func (s *Store[T]) Name() string { return s.name }

// Load returns the durable collection.  A backing file that was never
// written yields an empty collection.  A file that exists but cannot be read
// back as []T fails with a decode error; a file that cannot be fetched at
// all fails with a storage error.
func (s *Store[T]) Load(ctx context.Context) ([]T, error) {
	b, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return []T{}, nil
	}
	var items []T
	if err := s.dec.Unmarshal(b, &items); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "store.load.unmarshal", err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// read fetches the raw file, retrying transient backend failures.  A missing
// file is returned as nil bytes.
func (s *Store[T]) read(ctx context.Context) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		b, err := s.fetch(ctx)
		if err == nil {
			return b, nil
		}
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		if !apperrors.IsRetryable(err) || attempt >= s.opts.maxRetries {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "store.load", err)
		}
		s.opts.logger.Warn("store.read.retry", "file", s.name, "attempt", attempt+1, "error", err.Error())
		if err := s.wait(ctx); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "store.load", err)
		}
	}
}

func (s *Store[T]) fetch(ctx context.Context) ([]byte, error) {
	rc, err := s.backend.Get(ctx, s.name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Store[T]) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.retryDelay):
		return nil
	}
}

// Create appends item to the durable collection.
func (s *Store[T]) Create(ctx context.Context, item T) ([]T, error) {
	return s.mutate(ctx, "store.create", func(items []T) ([]T, error) {
		return append(items, item), nil
	})
}

// Insert places item at pos, shifting later items down.  pos may equal the
// current length.
func (s *Store[T]) Insert(ctx context.Context, pos int, item T) ([]T, error) {
	return s.mutate(ctx, "store.insert", func(items []T) ([]T, error) {
		if pos < 0 || pos > len(items) {
			return nil, apperrors.OutOfRange("store.insert", pos, len(items)+1)
		}
		out := make([]T, 0, len(items)+1)
		out = append(out, items[:pos]...)
		out = append(out, item)
		return append(out, items[pos:]...), nil
	})
}

// Delete removes the item at pos.  The bound is checked against the file,
// not against any in-memory copy.
func (s *Store[T]) Delete(ctx context.Context, pos int) ([]T, error) {
	return s.mutate(ctx, "store.delete", func(items []T) ([]T, error) {
		if pos < 0 || pos >= len(items) {
			return nil, apperrors.OutOfRange("store.delete", pos, len(items))
		}
		out := make([]T, 0, len(items)-1)
		out = append(out, items[:pos]...)
		return append(out, items[pos+1:]...), nil
	})
}

func (s *Store[T]) mutate(ctx context.Context, op string, apply func([]T) ([]T, error)) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx)
	if err != nil {
		// An unreadable file is reported as is; failing to reach it is a
		// failed write like any other I/O error.
		if apperrors.IsDecode(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CategoryWrite, op, err)
	}
	next, err := apply(current)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, op, next); err != nil {
		return nil, err
	}
	return next, nil
}

// write serializes items and hands the whole file to the backend.
func (s *Store[T]) write(ctx context.Context, op string, items []T) error {
	b, err := s.enc.Marshal(items)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryWrite, op+".marshal", err)
	}
	for attempt := 0; ; attempt++ {
		err = s.backend.Put(ctx, s.name, bytes.NewReader(b))
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) || attempt >= s.opts.maxRetries {
			return apperrors.Wrap(apperrors.CategoryWrite, op, err)
		}
		s.opts.logger.Warn("store.write.retry", "file", s.name, "attempt", attempt+1, "error", err.Error())
		if err := s.wait(ctx); err != nil {
			return apperrors.Wrap(apperrors.CategoryWrite, op, err)
		}
	}
}
