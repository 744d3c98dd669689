// Package collection keeps an in-memory, newest-first list of image records
// in step with its backing file and tells the presentation layer about every
// committed change.
//
// A change is committed to the store first.  Memory and the notifier only
// see it once the store has accepted it, so a failed write leaves everything
// as it was.
package collection

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
)

// RecordStore is the durable side of a collection.  Every mutation returns
// the collection as it stands on disk afterwards.
type RecordStore interface {
	Load(ctx context.Context) ([]core.Record, error)
	Insert(ctx context.Context, pos int, rec core.Record) ([]core.Record, error)
	Delete(ctx context.Context, pos int) ([]core.Record, error)
}

// Codec turns an acquired image into a record payload: fitted to a bounding
// box and re-encoded.
type Codec interface {
	Encode(ctx context.Context, src core.Source, box core.Size) ([]byte, error)
	EncodeImage(ctx context.Context, img image.Image, box core.Size) ([]byte, error)
	// EncodeAsync runs Encode off the caller's goroutine.  The channel
	// receives exactly one result.
	EncodeAsync(ctx context.Context, src core.Source, box core.Size) <-chan EncodeResult
	// EncodeBatch encodes several sources concurrently.  Results are
	// index-aligned with srcs.
	EncodeBatch(ctx context.Context, srcs []core.Source, box core.Size) ([][]byte, []error)
}

// EncodeResult is the outcome of an asynchronous encode.
type EncodeResult struct {
	Payload []byte
	Err     error
}

// IngestResult is the outcome of an asynchronous ingest.
type IngestResult struct {
	Record core.Record
	Err    error
}

// Collection is an ordered, persisted list of records.  Position 0 is the
// most recently ingested record.  It is safe for concurrent use; mutations
// are applied one at a time.
//
// Notifier callbacks run while the mutation lock is held.  They may read the
// collection but must not call Ingest or Evict synchronously.
type Collection struct {
	store    RecordStore
	codec    Codec
	notifier core.Notifier
	logger   core.Logger
	metrics  core.MetricsCollector
	now      func() time.Time

	commitMu sync.Mutex   // serializes store mutation + memory update + notify
	mu       sync.RWMutex // guards records
	records  []core.Record
}

// Option configures a Collection.
type Option func(*Collection)

// WithNotifier registers the presentation layer.  When it also implements
// core.Resetter it is told about wholesale replacements.
func WithNotifier(n core.Notifier) Option {
	return func(c *Collection) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option {
	return func(c *Collection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records the outcome of every load, ingest and evict.
func WithMetrics(m core.MetricsCollector) Option {
	return func(c *Collection) { c.metrics = m }
}

// WithClock replaces time.Now as the source of creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Collection and loads it from st once.  A load failure is
// logged and the collection starts empty.  The backing file is never
// rewritten from that empty state: mutations re-read it and keep failing
// until it is repaired or removed.
func New(ctx context.Context, st RecordStore, codec Codec, opts ...Option) *Collection {
	c := &Collection{
		store:    st,
		codec:    codec,
		notifier: nopNotifier{},
		logger:   core.NopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	records, err := st.Load(ctx)
	c.observe("load", err)
	if err != nil {
		c.logger.Warn("collection.load.failed", "error", err.Error())
		records = nil
	}
	c.records = records
	c.logger.Debug("collection.loaded", "count", len(records))
	return c
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// Len returns the number of records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// At returns the record at pos.
func (c *Collection) At(pos int) (core.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pos < 0 || pos >= len(c.records) {
		return core.Record{}, apperrors.OutOfRange("collection.at", pos, len(c.records))
	}
	return c.records[pos], nil
}

// Records returns a copy of the current list.  Payloads are shared and must
// not be modified.
func (c *Collection) Records() []core.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Record, len(c.records))
	copy(out, c.records)
	return out
}

// ── Mutations ─────────────────────────────────────────────────────────────────

// Ingest fits src into box, encodes it, and stores the result as the new
// record at position 0.
func (c *Collection) Ingest(ctx context.Context, src core.Source, box core.Size) (core.Record, error) {
	payload, err := c.codec.Encode(ctx, src, box)
	if err != nil {
		c.observe("ingest", err)
		return core.Record{}, err
	}
	return c.commitInsert(ctx, payload)
}

// IngestImage is Ingest for an image that is already decoded.
func (c *Collection) IngestImage(ctx context.Context, img image.Image, box core.Size) (core.Record, error) {
	payload, err := c.codec.EncodeImage(ctx, img, box)
	if err != nil {
		c.observe("ingest", err)
		return core.Record{}, err
	}
	return c.commitInsert(ctx, payload)
}

// Evict removes the record at pos.
func (c *Collection) Evict(ctx context.Context, pos int) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	current := c.Records()
	if pos < 0 || pos >= len(current) {
		err := apperrors.OutOfRange("collection.evict", pos, len(current))
		c.observe("evict", err)
		return err
	}

	durable, err := c.store.Delete(ctx, pos)
	c.observe("evict", err)
	if err != nil {
		return err
	}

	expected := make([]core.Record, 0, len(current)-1)
	expected = append(expected, current[:pos]...)
	expected = append(expected, current[pos+1:]...)
	c.adopt(durable, expected, func(n core.Notifier) { n.ItemRemoved(pos) })
	return nil
}

// EvictionRequested implements core.EvictionRequester for presentation
// cells.  Failures are logged; the collection is unchanged on failure.
func (c *Collection) EvictionRequested(pos int) {
	if err := c.Evict(context.Background(), pos); err != nil {
		c.logger.Warn("collection.evict.failed", "position", pos, "error", err.Error())
	}
}

func (c *Collection) commitInsert(ctx context.Context, payload []byte) (core.Record, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	rec := core.NewRecord(payload, c.now())
	durable, err := c.store.Insert(ctx, 0, rec)
	c.observe("ingest", err)
	if err != nil {
		return core.Record{}, err
	}

	current := c.Records()
	expected := make([]core.Record, 0, len(current)+1)
	expected = append(expected, rec)
	expected = append(expected, current...)
	c.adopt(durable, expected, func(n core.Notifier) { n.ItemInserted(0) })
	return rec, nil
}

// adopt makes the durable list the in-memory one.  When it is not what the
// local mutation predicted, memory had drifted from disk: the notifier is
// reset instead of being told about a single position.
func (c *Collection) adopt(durable, expected []core.Record, notify func(core.Notifier)) {
	drifted := !sameRecords(durable, expected)

	c.mu.Lock()
	c.records = durable
	c.mu.Unlock()

	if !drifted {
		notify(c.notifier)
		return
	}
	c.logger.Warn("collection.drift", "expected", len(expected), "durable", len(durable))
	if r, ok := c.notifier.(core.Resetter); ok {
		r.ItemsReset()
		return
	}
	notify(c.notifier)
}

func (c *Collection) observe(op string, err error) {
	if c.metrics != nil {
		c.metrics.RecordOperation(op, err)
	}
}

func sameRecords(a, b []core.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

type nopNotifier struct{}

func (nopNotifier) ItemInserted(int) {}
func (nopNotifier) ItemRemoved(int)  {}

var _ core.EvictionRequester = (*Collection)(nil)
