package collection

import (
	"context"

	"github.com/Skryldev/image-shelf/core"
)

// IngestAsync is Ingest with the encode running on the codec's worker pool.
// The commit still goes through the collection's mutation lock.  The
// returned channel receives exactly one result and is then closed.
func (c *Collection) IngestAsync(ctx context.Context, src core.Source, box core.Size) <-chan IngestResult {
	out := make(chan IngestResult, 1)
	go func() {
		defer close(out)
		var res EncodeResult
		select {
		case res = <-c.codec.EncodeAsync(ctx, src, box):
		case <-ctx.Done():
			res.Err = ctx.Err()
		}
		if res.Err != nil {
			c.observe("ingest", res.Err)
			out <- IngestResult{Err: res.Err}
			return
		}
		rec, err := c.commitInsert(ctx, res.Payload)
		out <- IngestResult{Record: rec, Err: err}
	}()
	return out
}

// IngestAll encodes srcs concurrently, then commits them in input order, so
// the last source ends up at position 0.  Records and errors are
// index-aligned with srcs; a failed source does not stop the others.
func (c *Collection) IngestAll(ctx context.Context, srcs []core.Source, box core.Size) ([]core.Record, []error) {
	records := make([]core.Record, len(srcs))
	payloads, errs := c.codec.EncodeBatch(ctx, srcs, box)
	for i := range srcs {
		if errs[i] != nil {
			c.observe("ingest", errs[i])
			continue
		}
		records[i], errs[i] = c.commitInsert(ctx, payloads[i])
	}
	return records, errs
}
