package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-shelf/adapters/storage"
	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
	"github.com/Skryldev/image-shelf/store"
)

const fileName = "images.cbor"

var box = core.Size{Width: 64, Height: 64}

// ── fakes ─────────────────────────────────────────────────────────────────────

// echoCodec returns the source bytes unchanged as the payload.
type echoCodec struct {
	fail error
}

func (c echoCodec) Encode(_ context.Context, src core.Source, _ core.Size) ([]byte, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	b, err := io.ReadAll(src.Reader)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, apperrors.New(apperrors.CategoryEncode, "echo", apperrors.ErrEmptyInput)
	}
	return b, nil
}

func (c echoCodec) EncodeImage(_ context.Context, img image.Image, _ core.Size) ([]byte, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "echo", err)
	}
	return buf.Bytes(), nil
}

func (c echoCodec) EncodeAsync(ctx context.Context, src core.Source, box core.Size) <-chan EncodeResult {
	ch := make(chan EncodeResult, 1)
	go func() {
		p, err := c.Encode(ctx, src, box)
		ch <- EncodeResult{Payload: p, Err: err}
	}()
	return ch
}

func (c echoCodec) EncodeBatch(ctx context.Context, srcs []core.Source, box core.Size) ([][]byte, []error) {
	out := make([][]byte, len(srcs))
	errs := make([]error, len(srcs))
	var wg sync.WaitGroup
	for i, s := range srcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], errs[i] = c.Encode(ctx, s, box)
		}()
	}
	wg.Wait()
	return out, errs
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) ItemInserted(pos int) { n.add(fmt.Sprintf("insert %d", pos)) }
func (n *recordingNotifier) ItemRemoved(pos int)  { n.add(fmt.Sprintf("remove %d", pos)) }

func (n *recordingNotifier) add(e string) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type resettingNotifier struct {
	recordingNotifier
}

func (n *resettingNotifier) ItemsReset() { n.add("reset") }

// failingStore wraps a RecordStore and fails mutations while fail is set.
type failingStore struct {
	RecordStore
	fail error
}

func (s *failingStore) Insert(ctx context.Context, pos int, rec core.Record) ([]core.Record, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return s.RecordStore.Insert(ctx, pos, rec)
}

func (s *failingStore) Delete(ctx context.Context, pos int) ([]core.Record, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return s.RecordStore.Delete(ctx, pos)
}

type opCounter struct {
	mu  sync.Mutex
	ok  map[string]int
	bad map[string]int
}

func newOpCounter() *opCounter { return &opCounter{ok: map[string]int{}, bad: map[string]int{}} }

func (m *opCounter) RecordProcessingTime(string, time.Duration) {}
func (m *opCounter) RecordThroughput(int64)                      {}
func (m *opCounter) RecordError(string, string)                  {}
func (m *opCounter) RecordOperation(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.bad[op]++
		return
	}
	m.ok[op]++
}

// ── helpers ───────────────────────────────────────────────────────────────────

func newStore(t *testing.T) (*store.Store[core.Record], string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shelf")
	return store.New[core.Record](storage.NewLocal(dir, 0o600), fileName), dir
}

// tickingClock returns strictly increasing timestamps.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second + time.Nanosecond)
		return t
	}
}

func src(payload string) core.Source {
	return core.Source{Reader: bytes.NewReader([]byte(payload)), Size: int64(len(payload))}
}

func payloads(recs []core.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r.Payload)
	}
	return out
}

func requireInSync(t *testing.T, c *Collection, st RecordStore) {
	t.Helper()
	disk, err := st.Load(context.Background())
	require.NoError(t, err)
	mem := c.Records()
	require.Len(t, disk, len(mem))
	for i := range mem {
		assert.True(t, mem[i].Equal(disk[i]), "position %d differs between memory and disk", i)
	}
}

// ── scenarios ─────────────────────────────────────────────────────────────────

func TestScenario_IngestIngestEvict(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	n := &recordingNotifier{}
	c := New(ctx, st, echoCodec{}, WithNotifier(n), WithClock(tickingClock()))
	require.Equal(t, 0, c.Len())

	a, err := c.Ingest(ctx, src("A"), box)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, payloads(c.Records()))
	requireInSync(t, c, st)

	b, err := c.Ingest(ctx, src("B"), box)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, payloads(c.Records()))
	assert.True(t, b.CreatedAt.After(a.CreatedAt))
	requireInSync(t, c, st)

	require.NoError(t, c.Evict(ctx, 1))
	assert.Equal(t, []string{"B"}, payloads(c.Records()))
	requireInSync(t, c, st)

	assert.Equal(t, []string{"insert 0", "insert 0", "remove 1"}, n.Events())
}

func TestScenario_EvictOutOfRange(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	n := &recordingNotifier{}
	c := New(ctx, st, echoCodec{}, WithNotifier(n))
	for _, p := range []string{"A", "B"} {
		_, err := c.Ingest(ctx, src(p), box)
		require.NoError(t, err)
	}

	for _, pos := range []int{5, 2, -1} {
		err := c.Evict(ctx, pos)
		require.Error(t, err)
		assert.True(t, apperrors.IsIndex(err), "pos %d", pos)
	}
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"insert 0", "insert 0"}, n.Events())
	requireInSync(t, c, st)
}

func TestScenario_CorruptBackingFile(t *testing.T) {
	ctx := context.Background()
	st, dir := newStore(t)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	corrupt := []byte{0xff, 0x00, 0x13, 0x37}
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), corrupt, 0o600))

	_, err := st.Load(ctx)
	require.Error(t, err)
	require.True(t, apperrors.IsDecode(err))

	metrics := newOpCounter()
	c := New(ctx, st, echoCodec{}, WithMetrics(metrics))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, metrics.bad["load"])

	// Mutations re-read the file and fail the same way; nothing is
	// overwritten.
	_, err = c.Ingest(ctx, src("A"), box)
	require.Error(t, err)
	assert.True(t, apperrors.IsDecode(err))
	assert.Equal(t, 0, c.Len())

	got, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	assert.Equal(t, corrupt, got)
}

// ── properties ────────────────────────────────────────────────────────────────

func TestIngest_PrependsAndShifts(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{}, WithClock(tickingClock()))

	var want []string
	for i := range 6 {
		p := fmt.Sprintf("img-%d", i)
		before := c.Records()
		rec, err := c.Ingest(ctx, src(p), box)
		require.NoError(t, err)

		after := c.Records()
		require.Len(t, after, len(before)+1)
		assert.True(t, after[0].Equal(rec))
		for j := range before {
			assert.True(t, before[j].Equal(after[j+1]))
		}
		want = append([]string{p}, want...)
	}
	assert.Equal(t, want, payloads(c.Records()))
	requireInSync(t, c, st)
}

func TestEvict_RemovesExactlyOne(t *testing.T) {
	ctx := context.Background()
	for pos := range 5 {
		t.Run(fmt.Sprintf("pos=%d", pos), func(t *testing.T) {
			st, _ := newStore(t)
			c := New(ctx, st, echoCodec{}, WithClock(tickingClock()))
			for i := range 5 {
				_, err := c.Ingest(ctx, src(fmt.Sprint(i)), box)
				require.NoError(t, err)
			}
			before := c.Records()
			require.NoError(t, c.Evict(ctx, pos))
			after := c.Records()

			require.Len(t, after, len(before)-1)
			for j := 0; j < pos; j++ {
				assert.True(t, before[j].Equal(after[j]))
			}
			for j := pos; j < len(after); j++ {
				assert.True(t, before[j+1].Equal(after[j]))
			}
			requireInSync(t, c, st)
		})
	}
}

// Memory and disk agree after any sequence of successful operations, and a
// fresh Collection over the same file sees the same list.
func TestMixedSequence_StaysInSync(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{}, WithClock(tickingClock()))

	ops := []struct {
		ingest string
		evict  int
	}{
		{ingest: "a"}, {ingest: "b"}, {ingest: "c"}, {evict: 0},
		{ingest: "d"}, {evict: 2}, {ingest: "e"}, {evict: 1}, {evict: 0},
	}
	for _, op := range ops {
		if op.ingest != "" {
			_, err := c.Ingest(ctx, src(op.ingest), box)
			require.NoError(t, err)
		} else {
			require.NoError(t, c.Evict(ctx, op.evict))
		}
		requireInSync(t, c, st)
	}

	reopened := New(ctx, st, echoCodec{})
	assert.Equal(t, payloads(c.Records()), payloads(reopened.Records()))
}

// ── failures ──────────────────────────────────────────────────────────────────

func TestIngest_EncodeFailureLeavesEverythingAlone(t *testing.T) {
	ctx := context.Background()
	st, dir := newStore(t)
	n := &recordingNotifier{}
	encErr := apperrors.New(apperrors.CategoryEncode, "encode", errors.New("boom"))
	c := New(ctx, st, echoCodec{fail: encErr}, WithNotifier(n))

	_, err := c.Ingest(ctx, src("A"), box)
	require.Error(t, err)
	assert.True(t, apperrors.IsEncode(err))
	assert.Same(t, encErr, err, "errors are returned unchanged")

	_, err = c.IngestImage(ctx, image.NewRGBA(image.Rect(0, 0, 2, 2)), box)
	assert.True(t, apperrors.IsEncode(err))

	assert.Equal(t, 0, c.Len())
	assert.Empty(t, n.Events())
	_, statErr := os.Stat(dir)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no backing file is created")
}

func TestMutations_StoreFailureLeavesMemoryAlone(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	fs := &failingStore{RecordStore: st}
	n := &recordingNotifier{}
	c := New(ctx, fs, echoCodec{}, WithNotifier(n))
	_, err := c.Ingest(ctx, src("A"), box)
	require.NoError(t, err)

	writeErr := apperrors.New(apperrors.CategoryWrite, "store.insert", errors.New("disk full"))
	fs.fail = writeErr

	_, err = c.Ingest(ctx, src("B"), box)
	require.Error(t, err)
	assert.True(t, apperrors.IsWrite(err))
	assert.Equal(t, []string{"A"}, payloads(c.Records()))

	err = c.Evict(ctx, 0)
	assert.True(t, apperrors.IsWrite(err))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"insert 0"}, n.Events())
	requireInSync(t, c, st)
}

func TestUnwritableDirectory_WriteError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	st := store.New[core.Record](storage.NewLocal(filepath.Join(blocker, "shelf"), 0), fileName)

	c := New(context.Background(), st, echoCodec{})
	_, err := c.Ingest(context.Background(), src("A"), box)
	require.Error(t, err)
	assert.True(t, apperrors.IsWrite(err))
	assert.Equal(t, 0, c.Len())
}

// ── drift ─────────────────────────────────────────────────────────────────────

func TestDrift_AdoptsDiskAndResets(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	n := &resettingNotifier{}
	c := New(ctx, st, echoCodec{}, WithNotifier(n), WithClock(tickingClock()))
	_, err := c.Ingest(ctx, src("A"), box)
	require.NoError(t, err)

	// Someone else appends to the file behind the collection's back.
	_, err = st.Create(ctx, core.NewRecord([]byte("X"), time.Unix(1, 0)))
	require.NoError(t, err)

	_, err = c.Ingest(ctx, src("B"), box)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "X"}, payloads(c.Records()))
	assert.Equal(t, []string{"insert 0", "reset"}, n.Events())
	requireInSync(t, c, st)
}

// ── capability & reads ────────────────────────────────────────────────────────

func TestEvictionRequested(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	n := &recordingNotifier{}
	c := New(ctx, st, echoCodec{}, WithNotifier(n))
	for _, p := range []string{"A", "B"} {
		_, err := c.Ingest(ctx, src(p), box)
		require.NoError(t, err)
	}

	var cell core.EvictionRequester = c
	cell.EvictionRequested(9) // logged, no change
	cell.EvictionRequested(0)
	assert.Equal(t, []string{"A"}, payloads(c.Records()))
	assert.Equal(t, []string{"insert 0", "insert 0", "remove 0"}, n.Events())
}

func TestAt(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{})
	_, err := c.At(0)
	assert.True(t, apperrors.IsIndex(err))

	_, err = c.Ingest(ctx, src("A"), box)
	require.NoError(t, err)
	rec, err := c.At(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), rec.Payload)
}

func TestRecords_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{})
	_, err := c.Ingest(ctx, src("A"), box)
	require.NoError(t, err)

	recs := c.Records()
	recs[0] = core.Record{}
	got, err := c.At(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got.Payload)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	m := newOpCounter()
	c := New(ctx, st, echoCodec{}, WithMetrics(m))
	_, _ = c.Ingest(ctx, src("A"), box)
	_, _ = c.Ingest(ctx, src(""), box)
	_ = c.Evict(ctx, 3)
	_ = c.Evict(ctx, 0)

	assert.Equal(t, 1, m.ok["load"])
	assert.Equal(t, 1, m.ok["ingest"])
	assert.Equal(t, 1, m.bad["ingest"])
	assert.Equal(t, 1, m.ok["evict"])
	assert.Equal(t, 1, m.bad["evict"])
}

func TestIndependentCollections(t *testing.T) {
	ctx := context.Background()
	st1, _ := newStore(t)
	st2, _ := newStore(t)
	c1 := New(ctx, st1, echoCodec{})
	c2 := New(ctx, st2, echoCodec{})

	_, err := c1.Ingest(ctx, src("A"), box)
	require.NoError(t, err)
	assert.Equal(t, 1, c1.Len())
	assert.Equal(t, 0, c2.Len())
}

// ── async ─────────────────────────────────────────────────────────────────────

func TestIngestAsync(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	n := &recordingNotifier{}
	c := New(ctx, st, echoCodec{}, WithNotifier(n))

	res := <-c.IngestAsync(ctx, src("A"), box)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("A"), res.Record.Payload)
	assert.Equal(t, []string{"A"}, payloads(c.Records()))
	assert.Equal(t, []string{"insert 0"}, n.Events())

	res = <-c.IngestAsync(ctx, src(""), box)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, c.Len())
}

func TestIngestAsync_Concurrent(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{})

	const n = 12
	chans := make([]<-chan IngestResult, n)
	for i := range n {
		chans[i] = c.IngestAsync(ctx, src(fmt.Sprint(i)), box)
	}
	for _, ch := range chans {
		require.NoError(t, (<-ch).Err)
	}
	assert.Equal(t, n, c.Len())
	requireInSync(t, c, st)
}

func TestIngestAll_CommitsInInputOrder(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{}, WithClock(tickingClock()))

	recs, errs := c.IngestAll(ctx, []core.Source{src("a"), src(""), src("b"), src("c")}, box)
	require.Len(t, errs, 4)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
	assert.NoError(t, errs[2])
	assert.NoError(t, errs[3])
	assert.Equal(t, []byte("c"), recs[3].Payload)

	assert.Equal(t, []string{"c", "b", "a"}, payloads(c.Records()))
	requireInSync(t, c, st)
}

// ── preview ───────────────────────────────────────────────────────────────────

func TestPreview(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)
	c := New(ctx, st, echoCodec{})

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := range 30 {
		for x := range 40 {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	rec, err := c.IngestImage(ctx, img, box)
	require.NoError(t, err)

	meta, err := Preview(rec)
	require.NoError(t, err)
	assert.Equal(t, 40, meta.Width)
	assert.Equal(t, 30, meta.Height)
	assert.Equal(t, core.FormatJPEG, meta.Format)
	assert.Equal(t, int64(len(rec.Payload)), meta.SizeBytes)

	_, err = Preview(core.NewRecord([]byte("not an image"), time.Now()))
	assert.Error(t, err)
}
