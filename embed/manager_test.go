package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/resource"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu      sync.Mutex
	dims    int
	loads   int
	unloads int
	batches [][]string
	crashes int // remaining calls that crash
	took    time.Duration
	clock   *fakeClock
	block   chan struct{}
	fail    error
}

func (f *fakeBackend) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeBackend) Unload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	return nil
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string) ([]float32, int, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, 0, f.fail
	}
	if f.crashes > 0 {
		f.crashes--
		return nil, 0, ErrBackendCrashed
	}
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.clock != nil {
		f.clock.Advance(f.took)
	}

	out := make([]float32, len(texts)*f.dims)
	for i := range texts {
		out[i*f.dims] = float32(len(f.batches)*100 + i)
	}
	return out, f.dims, nil
}

func (f *fakeBackend) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, b := range f.batches {
		out = append(out, len(b))
	}
	return out
}

func start(t *testing.T, b Backend, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(b, cfg, opts...)
	require.NoError(t, m.Start(context.Background()))
	return m
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestManager_NotReady(t *testing.T) {
	m := NewManager(&fakeBackend{dims: 2}, Config{})
	_, err := m.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManager_SplitsIntoBatches(t *testing.T) {
	b := &fakeBackend{dims: 2}
	m := start(t, b, Config{ModelID: "m", BatchSize: 4})

	r, err := m.EmbedBatch(context.Background(), texts(10))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Dims)
	assert.Equal(t, 10, r.Rows())
	assert.Equal(t, []int{4, 4, 2}, b.batchSizes())
	assert.Equal(t, float32(100), r.Row(0)[0])
	assert.Equal(t, float32(203), r.Row(7)[0])
	assert.Equal(t, 2, m.Dims())
	assert.Equal(t, "m", m.ModelID())

	r, err = m.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, r.Rows())
	assert.Equal(t, 2, r.Dims)
}

func TestManager_EmbedQuery(t *testing.T) {
	m := start(t, &fakeBackend{dims: 3}, Config{})
	v, err := m.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestManager_AdaptiveBatchSize(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := &fakeBackend{dims: 1, clock: clock, took: 6 * time.Second}
	m := start(t, b, Config{BatchSize: 4}, WithClock(clock.Now))

	_, err := m.EmbedBatch(context.Background(), texts(4))
	require.NoError(t, err)
	assert.Equal(t, 3, m.BatchSize())

	_, err = m.EmbedBatch(context.Background(), texts(3))
	require.NoError(t, err)
	assert.Equal(t, 2, m.BatchSize())

	b.took = 10 * time.Millisecond
	_, err = m.EmbedBatch(context.Background(), texts(5))
	require.NoError(t, err)
	assert.Equal(t, 4, m.BatchSize())
	assert.Equal(t, []int{4, 3, 2, 3}, b.batchSizes())

	// Never above the configured size.
	_, err = m.EmbedBatch(context.Background(), texts(4))
	require.NoError(t, err)
	assert.Equal(t, 4, m.BatchSize())
}

func TestManager_ReduceBatchSize(t *testing.T) {
	m := NewManager(&fakeBackend{dims: 1}, Config{BatchSize: 4})
	m.ReduceBatchSize()
	assert.Equal(t, 3, m.BatchSize())
	m.ReduceBatchSize()
	assert.Equal(t, 2, m.BatchSize())
	m.ReduceBatchSize()
	m.ReduceBatchSize()
	assert.Equal(t, 1, m.BatchSize())
}

func TestManager_ReloadsAfterCrash(t *testing.T) {
	b := &fakeBackend{dims: 1, crashes: 2}
	m := start(t, b, Config{MaxReloads: 3})

	r, err := m.EmbedBatch(context.Background(), texts(2))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rows())
	assert.Equal(t, 3, b.loads)
	assert.Equal(t, 2, b.unloads)
}

func TestManager_GivesUpAfterMaxReloads(t *testing.T) {
	b := &fakeBackend{dims: 1, crashes: 10}
	m := start(t, b, Config{MaxReloads: 3})

	_, err := m.EmbedBatch(context.Background(), texts(1))
	assert.ErrorIs(t, err, ErrBackendCrashed)
	assert.Equal(t, 4, b.loads)
}

func TestManager_Timeout(t *testing.T) {
	b := &fakeBackend{dims: 1, block: make(chan struct{})}
	m := start(t, b, Config{EmbedTimeout: 10 * time.Millisecond, PerTextTimeout: time.Millisecond})

	_, err := m.EmbedBatch(context.Background(), texts(1))
	assert.ErrorIs(t, err, ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.EmbedBatch(ctx, texts(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestManager_DimensionChecks(t *testing.T) {
	b := &fakeBackend{dims: 3}
	m := start(t, b, Config{Dims: 4})
	_, err := m.EmbedBatch(context.Background(), texts(1))
	var dm *errs.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	b.fail = errors.New("boom")
	_, err = m.EmbedBatch(context.Background(), texts(1))
	assert.EqualError(t, err, "boom")
}

func TestManager_CreditWindow(t *testing.T) {
	rc := resource.NewController(resource.Config{Credits: 2})
	b := &fakeBackend{dims: 1, block: make(chan struct{})}
	m := start(t, b, Config{BatchSize: 1}, WithResourceController(rc))

	var wg sync.WaitGroup
	var done atomic.Int32
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EmbedBatch(context.Background(), texts(1)); err == nil {
				done.Add(1)
			}
		}()
	}

	assert.Eventually(t, func() bool { return rc.CreditsInFlight() == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(2), rc.CreditsInFlight())

	close(b.block)
	wg.Wait()
	assert.Equal(t, int32(4), done.Load())
	assert.Zero(t, rc.CreditsInFlight())
}

func TestManager_Stop(t *testing.T) {
	b := &fakeBackend{dims: 1}
	m := start(t, b, Config{})
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 1, b.loads)

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, 1, b.unloads)

	_, err := m.EmbedBatch(context.Background(), texts(1))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestHashBackend(t *testing.T) {
	h := NewHashBackend(16)
	vecs, dims, err := h.Embed(context.Background(), []string{"Hello world", "hello, WORLD!", "other words", ""})
	require.NoError(t, err)
	require.Equal(t, 16, dims)
	require.Len(t, vecs, 4*16)

	r := Result{Vectors: vecs, Dims: dims}
	assert.Equal(t, r.Row(0), r.Row(1))
	assert.NotEqual(t, r.Row(0), r.Row(2))

	for i := range 4 {
		var norm float64
		for _, v := range r.Row(i) {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	}

	assert.Equal(t, 384, NewHashBackend(0).Dims())
}
