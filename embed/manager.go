package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/resource"
)

// Config configures a Manager.
type Config struct {
	// ModelID identifies the model; it keys query caches and manifests.
	ModelID string
	// Dims is the expected width. Zero accepts whatever the backend returns
	// first and pins it.
	Dims int

	// BatchSize is the upper bound of texts per backend call.
	BatchSize int

	LoadTimeout  time.Duration
	EmbedTimeout time.Duration
	// PerTextTimeout is added to EmbedTimeout for every text in a batch.
	PerTextTimeout time.Duration

	// MaxReloads bounds consecutive reloads after ErrBackendCrashed.
	MaxReloads    int
	ReloadBackoff time.Duration

	// Batches faster than FastBatch grow the batch size by one, batches
	// slower than SlowBatch shrink it.
	FastBatch time.Duration
	SlowBatch time.Duration
}

// DefaultConfig returns batches of 4, a 60s load timeout, 30s + 1s per text
// for embedding and up to 3 reloads.
func DefaultConfig() Config {
	return Config{
		BatchSize:      4,
		LoadTimeout:    60 * time.Second,
		EmbedTimeout:   30 * time.Second,
		PerTextTimeout: time.Second,
		MaxReloads:     3,
		ReloadBackoff:  time.Second,
		FastBatch:      time.Second,
		SlowBatch:      5 * time.Second,
	}
}

// Manager drives a Backend.
type Manager struct {
	backend Backend
	cfg     Config
	rc      *resource.Controller
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	loaded    bool
	batchSize int
	reloads   int
	dims      int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithResourceController shares a controller whose credit window bounds the
// batches in flight.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Manager) {
		if rc != nil {
			m.rc = rc
		}
	}
}

// WithClock sets the clock used to time batches.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager. Zero sizes and durations take their defaults;
// MaxReloads and ReloadBackoff are used as given.
func NewManager(backend Backend, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.PerTextTimeout <= 0 {
		cfg.PerTextTimeout = def.PerTextTimeout
	}
	if cfg.MaxReloads < 0 {
		cfg.MaxReloads = 0
	}
	if cfg.ReloadBackoff < 0 {
		cfg.ReloadBackoff = 0
	}
	if cfg.FastBatch <= 0 {
		cfg.FastBatch = def.FastBatch
	}
	if cfg.SlowBatch <= 0 {
		cfg.SlowBatch = def.SlowBatch
	}

	m := &Manager{
		backend:   backend,
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		batchSize: cfg.BatchSize,
		dims:      cfg.Dims,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rc == nil {
		m.rc = resource.NewController(resource.Config{})
	}
	return m
}

// Start loads the backend.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if loaded {
		return nil
	}
	if err := m.load(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Stop unloads the backend.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.loaded = false
	m.mu.Unlock()
	if !loaded {
		return nil
	}
	return m.backend.Unload(ctx)
}

// ModelID returns the configured model id.
func (m *Manager) ModelID() string { return m.cfg.ModelID }

// Dims returns the embedding width, or 0 before the first batch when not
// configured.
func (m *Manager) Dims() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dims
}

// BatchSize returns the current adaptive batch size.
func (m *Manager) BatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchSize
}

// ReduceBatchSize shrinks the batch size to three quarters, at least one.
// It is the memory-pressure hint.
func (m *Manager) ReduceBatchSize() {
	m.mu.Lock()
	m.batchSize = max(1, m.batchSize*3/4)
	bs := m.batchSize
	m.mu.Unlock()
	m.logger.Info("embedding batch size reduced", "batch_size", bs)
}

// EmbedQuery embeds a single query text.
func (m *Manager) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	r, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return r.Vectors, nil
}

// EmbedBatch embeds texts in order, split into batches of the current size.
// Each batch holds one credit while it runs.
func (m *Manager) EmbedBatch(ctx context.Context, texts []string) (Result, error) {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if !loaded {
		return Result{}, ErrNotReady
	}
	if len(texts) == 0 {
		return Result{Vectors: []float32{}, Dims: m.Dims()}, nil
	}

	var out Result
	for i := 0; i < len(texts); {
		n := min(m.BatchSize(), len(texts)-i)
		vecs, dims, err := m.embedWithRecovery(ctx, texts[i:i+n])
		if err != nil {
			return Result{}, err
		}
		if out.Vectors == nil {
			out.Vectors = make([]float32, 0, len(texts)*dims)
		}
		out.Vectors = append(out.Vectors, vecs...)
		out.Dims = dims
		i += n
	}
	return out, nil
}

func (m *Manager) embedWithRecovery(ctx context.Context, batch []string) ([]float32, int, error) {
	for {
		vecs, dims, err := m.process(ctx, batch)
		if err == nil {
			m.mu.Lock()
			m.reloads = 0
			m.mu.Unlock()
			return vecs, dims, nil
		}
		if !errors.Is(err, ErrBackendCrashed) {
			return nil, 0, err
		}

		m.mu.Lock()
		if m.reloads >= m.cfg.MaxReloads {
			m.mu.Unlock()
			return nil, 0, fmt.Errorf("%w: max reloads exceeded", err)
		}
		m.reloads++
		attempt := m.reloads
		m.mu.Unlock()

		m.logger.WarnContext(ctx, "embedding backend crashed, reloading", "attempt", attempt, "max", m.cfg.MaxReloads, "error", err)
		if err := m.reload(ctx, attempt); err != nil {
			return nil, 0, fmt.Errorf("embedding backend recovery failed: %w", err)
		}
	}
}

func (m *Manager) reload(ctx context.Context, attempt int) error {
	if err := m.backend.Unload(ctx); err != nil {
		m.logger.DebugContext(ctx, "unload after crash failed", "error", err)
	}

	if backoff := time.Duration(attempt) * m.cfg.ReloadBackoff; backoff > 0 {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
	defer cancel()

	start := m.now()
	if err := m.backend.Load(lctx); err != nil {
		return timeoutError(ctx, lctx, "model load", err)
	}
	m.logger.InfoContext(ctx, "embedding model loaded", "model", m.cfg.ModelID, "duration", m.now().Sub(start))
	return nil
}

func (m *Manager) process(ctx context.Context, batch []string) ([]float32, int, error) {
	if err := m.rc.AcquireCredit(ctx); err != nil {
		return nil, 0, err
	}
	defer m.rc.ReleaseCredit()

	timeout := m.cfg.EmbedTimeout + time.Duration(len(batch))*m.cfg.PerTextTimeout
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := m.now()
	vecs, dims, err := m.backend.Embed(ectx, batch)
	if err != nil {
		return nil, 0, timeoutError(ctx, ectx, "embed batch", err)
	}
	elapsed := m.now().Sub(start)

	if dims <= 0 || len(vecs) != len(batch)*dims {
		return nil, 0, fmt.Errorf("%w: backend returned %d values for %d texts of %d dims", errs.ErrIntegrity, len(vecs), len(batch), dims)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 {
		m.dims = dims
	} else if dims != m.dims {
		return nil, 0, &errs.DimensionMismatchError{Expected: m.dims, Actual: dims}
	}
	m.adaptLocked(elapsed)
	return vecs, dims, nil
}

func (m *Manager) adaptLocked(elapsed time.Duration) {
	switch {
	case elapsed > m.cfg.SlowBatch && m.batchSize > 1:
		m.batchSize = max(1, m.batchSize*3/4)
	case elapsed < m.cfg.FastBatch && m.batchSize < m.cfg.BatchSize:
		m.batchSize++
	}
}

// timeoutError maps a deadline hit by the inner context to ErrTimeout.
func timeoutError(parent, inner context.Context, op string, err error) error {
	if parent.Err() == nil && errors.Is(inner.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return err
}
