package face

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hostelhub/internal/metrics"
)

// Engine loads a Model exactly once and hands it out once ready.
type Engine struct {
	model       Model
	loadTimeout time.Duration
	log         *slog.Logger
	metrics     *metrics.Collectors

	once  sync.Once
	ready chan struct{}
	err   error
}

// NewEngine wraps model. Nothing is loaded until Init or Wait is called.
func NewEngine(model Model, loadTimeout time.Duration, log *slog.Logger, m *metrics.Collectors) *Engine {
	if loadTimeout <= 0 {
		loadTimeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		model:       model,
		loadTimeout: loadTimeout,
		log:         log,
		metrics:     m,
		ready:       make(chan struct{}),
	}
}

// Init starts the background load if it has not started yet and returns a
// channel closed once loading finished, successfully or not.
func (e *Engine) Init() <-chan struct{} {
	e.once.Do(func() {
		go e.load()
	})
	return e.ready
}

func (e *Engine) load() {
	defer close(e.ready)
	ctx, cancel := context.WithTimeout(context.Background(), e.loadTimeout)
	defer cancel()

	start := time.Now()
	if err := e.model.Load(ctx); err != nil {
		e.err = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		e.log.Error("face model load failed", "error", err, "elapsed", time.Since(start))
		e.metrics.SetModelReady(false)
		return
	}
	e.log.Info("face model loaded", "elapsed", time.Since(start))
	e.metrics.SetModelReady(true)
}

// Wait blocks until the model is loaded. A failed load is permanent.
func (e *Engine) Wait(ctx context.Context) (Model, error) {
	select {
	case <-e.Init():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.model, nil
}

// Ready reports whether the model loaded successfully, without blocking.
func (e *Engine) Ready() bool {
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}
