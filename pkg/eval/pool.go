package eval

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quellaran/treeopt/pkg/errors"
	"github.com/quellaran/treeopt/pkg/graph"
	"github.com/quellaran/treeopt/pkg/logging"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	// Number of worker processes.
	Size int `json:"size" yaml:"size"`

	// Command line used to launch each worker process.
	Command []string `json:"command" yaml:"command"`

	// Per-call evaluation timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Interval between dead-worker restart sweeps.
	HealthInterval time.Duration `json:"health_interval" yaml:"health_interval"`
}

// DefaultPoolConfig returns the default worker pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:           4,
		Timeout:        30 * time.Second,
		HealthInterval: 5 * time.Second,
	}
}

// ProcFactory creates the external process behind one worker slot.
type ProcFactory func(id int) (Proc, error)

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithProcFactory overrides how worker processes are created. Used by tests
// to substitute in-memory fakes for real subprocesses.
func WithProcFactory(f ProcFactory) PoolOption {
	return func(p *WorkerPool) { p.factory = f }
}

type evalRequest struct {
	Allocation []graph.NodeID       `json:"allocation"`
	Selections map[graph.NodeID]int `json:"selections,omitempty"`
}

type evalResponse struct {
	Metrics map[string]float64 `json:"metrics"`
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
}

type worker struct {
	id   int
	proc Proc

	// sem grants exclusive ownership of the process channel for one
	// request/response exchange. It is held for the full exchange; mu is not.
	sem chan struct{}

	// mu covers only the bookkeeping flags below. It is never held across
	// Send/Recv, so a slow evaluation cannot block dispatch or health checks.
	mu   sync.Mutex
	busy bool
	dead bool
}

func (w *worker) alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.dead
}

// WorkerPool evaluates allocations on a fixed set of persistent external
// worker processes. Dispatch is round-robin across healthy workers; a worker
// that times out or crashes is marked dead, the call is retried once on a
// different worker, and a background health loop restarts dead workers.
type WorkerPool struct {
	config  PoolConfig
	factory ProcFactory
	workers []*worker
	next    atomic.Uint64

	// released is closed and replaced on every worker release or restart,
	// waking callers blocked in acquire.
	signalMu sync.Mutex
	released chan struct{}

	logger *logging.Logger

	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWorkerPool starts config.Size worker processes and the health loop.
// Construction fails if any worker cannot be started.
func NewWorkerPool(config PoolConfig, opts ...PoolOption) (*WorkerPool, error) {
	defaults := DefaultPoolConfig()
	if config.Size <= 0 {
		config.Size = defaults.Size
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = defaults.HealthInterval
	}

	p := &WorkerPool{
		config:    config,
		logger:    logging.GetLogger(),
		released:  make(chan struct{}),
		closeChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.factory == nil {
		if len(config.Command) == 0 {
			return nil, errors.New(errors.InvalidInput, "worker pool requires a command or a proc factory")
		}
		command := config.Command
		p.factory = func(int) (Proc, error) {
			return startProc(command)
		}
	}

	p.workers = make([]*worker, config.Size)
	for i := range p.workers {
		proc, err := p.factory(i)
		if err != nil {
			for _, w := range p.workers[:i] {
				_ = w.proc.Kill()
			}
			return nil, errors.WithFields(
				errors.Wrap(err, errors.WorkerCrashed, "failed to start worker"),
				errors.Fields{"worker": i},
			)
		}
		p.workers[i] = &worker{id: i, proc: proc, sem: make(chan struct{}, 1)}
	}

	p.wg.Add(1)
	go p.healthLoop()

	return p, nil
}

// Size returns the configured number of worker slots.
func (p *WorkerPool) Size() int { return len(p.workers) }

// AliveCount returns the number of workers currently considered healthy.
func (p *WorkerPool) AliveCount() int {
	alive := 0
	for _, w := range p.workers {
		if w.alive() {
			alive++
		}
	}
	return alive
}

// Evaluate dispatches the allocation to the next healthy worker. On worker
// timeout or crash the call is retried exactly once on a different worker;
// with no healthy worker left it fails with EvaluatorUnavailable.
func (p *WorkerPool) Evaluate(ctx context.Context, alloc *graph.Allocation) (Metrics, error) {
	req, err := json.Marshal(evalRequest{
		Allocation: alloc.SortedNodes(),
		Selections: alloc.Selections(),
	})
	if err != nil {
		return Metrics{}, errors.Wrap(err, errors.InvalidInput, "failed to encode evaluation request")
	}

	exclude := -1
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		w, err := p.acquire(ctx, exclude)
		if err != nil {
			if lastErr != nil {
				return Metrics{}, lastErr
			}
			return Metrics{}, err
		}

		metrics, err := p.exchange(ctx, w, req)
		p.release(w)
		if err == nil {
			return metrics, nil
		}
		if ctx.Err() != nil {
			return Metrics{}, err
		}

		lastErr = err
		exclude = w.id
		p.logger.Warn(ctx, "worker %d failed evaluation, retrying on a different worker: %v", w.id, err)
	}
	return Metrics{}, lastErr
}

// Close tears down the health loop and all worker processes.
func (p *WorkerPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.closeChan)
	})
	p.wg.Wait()

	for _, w := range p.workers {
		w.mu.Lock()
		dead := w.dead
		w.dead = true
		w.mu.Unlock()
		if !dead {
			_ = w.proc.Kill()
		}
	}
	return nil
}

// acquire claims exclusive ownership of the next free healthy worker,
// scanning round-robin from an atomically advanced start index. It blocks
// until a worker is released while all healthy workers are busy, and fails
// once none are alive.
func (p *WorkerPool) acquire(ctx context.Context, exclude int) (*worker, error) {
	n := len(p.workers)
	for {
		// Snapshot the release signal before scanning so a release that lands
		// mid-scan is not missed.
		released := p.releaseSignal()

		start := int(p.next.Add(1) % uint64(n))
		anyAlive := false
		for i := 0; i < n; i++ {
			w := p.workers[(start+i)%n]
			if w.id == exclude || !w.alive() {
				continue
			}
			anyAlive = true
			select {
			case w.sem <- struct{}{}:
			default:
				continue
			}
			w.mu.Lock()
			if w.dead {
				w.mu.Unlock()
				<-w.sem
				continue
			}
			w.busy = true
			w.mu.Unlock()
			return w, nil
		}

		if !anyAlive {
			return nil, errors.New(errors.EvaluatorUnavailable, "no healthy evaluation workers available")
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Canceled, "evaluation canceled while waiting for a worker")
		case <-p.closeChan:
			return nil, errors.New(errors.EvaluatorUnavailable, "worker pool closed")
		case <-released:
		}
	}
}

func (p *WorkerPool) releaseSignal() <-chan struct{} {
	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	return p.released
}

// broadcastRelease wakes every caller waiting in acquire.
func (p *WorkerPool) broadcastRelease() {
	p.signalMu.Lock()
	close(p.released)
	p.released = make(chan struct{})
	p.signalMu.Unlock()
}

func (p *WorkerPool) release(w *worker) {
	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
	<-w.sem
	p.broadcastRelease()
}

func (p *WorkerPool) markDead(w *worker) {
	w.mu.Lock()
	already := w.dead
	w.dead = true
	w.busy = false
	w.mu.Unlock()
	if !already {
		_ = w.proc.Kill()
	}
}

// exchange runs one request/response round trip on a worker the caller owns.
func (p *WorkerPool) exchange(ctx context.Context, w *worker, req []byte) (Metrics, error) {
	if err := w.proc.Send(req); err != nil {
		p.markDead(w)
		return Metrics{}, errors.WithFields(
			errors.Wrap(err, errors.WorkerCrashed, "failed to send evaluation request"),
			errors.Fields{"worker": w.id},
		)
	}

	type recvResult struct {
		line []byte
		err  error
	}
	recvCh := make(chan recvResult, 1)
	proc := w.proc
	go func() {
		line, err := proc.Recv()
		recvCh <- recvResult{line: line, err: err}
	}()

	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()

	select {
	case res := <-recvCh:
		if res.err != nil {
			p.markDead(w)
			return Metrics{}, errors.WithFields(
				errors.Wrap(res.err, errors.WorkerCrashed, "worker closed its response channel"),
				errors.Fields{"worker": w.id},
			)
		}
		return decodeResponse(res.line)
	case <-timer.C:
		// Killing the process unblocks the pending Recv goroutine.
		p.markDead(w)
		return Metrics{}, errors.WithFields(
			errors.New(errors.EvaluatorTimeout, "evaluation timed out"),
			errors.Fields{"worker": w.id, "timeout": p.config.Timeout.String()},
		)
	case <-ctx.Done():
		// The response would arrive for a request nobody is waiting on,
		// desyncing the channel. Recycle the worker instead.
		p.markDead(w)
		return Metrics{}, errors.Wrap(ctx.Err(), errors.Canceled, "evaluation canceled")
	}
}

func decodeResponse(line []byte) (Metrics, error) {
	var resp evalResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Metrics{}, errors.Wrap(err, errors.InvalidResponse, "malformed worker response")
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "worker reported evaluation failure"
		}
		return Metrics{}, errors.New(errors.InvalidResponse, msg)
	}
	return metricsFromWire(resp.Metrics)
}

func (p *WorkerPool) healthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeChan:
			return
		case <-ticker.C:
			p.restartDead(context.Background())
		}
	}
}

func (p *WorkerPool) restartDead(ctx context.Context) {
	for _, w := range p.workers {
		if w.alive() {
			continue
		}

		// Claim the slot so no in-flight exchange still owns the old process.
		select {
		case w.sem <- struct{}{}:
		default:
			continue
		}

		proc, err := p.factory(w.id)
		if err != nil {
			<-w.sem
			p.logger.Warn(ctx, "failed to restart worker %d: %v", w.id, err)
			continue
		}

		w.mu.Lock()
		w.proc = proc
		w.dead = false
		w.busy = false
		w.mu.Unlock()
		<-w.sem
		p.broadcastRelease()
		p.logger.Info(ctx, "restarted worker %d", w.id)
	}
}
