package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/types"
)

// ErrPoolClosed is returned by calls made after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Worker is the part of PythonWorker the pool depends on.
type Worker interface {
	Detect(img types.RGBImage) ([]types.FaceLocation, error)
	Encode(img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error)
	Logs() string
	Close()
}

// Spawner starts a new worker with the given id.
type Spawner func(id int) (Worker, error)

// Logs returns the child's captured stderr.
func (w *PythonWorker) Logs() string {
	return w.Cmd.Logs()
}

// PythonSpawner launches PythonWorkers from cfg.
func PythonSpawner(cfg Config) Spawner {
	return func(id int) (Worker, error) {
		return NewPythonWorker(id, cfg)
	}
}

type slot struct {
	id int
	w  Worker
}

// Pool lends a fixed number of single-threaded workers to concurrent callers. Workers are
// started lazily and replaced after a pipe failure.
type Pool struct {
	spawn  Spawner
	logger *slog.Logger
	idle   chan *slot

	mu     sync.Mutex
	closed bool
	size   int
}

// NewPool creates a pool of size slots. No process is started until first use or Warm.
func NewPool(size int, spawn Spawner, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		spawn:  spawn,
		logger: logger,
		idle:   make(chan *slot, size),
		size:   size,
	}
	for i := 0; i < size; i++ {
		p.idle <- &slot{id: i}
	}
	return p
}

// Size is the number of workers the pool can run at once.
func (p *Pool) Size() int {
	return p.size
}

// Warm starts every worker now, so a broken interpreter or script fails at startup
// rather than on the first request.
func (p *Pool) Warm(ctx context.Context) error {
	slots := make([]*slot, 0, p.size)
	defer func() {
		for _, s := range slots {
			p.idle <- s
		}
	}()
	for i := 0; i < p.size; i++ {
		s, err := p.acquire(ctx)
		if err != nil {
			return err
		}
		slots = append(slots, s)
		if s.w == nil {
			w, err := p.spawn(s.id)
			if err != nil {
				return fmt.Errorf("failed to start worker %d: %w", s.id, err)
			}
			s.w = w
		}
	}
	return nil
}

// Detect runs face detection on a pooled worker.
func (p *Pool) Detect(ctx context.Context, img types.RGBImage) ([]types.FaceLocation, error) {
	var locs []types.FaceLocation
	err := p.do(ctx, func(w Worker) (err error) {
		locs, err = w.Detect(img)
		return err
	})
	return locs, err
}

// Encode runs embedding extraction on a pooled worker.
func (p *Pool) Encode(ctx context.Context, img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	var vecs []encoding.Vector
	err := p.do(ctx, func(w Worker) (err error) {
		vecs, err = w.Encode(img, locs)
		return err
	})
	return vecs, err
}

// Close waits for busy workers to come back, then stops them all.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		s := <-p.idle
		if s.w != nil {
			s.w.Close()
			s.w = nil
		}
	}
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) acquire(ctx context.Context) (*slot, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	select {
	case s := <-p.idle:
		if p.isClosed() {
			p.idle <- s
			return nil, ErrPoolClosed
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) do(ctx context.Context, fn func(Worker) error) error {
	s, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { p.idle <- s }()

	if s.w == nil {
		w, err := p.spawn(s.id)
		if err != nil {
			return fmt.Errorf("failed to start worker %d: %w", s.id, err)
		}
		s.w = w
	}

	err = fn(s.w)
	if errors.Is(err, ErrPipe) {
		// The child is gone or out of sync; drain it and start fresh next time.
		s.w.Close()
		p.logger.Error("face worker crashed, it will be restarted",
			"worker", s.id, "error", err, "stderr", s.w.Logs())
		s.w = nil
	}
	return err
}
