// Package engine is the boundary to the face-recognition models. Nothing outside it knows
// whether faces are found by a Python worker or by dlib in-process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/metrics"
	"github.com/andresmejia3/facematch/internal/types"
	"github.com/andresmejia3/facematch/internal/worker"
)

// Backend names accepted in Config.Backend.
const (
	BackendPython = "python"
	BackendDlib   = "dlib"
)

// ErrUnknownBackend is returned by New for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown face engine backend")

// Engine locates faces, extracts 128-d encodings, and measures distances between them.
type Engine interface {
	// DetectFaces returns every face in img. The order is the model's own.
	DetectFaces(ctx context.Context, img types.RGBImage) ([]types.FaceLocation, error)
	// EncodeFaces returns one encoding per location it could encode.
	EncodeFaces(ctx context.Context, img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error)
	// Distance returns the distance from probe to each reference, in order.
	Distance(refs []encoding.Vector, probe encoding.Vector) []float64
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Workers   int
	Python    string
	Script    string
	Model     string // "hog" or "cnn"
	ModelsDir string // dlib model files
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Backend {
	case BackendPython, "":
		return NewPython(ctx, cfg, logger)
	case BackendDlib:
		return newDlib(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Python is the face_recognition backend, run as a pool of worker processes.
type Python struct {
	pool *worker.Pool
}

// NewPython starts cfg.Workers Python workers and waits until they are all running.
func NewPython(ctx context.Context, cfg Config, logger *slog.Logger) (*Python, error) {
	pool := worker.NewPool(cfg.Workers, worker.PythonSpawner(worker.Config{
		Python: cfg.Python,
		Script: cfg.Script,
		Model:  cfg.Model,
	}), logger)
	if err := pool.Warm(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Python{pool: pool}, nil
}

// NewPythonWithPool wraps an existing pool; used by tests and by callers that spawn
// workers themselves.
func NewPythonWithPool(pool *worker.Pool) *Python {
	return &Python{pool: pool}
}

func (p *Python) DetectFaces(ctx context.Context, img types.RGBImage) ([]types.FaceLocation, error) {
	return p.pool.Detect(ctx, img)
}

func (p *Python) EncodeFaces(ctx context.Context, img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	if len(locs) == 0 {
		return nil, nil
	}
	return p.pool.Encode(ctx, img, locs)
}

func (p *Python) Distance(refs []encoding.Vector, probe encoding.Vector) []float64 {
	return encoding.Distances(refs, probe)
}

func (p *Python) Close() error {
	return p.pool.Close()
}

// instrumented records call latency and failures for any Engine.
type instrumented struct {
	Engine
	m *metrics.Metrics
}

// Instrument wraps e so every detect and encode call is observed in m.
func Instrument(e Engine, m *metrics.Metrics) Engine {
	if m == nil {
		return e
	}
	return &instrumented{Engine: e, m: m}
}

func (i *instrumented) DetectFaces(ctx context.Context, img types.RGBImage) ([]types.FaceLocation, error) {
	start := time.Now()
	locs, err := i.Engine.DetectFaces(ctx, img)
	i.m.ObserveEngine("detect", time.Since(start), err)
	if err == nil {
		i.m.FacesDetected.Observe(float64(len(locs)))
	}
	return locs, err
}

func (i *instrumented) EncodeFaces(ctx context.Context, img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	start := time.Now()
	vecs, err := i.Engine.EncodeFaces(ctx, img, locs)
	i.m.ObserveEngine("encode", time.Since(start), err)
	return vecs, err
}
