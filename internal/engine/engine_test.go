package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/metrics"
	"github.com/andresmejia3/facematch/internal/types"
	"github.com/andresmejia3/facematch/internal/worker"
)

type stubWorker struct {
	locs      []types.FaceLocation
	detectErr error
	encodes   int
}

func (s *stubWorker) Detect(types.RGBImage) ([]types.FaceLocation, error) {
	return s.locs, s.detectErr
}

func (s *stubWorker) Encode(_ types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	s.encodes++
	out := make([]encoding.Vector, len(locs))
	for i := range locs {
		out[i] = make(encoding.Vector, encoding.Dimensions)
		out[i][0] = float64(locs[i].Top)
	}
	return out, nil
}

func (s *stubWorker) Logs() string { return "" }
func (s *stubWorker) Close()       {}

func newTestPython(w *stubWorker) *Python {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := worker.NewPool(1, func(int) (worker.Worker, error) { return w, nil }, logger)
	return NewPythonWithPool(pool)
}

func TestPythonEngine(t *testing.T) {
	w := &stubWorker{locs: []types.FaceLocation{{Top: 7, Right: 20, Bottom: 30, Left: 1}}}
	e := newTestPython(w)
	defer e.Close()

	ctx := context.Background()
	locs, err := e.DetectFaces(ctx, types.RGBImage{})
	require.NoError(t, err)
	require.Len(t, locs, 1)

	vecs, err := e.EncodeFaces(ctx, types.RGBImage{}, locs)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 7.0, vecs[0][0])

	d := e.Distance([]encoding.Vector{vecs[0]}, vecs[0])
	assert.Equal(t, []float64{0}, d)
}

func TestPythonEngineSkipsEmptyEncode(t *testing.T) {
	w := &stubWorker{}
	e := newTestPython(w)
	defer e.Close()

	vecs, err := e.EncodeFaces(context.Background(), types.RGBImage{}, nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, w.encodes)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "opencv"}, slog.Default())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestInstrument(t *testing.T) {
	m := metrics.New()
	w := &stubWorker{locs: []types.FaceLocation{{}, {}}}
	e := Instrument(newTestPython(w), m)
	defer e.Close()

	_, err := e.DetectFaces(context.Background(), types.RGBImage{})
	require.NoError(t, err)

	w.detectErr = errors.New("model exploded")
	_, err = e.DetectFaces(context.Background(), types.RGBImage{})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineErrors.WithLabelValues("detect")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FacesDetected))
}

func TestInstrumentNilMetrics(t *testing.T) {
	e := newTestPython(&stubWorker{})
	assert.Same(t, e, Instrument(e, nil))
}
