package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/types"
)

// fakeEngine finds the faces it is told to and encodes each location as a vector filled
// with the location's Top value.
type fakeEngine struct {
	locs      []types.FaceLocation
	detectErr error
	encoded   []types.FaceLocation
}

func (f *fakeEngine) DetectFaces(context.Context, types.RGBImage) ([]types.FaceLocation, error) {
	return f.locs, f.detectErr
}

func (f *fakeEngine) EncodeFaces(_ context.Context, _ types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	f.encoded = append(f.encoded, locs...)
	out := make([]encoding.Vector, len(locs))
	for i, l := range locs {
		v := make(encoding.Vector, encoding.Dimensions)
		for j := range v {
			v[j] = float64(l.Top) / 100
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Distance(refs []encoding.Vector, probe encoding.Vector) []float64 {
	return encoding.Distances(refs, probe)
}

func (f *fakeEngine) Close() error { return nil }

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))
	return buf.Bytes()
}

func readLines(t *testing.T, out *bytes.Buffer) []encodeResult {
	t.Helper()
	var results []encodeResult
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), megabyte)
	for scanner.Scan() {
		var r encodeResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	require.NoError(t, scanner.Err())
	return results
}

func TestChooseFace(t *testing.T) {
	small := types.FaceLocation{Top: 0, Right: 10, Bottom: 10, Left: 0}
	big := types.FaceLocation{Top: 0, Right: 50, Bottom: 50, Left: 0}
	locs := []types.FaceLocation{small, big}

	assert.Equal(t, small, chooseFace(locs, false))
	assert.Equal(t, big, chooseFace(locs, true))
	assert.Equal(t, small, chooseFace(locs[:1], true))
}

func TestRunEncodeFiles(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "face.png")
	bad := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(bad, []byte("hello"), 0644))
	missing := filepath.Join(dir, "absent.png")

	e := &fakeEngine{locs: []types.FaceLocation{{Top: 5, Right: 6, Bottom: 7, Left: 1}}}
	var out bytes.Buffer
	require.NoError(t, runEncodeFiles(context.Background(), e, []string{good, bad, missing}, &out, Options{}))

	results := readLines(t, &out)
	require.Len(t, results, 3)

	assert.Equal(t, good, results[0].Source)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, 1, results[0].FacesDetected)
	assert.Len(t, results[0].Encoding, encoding.Dimensions)
	require.NotNil(t, results[0].Location)
	assert.Equal(t, 5, results[0].Location.Top)

	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].Encoding)
	assert.NotEmpty(t, results[2].Error)
}

func TestRunEncodeFilesNoFace(t *testing.T) {
	path := writePNG(t, t.TempDir(), "empty.png")

	var out bytes.Buffer
	require.NoError(t, runEncodeFiles(context.Background(), &fakeEngine{}, []string{path}, &out, Options{}))

	results := readLines(t, &out)
	require.Len(t, results, 1)
	assert.Equal(t, errNoFace.Error(), results[0].Error)
	assert.Equal(t, 0, results[0].FacesDetected)
}

func TestRunEncodeFilesLargest(t *testing.T) {
	path := writePNG(t, t.TempDir(), "group.png")
	e := &fakeEngine{locs: []types.FaceLocation{
		{Top: 1, Right: 3, Bottom: 3, Left: 1},
		{Top: 2, Right: 40, Bottom: 40, Left: 2},
	}}

	var out bytes.Buffer
	require.NoError(t, runEncodeFiles(context.Background(), e, []string{path}, &out, Options{Largest: true}))

	results := readLines(t, &out)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].FacesDetected)
	require.Len(t, e.encoded, 1)
	assert.Equal(t, 2, e.encoded[0].Top)
}

func TestRunEncodeStream(t *testing.T) {
	frame := jpegFrame(t)
	stream := append(append(append([]byte{}, frame...), frame...), []byte("trailing")...)

	e := &fakeEngine{locs: []types.FaceLocation{{Top: 3, Right: 4, Bottom: 4, Left: 3}}}
	var out bytes.Buffer
	require.NoError(t, runEncodeStream(context.Background(), e, bytes.NewReader(stream), &out, Options{}))

	results := readLines(t, &out)
	require.Len(t, results, 2)
	assert.Equal(t, "frame:0", results[0].Source)
	assert.Equal(t, "frame:1", results[1].Source)
	assert.Empty(t, results[1].Error)
}

func TestRunEncodeCancelled(t *testing.T) {
	path := writePNG(t, t.TempDir(), "face.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runEncodeFiles(ctx, &fakeEngine{}, []string{path}, &out, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}

func TestRunCompare(t *testing.T) {
	dir := t.TempDir()
	ref := writePNG(t, dir, "ref.png")
	probe := writePNG(t, dir, "probe.png")
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0644))

	e := &fakeEngine{locs: []types.FaceLocation{{Top: 10, Right: 20, Bottom: 20, Left: 10}}}
	var out bytes.Buffer
	require.NoError(t, runCompare(context.Background(), e, ref, []string{probe, bad}, &out, Options{}))

	var lines []map[string]any
	dec := json.NewDecoder(&out)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, probe, lines[0]["source"])
	assert.Equal(t, 0.0, lines[0]["distance"])
	assert.Equal(t, 1.0, lines[0]["confidence"])
	assert.Equal(t, true, lines[0]["is_match"])

	assert.Contains(t, lines[1]["error"], "bad.png")
	assert.NotContains(t, lines[1], "distance")
}

func TestRunCompareReferenceFails(t *testing.T) {
	ref := writePNG(t, t.TempDir(), "ref.png")
	e := &fakeEngine{detectErr: errors.New("worker died")}

	var out bytes.Buffer
	err := runCompare(context.Background(), e, ref, []string{ref}, &out, Options{})
	assert.ErrorContains(t, err, "worker died")
	assert.Zero(t, out.Len())
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 5000, "")
	flags.Int("workers", 1, "")
	require.NoError(t, flags.Parse([]string{"--port", "7000"}))

	v := viper.New()
	v.SetDefault("engine.workers", 3)
	require.NoError(t, bindFlags(v, flags))

	assert.Equal(t, 7000, v.GetInt("port"))
	// An unset flag does not shadow the configured default.
	assert.Equal(t, 3, v.GetInt("engine.workers"))
}
