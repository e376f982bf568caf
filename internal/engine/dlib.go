//go:build dlib

package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/imaging"
	"github.com/andresmejia3/facematch/internal/types"
)

// Dlib runs dlib's HOG (or CNN) detector and ResNet encoder in-process through go-face.
// The models directory must hold shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and, for "cnn", mmod_human_face_detector.dat.
type Dlib struct {
	mu  sync.Mutex
	rec *face.Recognizer
	cnn bool
}

func newDlib(cfg Config) (Engine, error) {
	rec, err := face.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", cfg.ModelsDir, err)
	}
	return &Dlib{rec: rec, cnn: cfg.Model == "cnn"}, nil
}

// recognize runs detection and encoding in one pass; go-face only accepts JPEG input.
func (d *Dlib) recognize(img types.RGBImage) ([]face.Face, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, imaging.Image(img), &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to re-encode image for dlib: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cnn {
		return d.rec.RecognizeCNN(buf.Bytes())
	}
	return d.rec.Recognize(buf.Bytes())
}

func location(r image.Rectangle) types.FaceLocation {
	return types.FaceLocation{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

func (d *Dlib) DetectFaces(_ context.Context, img types.RGBImage) ([]types.FaceLocation, error) {
	faces, err := d.recognize(img)
	if err != nil {
		return nil, err
	}
	locs := make([]types.FaceLocation, len(faces))
	for i, f := range faces {
		locs[i] = location(f.Rectangle)
	}
	return locs, nil
}

// EncodeFaces re-runs recognition and keeps the descriptor of each requested box. A box
// the detector no longer reports is skipped.
func (d *Dlib) EncodeFaces(_ context.Context, img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	if len(locs) == 0 {
		return nil, nil
	}
	faces, err := d.recognize(img)
	if err != nil {
		return nil, err
	}

	byLoc := make(map[types.FaceLocation]face.Descriptor, len(faces))
	for _, f := range faces {
		byLoc[location(f.Rectangle)] = f.Descriptor
	}

	out := make([]encoding.Vector, 0, len(locs))
	for _, l := range locs {
		desc, ok := byLoc[l]
		if !ok {
			continue
		}
		vec := make(encoding.Vector, len(desc))
		for i, x := range desc {
			vec[i] = float64(x)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (d *Dlib) Distance(refs []encoding.Vector, probe encoding.Vector) []float64 {
	return encoding.Distances(refs, probe)
}

func (d *Dlib) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
