// Package encoding validates face encodings and turns distances between them into
// match decisions.
package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
)

const (
	// Dimensions is the length of every face encoding produced by the engine.
	Dimensions = 128
	// MatchThreshold is the distance below which two encodings are the same person.
	MatchThreshold = 0.6
)

// ErrInvalidShape is returned when an input is not a flat list of Dimensions numbers.
var ErrInvalidShape = errors.New("invalid encoding format")

// ErrDistanceOverflow is returned when two valid encodings are too far apart for their
// distance to be represented.
var ErrDistanceOverflow = errors.New("encoding distance is not finite")

// Vector is a single 128-dimensional face encoding.
type Vector []float64

// Result is the outcome of comparing two encodings.
type Result struct {
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	IsMatch    bool    `json:"is_match"`
}

// Parse decodes a raw JSON value into a Vector. Anything other than an array of exactly
// Dimensions finite numbers is rejected with ErrInvalidShape.
func Parse(raw json.RawMessage) (Vector, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ErrInvalidShape
	}

	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, ErrInvalidShape
	}
	if err := Validate(values); err != nil {
		return nil, err
	}
	return Vector(values), nil
}

// Validate checks that v has the expected shape.
func Validate(v []float64) error {
	if len(v) != Dimensions {
		return ErrInvalidShape
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ErrInvalidShape
		}
	}
	return nil
}

// Distance is the Euclidean distance between two encodings. Lower is more similar.
// Differences are scaled by the largest one, so the sum of squares only overflows when
// the distance itself does.
func Distance(a, b Vector) float64 {
	var scale float64
	for i := range a {
		scale = math.Max(scale, math.Abs(a[i]-b[i]))
	}
	if scale == 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return scale
	}

	var sum float64
	for i := range a {
		diff := (a[i] - b[i]) / scale
		sum += diff * diff
	}
	return scale * math.Sqrt(sum)
}

// Distances returns the distance from probe to every reference, in reference order.
func Distances(refs []Vector, probe Vector) []float64 {
	out := make([]float64, len(refs))
	for i, ref := range refs {
		out[i] = Distance(ref, probe)
	}
	return out
}

// Confidence maps a distance onto [0,1], 1 meaning identical.
func Confidence(distance float64) float64 {
	return math.Min(1, math.Max(0, 1-distance))
}

// IsMatch reports whether distance is under MatchThreshold.
func IsMatch(distance float64) bool {
	return distance < MatchThreshold
}

// Evaluate is Compare for distances computed from untrusted input. A distance that is not
// finite yields ErrDistanceOverflow.
func Evaluate(distance float64) (Result, error) {
	if math.IsInf(distance, 0) || math.IsNaN(distance) {
		return Result{}, ErrDistanceOverflow
	}
	return Compare(distance), nil
}

// Compare builds the full comparison result for a distance.
func Compare(distance float64) Result {
	return Result{
		Distance:   distance,
		Confidence: Confidence(distance),
		IsMatch:    IsMatch(distance),
	}
}
