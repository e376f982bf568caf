package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/types"
)

// Fixed messages. Clients match on some of these, so they do not change.
const (
	msgNoImage          = "No image file provided"
	msgNoFileSelected   = "No file selected"
	msgInvalidImage     = "Invalid image format"
	msgTooLarge         = "File too large"
	msgNoFace           = "No face detected in image"
	msgNoEncoding       = "Could not generate face encoding"
	msgInternal         = "Internal server error"
	msgCompareRequired  = "Both encoding1 and encoding2 are required"
	msgCompareShape     = "Invalid encoding format. Expected 128-dimensional arrays."
	msgBatchRequired    = "target_encoding and encodings array are required"
	msgBatchTargetShape = "Invalid target encoding format"
	msgItemShape        = "Invalid encoding format"
	msgDistanceRange    = "Encoding values out of range"
	msgInvalidJSON      = "Request body must be a JSON object"
	msgNotFound         = "Not found"
	msgMethodNotAllowed = "Method not allowed"
)

// HealthResponse is the fixed liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// EncodingResponse is returned by /generate_encoding on success.
type EncodingResponse struct {
	Success       bool            `json:"success"`
	Encoding      encoding.Vector `json:"encoding"`
	FacesDetected int             `json:"faces_detected"`
}

// NoEncodingResponse is the soft failure of /generate_encoding: the request was fine but
// no encoding could be produced.
type NoEncodingResponse struct {
	Error    string    `json:"error"`
	Encoding []float64 `json:"encoding"`
}

// CompareResponse is returned by /compare_encodings.
type CompareResponse struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
	IsMatch    bool    `json:"is_match"`
}

// BatchMatch is one successful entry in a batch comparison.
type BatchMatch struct {
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
	IsMatch    bool    `json:"is_match"`
}

// BatchError is one rejected entry in a batch comparison.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResponse is returned by /batch_compare. Results hold BatchMatch or BatchError
// values in input order.
type BatchResponse struct {
	Success bool  `json:"success"`
	Results []any `json:"results"`
}

func newCompareResponse(r encoding.Result) CompareResponse {
	return CompareResponse{Success: true, Confidence: r.Confidence, Distance: r.Distance, IsMatch: r.IsMatch}
}

func newBatchMatch(index int, r encoding.Result) BatchMatch {
	return BatchMatch{Index: index, Confidence: r.Confidence, Distance: r.Distance, IsMatch: r.IsMatch}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResult{Error: msg})
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, types.ErrorResult{Error: msgInternal, Message: err.Error()})
}
