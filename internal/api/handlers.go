package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/engine"
	"github.com/andresmejia3/facematch/internal/imaging"
	"github.com/andresmejia3/facematch/internal/metrics"
	"github.com/andresmejia3/facematch/internal/types"
)

// Service identity reported by /health.
const (
	ServiceName    = "face_recognition"
	ServiceVersion = "1.0.0"
)

// Handler serves the face endpoints. It holds no per-request state.
type Handler struct {
	engine  engine.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates a Handler. m may be nil.
func NewHandler(e engine.Engine, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{engine: e, metrics: m, logger: logger}
}

// RegisterRoutes mounts the endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.POST("/generate_encoding", h.GenerateEncoding)
	r.POST("/compare_encodings", h.CompareEncodings)
	r.POST("/batch_compare", h.BatchCompare)
}

// Health always answers 200 and never touches the engine.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: ServiceName, Version: ServiceVersion})
}

// GenerateEncoding returns the encoding of the first face in the uploaded image.
func (h *Handler) GenerateEncoding(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, types.ErrorResult{Error: msgTooLarge})
		case errors.Is(err, http.ErrMissingFile) && hasFormValue(c, "image"):
			// A file input submitted with nothing chosen arrives as a plain value.
			badRequest(c, msgNoFileSelected)
		default:
			badRequest(c, msgNoImage)
		}
		return
	}
	if file.Filename == "" {
		badRequest(c, msgNoFileSelected)
		return
	}
	if !imaging.AllowedFile(file.Filename) {
		h.logger.Warn("unexpected image extension, trying to decode anyway", "filename", file.Filename)
	}

	img, err := decodeUpload(file)
	if err != nil {
		h.logger.Error("error loading image", "filename", file.Filename, "error", err)
		badRequest(c, msgInvalidImage)
		return
	}

	ctx := c.Request.Context()
	locs, err := h.engine.DetectFaces(ctx, img)
	if err != nil {
		h.logger.Error("error generating face encoding", "stage", "detect", "error", err)
		internalError(c, err)
		return
	}
	if len(locs) == 0 {
		c.JSON(http.StatusOK, NoEncodingResponse{Error: msgNoFace, Encoding: []float64{}})
		return
	}
	if len(locs) > 1 {
		h.logger.Warn("multiple faces detected, using the first one", "faces", len(locs))
	}

	vecs, err := h.engine.EncodeFaces(ctx, img, locs[:1])
	if err != nil {
		h.logger.Error("error generating face encoding", "stage", "encode", "error", err)
		internalError(c, err)
		return
	}
	if len(vecs) == 0 {
		c.JSON(http.StatusOK, NoEncodingResponse{Error: msgNoEncoding, Encoding: []float64{}})
		return
	}

	c.JSON(http.StatusOK, EncodingResponse{Success: true, Encoding: vecs[0], FacesDetected: len(locs)})
}

func decodeUpload(file *multipart.FileHeader) (types.RGBImage, error) {
	f, err := file.Open()
	if err != nil {
		return types.RGBImage{}, err
	}
	defer f.Close()
	return imaging.Decode(f)
}

type compareRequest struct {
	Encoding1 json.RawMessage `json:"encoding1"`
	Encoding2 json.RawMessage `json:"encoding2"`
}

// CompareEncodings reports how close two encodings are.
func (h *Handler) CompareEncodings(c *gin.Context) {
	var req compareRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if len(req.Encoding1) == 0 || len(req.Encoding2) == 0 {
		badRequest(c, msgCompareRequired)
		return
	}

	enc1, err1 := encoding.Parse(req.Encoding1)
	enc2, err2 := encoding.Parse(req.Encoding2)
	if err1 != nil || err2 != nil {
		badRequest(c, msgCompareShape)
		return
	}

	result, err := encoding.Evaluate(h.engine.Distance([]encoding.Vector{enc1}, enc2)[0])
	if err != nil {
		h.logger.Error("error comparing encodings", "error", err)
		internalError(c, err)
		return
	}
	h.observeComparison(result)
	c.JSON(http.StatusOK, newCompareResponse(result))
}

type batchRequest struct {
	TargetEncoding json.RawMessage `json:"target_encoding"`
	Encodings      json.RawMessage `json:"encodings"`
}

// BatchCompare compares one target against many candidates. A malformed candidate gets
// its own error entry and never fails the rest of the batch.
func (h *Handler) BatchCompare(c *gin.Context) {
	var req batchRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if len(req.TargetEncoding) == 0 || len(req.Encodings) == 0 {
		badRequest(c, msgBatchRequired)
		return
	}

	target, err := encoding.Parse(req.TargetEncoding)
	if err != nil {
		badRequest(c, msgBatchTargetShape)
		return
	}

	var candidates []json.RawMessage
	if err := json.Unmarshal(req.Encodings, &candidates); err != nil || candidates == nil {
		badRequest(c, msgBatchRequired)
		return
	}

	results := make([]any, len(candidates))
	for i, raw := range candidates {
		vec, err := encoding.Parse(raw)
		if err != nil {
			results[i] = BatchError{Index: i, Error: msgItemShape}
			continue
		}
		result, err := encoding.Evaluate(h.engine.Distance([]encoding.Vector{target}, vec)[0])
		if err != nil {
			results[i] = BatchError{Index: i, Error: msgDistanceRange}
			continue
		}
		h.observeComparison(result)
		results[i] = newBatchMatch(i, result)
	}

	c.JSON(http.StatusOK, BatchResponse{Success: true, Results: results})
}

// bindJSON decodes the body into dst, answering 400 itself when that is impossible.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, types.ErrorResult{Error: msgTooLarge})
			return false
		}
		h.logger.Debug("rejecting request body", "error", err)
		badRequest(c, msgInvalidJSON)
		return false
	}
	return true
}

func (h *Handler) observeComparison(r encoding.Result) {
	if h.metrics != nil {
		h.metrics.ObserveComparison(r.IsMatch)
	}
}

func hasFormValue(c *gin.Context, key string) bool {
	form := c.Request.MultipartForm
	if form == nil {
		return false
	}
	_, ok := form.Value[key]
	return ok
}
