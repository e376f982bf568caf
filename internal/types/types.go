package types

// RGBImage is a decoded image held as packed 8-bit RGB triples, row-major.
type RGBImage struct {
	Width  int
	Height int
	Pix    []byte // len == Width*Height*3
}

// FaceLocation is a face bounding box in face_recognition order.
type FaceLocation struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Area is used by callers that want the largest face rather than the first one.
func (l FaceLocation) Area() int {
	return (l.Bottom - l.Top) * (l.Right - l.Left)
}

// ErrorResult is the body of every non-2xx response and of soft failures.
type ErrorResult struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
