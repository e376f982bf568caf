package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/facematch/internal/encoding"
	"github.com/andresmejia3/facematch/internal/types"
	"github.com/andresmejia3/facematch/internal/utils"
)

// Operation codes understood by python/worker.py.
const (
	OpDetect byte = 1
	OpEncode byte = 2
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxReplyBytes guards against a corrupted length header allocating gigabytes.
const maxReplyBytes = 64 * 1024 * 1024

// ErrWorkerError wraps a failure the Python side reported for one request. The worker
// stays usable after it.
var ErrWorkerError = errors.New("python worker error")

// ErrPipe marks a transport failure. The worker that returned it must be discarded.
var ErrPipe = errors.New("worker pipe failed")

// ErrRequestTooLarge is returned when a request does not fit the uint32 length header.
// Nothing is written, so the worker stays usable.
var ErrRequestTooLarge = errors.New("worker request too large")

// Config tells NewPythonWorker how to launch the child.
type Config struct {
	Python string // interpreter, e.g. "python3"
	Script string // path to worker.py
	Model  string // face_recognition detection model: "hog" or "cnn"
}

// PythonWorker is one face_recognition process. It handles a single request at a time.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonWorker starts the child process and wires up its pipes.
func NewPythonWorker(id int, cfg Config) (*PythonWorker, error) {
	args := []string{"-u", cfg.Script}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	py := utils.NewSafeCommand(cfg.Python, args...)

	// Side-channel pipe (FD 3) for replies, so stray prints on stdout cannot corrupt frames.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end now.
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and reads one framed reply.
// Protocol: [uint32 length][body] in both directions.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	n, err := frameLength(len(data))
	if err != nil {
		return nil, err
	}
	if err := binary.Write(w.Stdin, binary.BigEndian, n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipe, err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipe, err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipe, err) // the child died, usually an import error on startup
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxReplyBytes {
		return nil, fmt.Errorf("%w: reply of %d bytes exceeds limit", ErrPipe, respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipe, err)
	}
	return respBody, nil
}

func frameLength(n int) (uint32, error) {
	if uint64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bytes", ErrRequestTooLarge, n)
	}
	return uint32(n), nil
}

// Detect asks the worker for every face location in img.
func (w *PythonWorker) Detect(img types.RGBImage) ([]types.FaceLocation, error) {
	resp, err := w.Communicate(buildRequest(OpDetect, img, nil))
	if err != nil {
		return nil, err
	}
	return parseLocations(resp)
}

// Encode asks the worker for one encoding per location.
func (w *PythonWorker) Encode(img types.RGBImage, locs []types.FaceLocation) ([]encoding.Vector, error) {
	resp, err := w.Communicate(buildRequest(OpEncode, img, locs))
	if err != nil {
		return nil, err
	}
	return parseEncodings(resp)
}

// Close shuts the child down and waits for it.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// buildRequest lays out [op][width][height][nLoc][nLoc x 4 int32][RGB pixels].
func buildRequest(op byte, img types.RGBImage, locs []types.FaceLocation) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 13+len(locs)*16+len(img.Pix)))
	buf.WriteByte(op)
	binary.Write(buf, binary.BigEndian, uint32(img.Width))
	binary.Write(buf, binary.BigEndian, uint32(img.Height))
	binary.Write(buf, binary.BigEndian, uint32(len(locs)))
	for _, l := range locs {
		binary.Write(buf, binary.BigEndian, [4]int32{int32(l.Top), int32(l.Right), int32(l.Bottom), int32(l.Left)})
	}
	buf.Write(img.Pix)
	return buf.Bytes()
}

// readStatus consumes the status byte and, on failure, the error message that follows.
func readStatus(r *bytes.Reader) error {
	status, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("empty reply: %w", err)
	}
	switch status {
	case statusOK:
		return nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return fmt.Errorf("truncated error reply: %w", err)
		}
		if int(msgLen) > r.Len() {
			return fmt.Errorf("truncated error reply: want %d bytes, have %d", msgLen, r.Len())
		}
		msg := make([]byte, msgLen)
		io.ReadFull(r, msg)
		return fmt.Errorf("%w: %s", ErrWorkerError, msg)
	default:
		return fmt.Errorf("unknown reply status %d", status)
	}
}

func parseLocations(resp []byte) ([]types.FaceLocation, error) {
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}
	if int(n)*16 > r.Len() {
		return nil, fmt.Errorf("reply announces %d faces but carries %d bytes", n, r.Len())
	}

	locs := make([]types.FaceLocation, n)
	for i := range locs {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("failed to read face %d: %w", i, err)
		}
		locs[i] = types.FaceLocation{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])}
	}
	return locs, nil
}

func parseEncodings(resp []byte) ([]encoding.Vector, error) {
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read encoding count: %w", err)
	}
	if int(n)*encoding.Dimensions*8 > r.Len() {
		return nil, fmt.Errorf("reply announces %d encodings but carries %d bytes", n, r.Len())
	}

	out := make([]encoding.Vector, n)
	for i := range out {
		vec := make([]float64, encoding.Dimensions)
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, fmt.Errorf("failed to read encoding %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
