package utils

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// SafeCommand wraps an exec.Cmd and keeps everything the child writes to stderr, so a
// crashed face worker can still be diagnosed after the fact.
type SafeCommand struct {
	*exec.Cmd
	stderr *lockedBuffer
}

// NewSafeCommand prepares a command with a captured stderr. It does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, stderr: stderr}
}

// Logs returns what the child has written to stderr so far.
func (s *SafeCommand) Logs() string {
	if s == nil {
		return ""
	}
	return s.stderr.String()
}

// maxLogBytes is how much worker stderr is kept; older output is dropped.
const maxLogBytes = 64 * 1024

// lockedBuffer lets the exec copier goroutine write while another goroutine reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if over := b.buf.Len() - maxLogBytes; over > 0 {
		b.buf.Next(over)
	}
	return n, err
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ShowError prints the framed error box used by every CLI command, followed by the
// worker's stderr when one is given.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEMATCH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(os.Stderr, "\nPYTHON WORKER LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is a bufio.SplitFunc that cuts a concatenated MJPEG stream (for example
// `ffmpeg -f image2pipe -vcodec mjpeg -`) into individual JPEG images.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}
