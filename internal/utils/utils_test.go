package utils

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00}
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...)

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// The trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("Unexpected scanner error: %v", err)
	}
}

func TestSplitJpegMultipleFrames(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}

	var stream []byte
	stream = append(stream, a...)
	stream = append(stream, b...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Frames mismatch: %X", got)
	}
}

func TestSplitJpegTruncatedFrame(t *testing.T) {
	scanner := bufio.NewScanner(bytes.NewReader([]byte{0xFF, 0xD8, 0x01, 0x02}))
	scanner.Split(SplitJpeg)

	if scanner.Scan() {
		t.Errorf("Expected no token for a frame without EOI, got %X", scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("Unexpected scanner error: %v", err)
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand("sh", "-c", "echo boom >&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if !strings.Contains(cmd.Logs(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", cmd.Logs())
	}

	var nilCmd *SafeCommand
	if nilCmd.Logs() != "" {
		t.Error("Expected empty logs for nil command")
	}
}

func TestSafeCommandLogsAreBounded(t *testing.T) {
	b := &lockedBuffer{}
	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 100; i++ {
		b.Write(chunk)
	}
	b.Write([]byte("tail"))

	got := b.String()
	if len(got) != maxLogBytes {
		t.Errorf("Expected %d bytes kept, got %d", maxLogBytes, len(got))
	}
	if !strings.HasSuffix(got, "tail") {
		t.Error("Expected the most recent output to be kept")
	}
}
