// Package api carries the order-entry and observability surfaces: the
// length-prefixed TCP gateway, the display-price converter, and the gin
// HTTP server.
package api

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frames on the gateway wire are a 4-byte big-endian payload length
// followed by that many bytes of JSON.
const lengthPrefixSize = 4

// DefaultMaxFrameBytes bounds a single frame when the config leaves it
// unset.
const DefaultMaxFrameBytes = 64 * 1024

// ErrFrameTooLarge reports a frame beyond the configured bound. After an
// oversized length prefix the stream is out of sync and the connection
// must be closed.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameReader decodes frames from a stream. It is not safe for
// concurrent use; each session owns one.
type FrameReader struct {
	r   io.Reader
	max uint32
	hdr [lengthPrefixSize]byte
	buf []byte
}

// NewFrameReader wraps r. maxFrameBytes <= 0 falls back to
// DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, maxFrameBytes int) *FrameReader {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{
		r:   r,
		max: uint32(maxFrameBytes),
		buf: make([]byte, 0, 512),
	}
}

// Next reads one frame and returns its payload. The slice is reused by
// the following Next call. io.EOF at a frame boundary means the peer
// closed cleanly; a partial header or payload surfaces as
// io.ErrUnexpectedEOF.
func (fr *FrameReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(fr.hdr[:])
	if n > fr.max {
		return nil, fmt.Errorf("%w: %d byte frame, limit %d", ErrFrameTooLarge, n, fr.max)
	}
	if cap(fr.buf) < int(n) {
		fr.buf = make([]byte, n)
	}
	payload := fr.buf[:n]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// FrameWriter encodes frames onto a stream with a single Write per
// frame. Not safe for concurrent use.
type FrameWriter struct {
	w   io.Writer
	max uint32
	buf []byte
}

// NewFrameWriter wraps w. maxFrameBytes <= 0 falls back to
// DefaultMaxFrameBytes.
func NewFrameWriter(w io.Writer, maxFrameBytes int) *FrameWriter {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameWriter{
		w:   w,
		max: uint32(maxFrameBytes),
		buf: make([]byte, 0, 512),
	}
}

// WriteJSON marshals v and writes it as one frame.
func (fw *FrameWriter) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return fw.Write(payload)
}

// Write frames payload as-is.
func (fw *FrameWriter) Write(payload []byte) error {
	if len(payload) > int(fw.max) {
		return fmt.Errorf("%w: %d byte frame, limit %d", ErrFrameTooLarge, len(payload), fw.max)
	}
	need := lengthPrefixSize + len(payload)
	if cap(fw.buf) < need {
		fw.buf = make([]byte, need)
	}
	frame := fw.buf[:need]
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)
	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
