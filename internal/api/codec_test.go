package api

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, 0)
	fr := NewFrameReader(&buf, 0)

	require.NoError(t, fw.Write([]byte(`{"type":"ping"}`)))

	payload, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ping"}`, string(payload))

	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF, "a drained stream ends cleanly")
}

func TestFrameReader_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, 0)
	frames := []string{"first", "second frame", "", "fourth"}
	for _, f := range frames {
		require.NoError(t, fw.Write([]byte(f)))
	}

	fr := NewFrameReader(&buf, 0)
	for _, want := range frames {
		payload, err := fr.Next()
		require.NoError(t, err)
		// The payload slice is reused across Next calls, so compare
		// before reading the next frame.
		assert.Equal(t, want, string(payload))
	}
	_, err := fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameWriter_JSONFrame(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, 0)
	require.NoError(t, fw.WriteJSON(Request{Type: MsgPing, RequestID: "r1"}))

	fr := NewFrameReader(&buf, 0)
	payload, err := fr.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","request_id":"r1"}`, string(payload))
}

func TestFrameReader_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 1024)
	buf.Write(hdr)
	buf.Write(make([]byte, 1024))

	fr := NewFrameReader(&buf, 16)
	_, err := fr.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameWriter_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, 8)
	err := fw.Write([]byte("well over eight bytes"))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len(), "nothing reaches the wire")
}

func TestFrameReader_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 10)
	buf.Write(hdr)
	buf.Write([]byte("short"))

	fr := NewFrameReader(&buf, 0)
	_, err := fr.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameReader_TruncatedHeader(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{0, 0}), 0)
	_, err := fr.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameReader_ZeroLengthFrame(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, 0)
	require.NoError(t, fw.Write(nil))

	fr := NewFrameReader(&buf, 0)
	payload, err := fr.Next()
	require.NoError(t, err)
	assert.Empty(t, payload)
}
