package gossip

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"method":"get_peers","self":{"_id":"abc"}}`)
	if err := WriteFrame(&buf, 6, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadFrame = %s, want %s", got, payload)
	}
}

func TestReadFrameRejectsMalformedTrailer(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, 6, []byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] = '!'

	if _, err := ReadFrame(bufio.NewReader(bytes.NewReader(corrupt))); err == nil {
		t.Fatal("expected error for corrupted frame trailer")
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("999999999999:x,")))
	if _, err := ReadFrame(r); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}
