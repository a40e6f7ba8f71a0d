package transport

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello tracker update")

	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestAnnouncementRoundTrip(t *testing.T) {
	peer := Peer("203.0.113.4:4242")
	frame := announcementFrame(peer)

	got, ok := decodeAnnouncement(frame)
	if !ok {
		t.Fatalf("expected announcement to decode")
	}
	if got != peer {
		t.Fatalf("expected peer %q, got %q", peer, got)
	}
}

func TestDecodeAnnouncementRejectsOrdinaryData(t *testing.T) {
	if _, ok := decodeAnnouncement([]byte{0x01, 0x02, 0x03}); ok {
		t.Fatalf("expected non-announcement data to be rejected")
	}
}
