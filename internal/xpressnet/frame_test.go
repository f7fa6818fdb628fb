package xpressnet

import "testing"

func TestChecksum_RoundTrip(t *testing.T) {
	fr := Frame{Header: 0xE4, Data: []byte{0x13, 0x00, 0x03, 0xA8}}
	b := fr.Bytes()
	if got := Checksum(b); got != 0 {
		t.Fatalf("checksum(B || checksum(B)) = 0x%02X, want 0", got)
	}
}

func TestFrameLen_MatchesBytes(t *testing.T) {
	fr := Frame{Header: 0xE4, Data: []byte{0x13, 0x00, 0x03, 0xA8}}
	b := fr.Bytes()
	if got := FrameLen(b[0]); got != len(b) {
		t.Fatalf("FrameLen(%#v) = %d, want %d", b[0], got, len(b))
	}
}

func TestDirection_String(t *testing.T) {
	if Forward.String() != "forward" {
		t.Fatalf("Forward.String() = %q", Forward.String())
	}
	if Reverse.String() != "reverse" {
		t.Fatalf("Reverse.String() = %q", Reverse.String())
	}
}
