package xpressnet

import "testing"

func throttleFrameBytes(t *testing.T) []byte {
	t.Helper()
	fr, err := Throttle(3, 40, Forward)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return fr.Bytes()
}

func TestFramer_OneByteAtATimeMatchesWholeBlob(t *testing.T) {
	frame := throttleFrameBytes(t)
	blob := append(append([]byte{}, frame...), frame...)

	var whole []FramerEvent
	f1 := &Framer{}
	f1.Feed(blob, func(ev FramerEvent) { whole = append(whole, ev) })

	var perByte []FramerEvent
	f2 := &Framer{}
	for _, b := range blob {
		f2.Feed([]byte{b}, func(ev FramerEvent) { perByte = append(perByte, ev) })
	}

	if len(whole) != 2 || len(perByte) != 2 {
		t.Fatalf("expected 2 frames each way, got whole=%d perByte=%d", len(whole), len(perByte))
	}
	for i := range whole {
		if whole[i].Header != perByte[i].Header || string(whole[i].Data) != string(perByte[i].Data) {
			t.Fatalf("frame %d differs: whole=%+v perByte=%+v", i, whole[i], perByte[i])
		}
	}
}

func TestFramer_ResyncAfterOneCorruptedByte(t *testing.T) {
	frame := throttleFrameBytes(t)
	corrupted := append([]byte{}, frame...)
	corrupted[len(corrupted)-1] ^= 0xFF // wrong checksum

	// Two trailing good frames: resync can consume up to a frame length of
	// bytes while groping for the next valid header, so enough buffered data
	// must exist for that search to terminate in this one Feed call.
	stream := append(corrupted, throttleFrameBytes(t)...)
	stream = append(stream, throttleFrameBytes(t)...)

	var events []FramerEvent
	f := &Framer{}
	f.Feed(stream, func(ev FramerEvent) { events = append(events, ev) })

	var checksumErrs, goodFrames int
	for _, ev := range events {
		if ev.ChecksumErr {
			checksumErrs++
		} else {
			goodFrames++
		}
	}
	if checksumErrs == 0 {
		t.Fatalf("expected at least one checksum error, got events=%+v", events)
	}
	if checksumErrs > len(frame) {
		t.Fatalf("resync took more than one frame length of bytes: %d checksum errors", checksumErrs)
	}
	if goodFrames != 2 {
		t.Fatalf("expected both trailing frames recovered after resync, got %d (events=%+v)", goodFrames, events)
	}
	if pending := f.Pending(); pending != 0 {
		t.Fatalf("expected the whole stream consumed after resync, %d bytes left pending", pending)
	}
}

func TestFramer_PendingReflectsUnconsumedBytes(t *testing.T) {
	f := &Framer{}
	f.Feed([]byte{0xE4}, func(FramerEvent) {})
	if got := f.Pending(); got != 1 {
		t.Fatalf("expected 1 pending byte with only the header buffered, got %d", got)
	}
}
