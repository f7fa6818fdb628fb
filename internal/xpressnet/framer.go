package xpressnet

import "bytes"

// compactThreshold and compactRatio mirror the teacher's CompactBuffer
// heuristic: reclaim the accumulator's backing array once it has grown
// large relative to the unread tail, instead of on every read.
const (
	compactThreshold = 1024
	compactRatio     = 4
)


// compactBuffer reclaims consumed prefix capacity when the underlying
// buffer has grown large relative to its unread bytes. Returns true if
// compaction occurred.
func compactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < compactThreshold {
		return false
	}
	if cap(data) > 0 && len(data)*compactRatio < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Framer streams an unstructured byte pipe into complete XpressNet frames,
// per §4.1: the header's low nibble names the data byte count, so the
// framer only needs to look at the first buffered byte to know how many
// more to wait for. It owns no I/O; callers Feed it bytes as they arrive.
type Framer struct {
	buf bytes.Buffer
}

// FramerEvent is either a decoded frame or a checksum error recovered by
// resync-by-one (§4.1).
type FramerEvent struct {
	Header      byte
	Data        []byte // data bytes, header and checksum excluded
	ChecksumErr bool
	BadByte     byte
}

// Feed appends newly read bytes and emits every complete frame (and any
// checksum errors encountered along the way) via emit, in arrival order.
func (f *Framer) Feed(b []byte, emit func(FramerEvent)) {
	f.buf.Write(b)
	for {
		data := f.buf.Bytes()
		if len(data) < 1 {
			return
		}
		need := FrameLen(data[0])
		if len(data) < need {
			compactBuffer(&f.buf)
			return
		}
		candidate := make([]byte, need)
		copy(candidate, data[:need])
		want := Checksum(candidate[:need-1])
		got := candidate[need-1]
		if want != got {
			emit(FramerEvent{ChecksumErr: true, BadByte: data[0]})
			f.buf.Next(1) // resync-by-one: bounded recovery within frame_len bytes
			continue
		}
		emit(FramerEvent{Header: candidate[0], Data: candidate[1 : need-1]})
		f.buf.Next(need)
	}
}

// Pending returns the number of unconsumed buffered bytes (test/diagnostic
// use only).
func (f *Framer) Pending() int { return f.buf.Len() }
