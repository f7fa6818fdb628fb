package xpressnet

// decodeAddr decodes a (AH, AL) pair into a locomotive address, per §4.3.
func decodeAddr(ah, al byte) int {
	if ah < 0xC0 {
		return int(al)
	}
	return (int(ah&0x3F) << 8) | int(al)
}

func unpackF0to4(g0 byte) (f [5]bool) {
	f[0] = g0&(1<<4) != 0
	for i := 1; i <= 4; i++ {
		f[i] = g0&(1<<(i-1)) != 0
	}
	return f
}

func unpackGroupBits(g byte, base, count int, out *[29]bool) {
	for i := 0; i < count; i++ {
		out[base+i] = g&(1<<i) != 0
	}
}

// Decoder classifies a single already-framed, checksum-verified XpressNet
// reply and turns it into a semantic Event. It holds no state of its own;
// getState correlation is driven by the caller via a Store.
type Decoder struct{}

// Decode classifies frame (header + data, no checksum) and produces an
// Event. pendingAddr/hasPending describe the current getState correlation
// slot (§4.3); they are only consulted for the address-less 0xE4/0xE3
// replies.
func (Decoder) Decode(header byte, data []byte, pendingAddr int, hasPending bool) Event {
	switch {
	case header == 0xE5 && len(data) >= 4 && data[0] == 0xF9:
		ah, al, g0, g1 := data[1], data[2], data[3], byte(0)
		if len(data) >= 5 {
			g1 = data[4]
		}
		addr := decodeAddr(ah, al)
		var f [29]bool
		f5 := unpackF0to4(g0)
		copy(f[0:5], f5[:])
		unpackGroupBits(g1, 5, 8, &f)
		return Event{Kind: EventFunctionUpdate, Addr: addr, Functions: f}

	case header == 0xE5 && len(data) >= 3 && data[0] == 0xF8:
		ah, al, sd := data[1], data[2], data[3]
		addr := decodeAddr(ah, al)
		return Event{
			Kind:      EventThrottleUpdate,
			Addr:      addr,
			Speed:     sd & 0x7F,
			Direction: directionOf(sd),
		}

	case header == 0xE4 && len(data) == 4:
		// data = [identification, SD, G0, G1]; the leading byte mirrors the
		// getState request's own sub-header and carries traction-type bits
		// this gateway does not model.
		if !hasPending {
			return Event{Kind: EventUnknownFrame, Raw: append([]byte{header}, data...)}
		}
		sd, g0, g1 := data[1], data[2], data[3]
		var f [29]bool
		f5 := unpackF0to4(g0)
		copy(f[0:5], f5[:])
		unpackGroupBits(g1, 5, 8, &f)
		return Event{
			Kind:      EventStateReplyA,
			Addr:      pendingAddr,
			Speed:     sd & 0x7F,
			Direction: directionOf(sd),
			Functions: f,
		}

	case header == 0xE3 && len(data) == 3:
		// data = [identification, G3, G4]; see the 0xE4 case above.
		if !hasPending {
			return Event{Kind: EventUnknownFrame, Raw: append([]byte{header}, data...)}
		}
		g3, g4 := data[1], data[2]
		var f [29]bool
		unpackGroupBits(g3, 13, 8, &f)
		unpackGroupBits(g4, 21, 8, &f)
		return Event{Kind: EventStateReplyB, Addr: pendingAddr, Functions: f}

	case header == 0x62 && len(data) >= 2 && data[0] == 0x22:
		return Event{Kind: EventStationStatus, Status: decodeStationStatus(data[1])}

	case header == 0x63 && len(data) >= 2 && data[0] == 0x21:
		v := data[1]
		return Event{
			Kind:    EventStationVersion,
			Make:    "Hornby",
			Model:   "Elite",
			Version: versionString(v),
		}

	case header == 0x61 && len(data) >= 1 && data[0] == 0x00:
		return Event{Kind: EventTrackPowerOff}

	case header == 0x61 && len(data) >= 1 && data[0] == 0x01:
		return Event{Kind: EventNormalOperations}

	case header == 0x81 && len(data) >= 1 && data[0] == 0x00:
		return Event{Kind: EventEmergencyOffBroadcast}

	case header == 0x61 && len(data) >= 1 && data[0] == 0x02:
		return Event{Kind: EventServiceMode}

	case header == 0x01 && len(data) >= 1 && data[0] == 0x04:
		return Event{Kind: EventAck}

	case header == 0x61 && len(data) >= 1 && data[0] == 0x80:
		return Event{Kind: EventTransmissionError, Raw: append([]byte{header}, data...)}

	case header == 0x61 && len(data) >= 1 && data[0] == 0x81:
		return Event{Kind: EventStationBusy, Raw: append([]byte{header}, data...)}

	case header == 0x61 && len(data) >= 1 && data[0] == 0x82:
		return Event{Kind: EventCommandNotSupported, Raw: append([]byte{header}, data...)}

	default:
		return Event{Kind: EventUnknownFrame, Raw: append([]byte{header}, data...)}
	}
}

func directionOf(sd byte) Direction {
	if sd&0x80 != 0 {
		return Forward
	}
	return Reverse
}

// versionString renders the two-decimal version encoding of §4.3: V/100.
func versionString(v byte) string {
	whole := int(v) / 100
	frac := int(v) % 100
	return formatVersion(whole, frac)
}

func formatVersion(whole, frac int) string {
	digits := func(n int) string {
		if n < 10 {
			return "0" + itoa(n)
		}
		return itoa(n)
	}
	return itoa(whole) + "." + digits(frac)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
