package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stimworks/stimlink/internal/protocol"
)

func mustEncode(t *testing.T, f Frame) []byte {
	t.Helper()
	buf, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf
}

func TestEncodeWireLayout(t *testing.T) {
	buf := mustEncode(t, Frame{
		Cmd:          protocol.CmdMlInit,
		PacketNumber: 7,
		Payload:      []byte{0x01},
	})

	// [SOF][len=3:2 LE][cmd][pn][payload][crc][EOF]
	if len(buf) != 8 {
		t.Fatalf("frame length = %d, want 8", len(buf))
	}
	if buf[0] != protocol.StartOfFrame {
		t.Fatalf("start marker = %#x", buf[0])
	}
	if buf[1] != 3 || buf[2] != 0 {
		t.Fatalf("length field = %#x %#x, want 03 00", buf[1], buf[2])
	}
	if buf[3] != byte(protocol.CmdMlInit) || buf[4] != 7 || buf[5] != 0x01 {
		t.Fatalf("body = % x", buf[3:6])
	}
	if buf[6] != protocol.Checksum(buf[3:6]) {
		t.Fatalf("checksum = %#x, want %#x", buf[6], protocol.Checksum(buf[3:6]))
	}
	if buf[7] != protocol.EndOfFrame {
		t.Fatalf("end marker = %#x", buf[7])
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	_, err := Encode(Frame{
		Cmd:     protocol.CmdMlUpdate,
		Payload: make([]byte, protocol.MaxPayloadSize+1),
	})
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("Encode oversized = %v, want ErrPayloadTooLarge", err)
	}
}

func TestRoundTrip(t *testing.T) {
	frames := []Frame{
		{Cmd: protocol.CmdGetExtendedVersion, PacketNumber: 0},
		{Cmd: protocol.CmdMlInit, PacketNumber: 1, Payload: []byte{0x01}},
		{Cmd: protocol.CmdMlUpdate, PacketNumber: 255, Payload: bytes.Repeat([]byte{0xAB}, 100)},
		{Cmd: protocol.CmdMlStopAck, PacketNumber: 42, Payload: []byte{0x00}},
	}

	d := NewDecoder()
	for _, want := range frames {
		d.Feed(mustEncode(t, want))
		got, err := d.Next()
		if err != nil {
			t.Fatalf("Next(%v): %v", want.Cmd, err)
		}
		if got.Cmd != want.Cmd || got.PacketNumber != want.PacketNumber {
			t.Fatalf("got %v/%d, want %v/%d", got.Cmd, got.PacketNumber, want.Cmd, want.PacketNumber)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("payload mismatch for %v", want.Cmd)
		}
	}
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Next on empty decoder = %v, want ErrIncomplete", err)
	}
}

// The decoder must produce identical frames no matter how the stream is
// chunked by the transport.
func TestChunkingIndependence(t *testing.T) {
	frames := []Frame{
		{Cmd: protocol.CmdMlInitAck, PacketNumber: 3, Payload: []byte{0x00, 0xD0, 0x07}},
		{Cmd: protocol.CmdMlUpdateAck, PacketNumber: 4, Payload: []byte{0x00}},
		{Cmd: protocol.CmdMlGetCurrentDataAck, PacketNumber: 5,
			Payload: []byte{0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	var stream []byte
	for _, f := range frames {
		stream = append(stream, mustEncode(t, f)...)
	}

	for _, chunk := range []int{1, 2, 3, 7, len(stream)} {
		d := NewDecoder()
		var got []Frame
		for i := 0; i < len(stream); i += chunk {
			end := i + chunk
			if end > len(stream) {
				end = len(stream)
			}
			d.Feed(stream[i:end])
			for {
				f, err := d.Next()
				if err != nil {
					if errors.Is(err, ErrIncomplete) {
						break
					}
					t.Fatalf("chunk %d: Next: %v", chunk, err)
				}
				got = append(got, f)
			}
		}
		if len(got) != len(frames) {
			t.Fatalf("chunk %d: decoded %d frames, want %d", chunk, len(got), len(frames))
		}
		for i := range frames {
			if got[i].Cmd != frames[i].Cmd || got[i].PacketNumber != frames[i].PacketNumber ||
				!bytes.Equal(got[i].Payload, frames[i].Payload) {
				t.Fatalf("chunk %d: frame %d = %+v, want %+v", chunk, i, got[i], frames[i])
			}
		}
		if d.Buffered() != 0 {
			t.Fatalf("chunk %d: %d bytes left buffered", chunk, d.Buffered())
		}
	}
}

func TestLeadingGarbageBeforeValidFrameIsDropped(t *testing.T) {
	good := mustEncode(t, Frame{Cmd: protocol.CmdMlStopAck, PacketNumber: 9, Payload: []byte{0x00}})
	d := NewDecoder()
	d.Feed([]byte{0x11, 0x22, 0x33})
	d.Feed(good)

	f, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Cmd != protocol.CmdMlStopAck || f.PacketNumber != 9 {
		t.Fatalf("frame = %+v", f)
	}
}

func TestChecksumCorruptionRecovers(t *testing.T) {
	first := mustEncode(t, Frame{Cmd: protocol.CmdMlInitAck, PacketNumber: 1, Payload: []byte{0x00, 0xD0, 0x07}})
	second := mustEncode(t, Frame{Cmd: protocol.CmdMlUpdateAck, PacketNumber: 2, Payload: []byte{0x00}})

	corrupt := append([]byte(nil), first...)
	corrupt[5] ^= 0xFF // payload byte, checksum no longer matches

	d := NewDecoder()
	d.Feed(corrupt)
	d.Feed(second)

	var ferr *Error
	sawSecond := false
	for i := 0; i < 20 && !sawSecond; i++ {
		f, err := d.Next()
		if err != nil {
			if errors.Is(err, ErrIncomplete) {
				break
			}
			if !errors.As(err, &ferr) {
				t.Fatalf("Next: %v, want *frame.Error", err)
			}
			continue
		}
		if f.Cmd == protocol.CmdMlUpdateAck && f.PacketNumber == 2 {
			sawSecond = true
		}
	}
	if ferr == nil {
		t.Fatalf("corruption never reported")
	}
	if !errors.Is(ferr, protocol.ErrChecksumMismatch) {
		t.Fatalf("frame error cause = %v, want checksum mismatch", ferr.Cause)
	}
	if !sawSecond {
		t.Fatalf("valid frame after corruption was lost")
	}
}

func TestSingleBitCorruptionNeverLosesFollowingFrame(t *testing.T) {
	target := mustEncode(t, Frame{Cmd: protocol.CmdMlInitAck, PacketNumber: 10, Payload: []byte{0x00, 0xE8, 0x03}})
	follow := mustEncode(t, Frame{Cmd: protocol.CmdMlStopAck, PacketNumber: 11, Payload: []byte{0x00}})

	for i := range target {
		corrupt := append([]byte(nil), target...)
		corrupt[i] ^= 0x01

		d := NewDecoder()
		d.Feed(corrupt)
		d.Feed(follow)

		// A corrupted length field stalls the decoder until enough
		// bytes arrive, so keep the stream flowing as a live link would.
		found := false
		feeds := 0
		for tries := 0; tries < 400 && !found; tries++ {
			f, err := d.Next()
			if err != nil {
				if errors.Is(err, ErrIncomplete) {
					if feeds >= 60 {
						break
					}
					d.Feed(follow)
					feeds++
				}
				continue
			}
			if f.Cmd == protocol.CmdMlStopAck && f.PacketNumber == 11 {
				found = true
			}
		}
		if !found {
			t.Fatalf("corrupting byte %d lost all following frames", i)
		}
	}
}

func TestInvalidLengthResyncs(t *testing.T) {
	d := NewDecoder()
	// Claimed length exceeds the payload ceiling.
	d.Feed([]byte{protocol.StartOfFrame, 0xFF, 0xFF})
	_, err := d.Next()
	var ferr *Error
	if !errors.As(err, &ferr) || !errors.Is(err, protocol.ErrInvalidLength) {
		t.Fatalf("Next = %v, want frame error with invalid length", err)
	}

	good := mustEncode(t, Frame{Cmd: protocol.CmdMlStopAck, PacketNumber: 1, Payload: []byte{0x00}})
	d.Feed(good)
	for tries := 0; tries < 10; tries++ {
		f, err := d.Next()
		if err == nil {
			if f.Cmd != protocol.CmdMlStopAck {
				t.Fatalf("frame = %+v", f)
			}
			return
		}
		if errors.Is(err, ErrIncomplete) {
			t.Fatalf("decoder stalled after length error")
		}
	}
	t.Fatalf("decoder never recovered after length error")
}

func TestResetDropsPartialFrame(t *testing.T) {
	d := NewDecoder()
	full := mustEncode(t, Frame{Cmd: protocol.CmdMlInit, PacketNumber: 1, Payload: []byte{0x01}})
	d.Feed(full[:4])
	d.Reset()
	if d.Buffered() != 0 {
		t.Fatalf("Buffered after Reset = %d", d.Buffered())
	}
	d.Feed(full)
	if _, err := d.Next(); err != nil {
		t.Fatalf("Next after Reset: %v", err)
	}
}
