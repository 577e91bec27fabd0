// Package hsi builds and serializes Hardware Signal Interface frames,
// the normalized event format the readout loop emits for downstream
// consumers of LLT and HLT triggers.
package hsi

import "encoding/binary"

// Kind distinguishes the two HSI frame variants.
type Kind int

const (
	KindLLT Kind = iota
	KindHLT
)

// Header literals, distinguished by bit 26 (set only for HLT frames).
const (
	headerLLT uint32 = (1 << 6) | 1
	headerHLT uint32 = (1 << 26) | (1 << 6) | 1
)

// FrameWords is the fixed word count of a serialized frame:
// header, ts_lo, ts_hi, payload_lo, payload_hi, trigger_map, sequence.
const FrameWords = 7

// FrameSize is the serialized frame size in bytes.
const FrameSize = FrameWords * 4

// Frame is a normalized HSI event, ready for 7x32-bit little-endian
// serialization.
type Frame struct {
	Kind        Kind
	Timestamp   uint64
	Payload     uint64
	TriggerWord uint32
	Sequence    uint32
}

// NewLLT builds an LLT frame. payload is the channel-status composition
// (pds<<48)|(crt<<16)|beam matched against the causing channel-status
// slot; sequence is the run's LLT counter.
func NewLLT(ts uint64, payload uint64, triggerWord uint32, sequence uint32) Frame {
	return Frame{Kind: KindLLT, Timestamp: ts, Payload: payload, TriggerWord: triggerWord, Sequence: sequence}
}

// NewHLT builds an HLT frame. payload is the low 32 bits of the
// matched LLT's trigger word, held in payload_lo with payload_hi zero;
// sequence is the run's HLT counter.
func NewHLT(ts uint64, lltPayload uint32, triggerWord uint32, sequence uint32) Frame {
	return Frame{Kind: KindHLT, Timestamp: ts, Payload: uint64(lltPayload), TriggerWord: triggerWord, Sequence: sequence}
}

// header returns this frame's header literal.
func (f Frame) header() uint32 {
	if f.Kind == KindHLT {
		return headerHLT
	}
	return headerLLT
}

// Marshal serializes the frame to its wire form: seven little-endian
// uint32 words, [header, ts_lo, ts_hi, payload_lo, payload_hi,
// trigger_map, sequence].
func (f Frame) Marshal() [FrameSize]byte {
	var buf [FrameSize]byte
	words := [FrameWords]uint32{
		f.header(),
		uint32(f.Timestamp),
		uint32(f.Timestamp >> 32),
		uint32(f.Payload),
		uint32(f.Payload >> 32),
		f.TriggerWord,
		f.Sequence,
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	return buf
}

// Event is the device-level HSI notification pushed alongside HLT
// frames for downstream HSI consumers (spec: HSIEvent(device_id, map,
// ts, seq, run_number)).
type Event struct {
	DeviceID    uint32
	TriggerMap  uint32
	Timestamp   uint64
	Sequence    uint32
	RunNumber   uint32
}

// NewEvent builds the HSI event that accompanies every HLT frame.
// DeviceID is fixed at 1, matching the only device the driver emits
// for.
func NewEvent(triggerMap uint32, ts uint64, sequence uint32, runNumber uint32) Event {
	return Event{DeviceID: 1, TriggerMap: triggerMap, Timestamp: ts, Sequence: sequence, RunNumber: runNumber}
}
