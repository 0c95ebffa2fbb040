// Package protocol implements the hub wire frame: a fixed 26-byte header
// followed by an opaque payload, carried in pooled message objects that
// cycle between the hub's queues and its connections.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Magic bytes identifying a hub frame on the wire.
const (
	MagicByte1 uint8 = 0x57 // 'W'
	MagicByte2 uint8 = 0x48 // 'H'
)

const (
	// HeaderSize is the fixed size of the frame header.
	HeaderSize = 26

	// MTU is the maximum frame length (header plus payload).
	MTU = 1024

	// PayloadMax is the maximum payload length.
	PayloadMax = MTU - HeaderSize
)

// Flags is the per-message flag bitset. Only the wire subset travels
// inside the frame header; the rest is hub-local bookkeeping.
type Flags uint16

const (
	// FlagTrap marks a message terminal at the local hub (e.g. a
	// registration request) pending the trap hook's decision.
	FlagTrap Flags = 1 << 0
	// FlagPriority exempts a message from the random-drop policy.
	FlagPriority Flags = 1 << 1
	// FlagProcessed records that the routing hook already ran.
	FlagProcessed Flags = 1 << 2
	// FlagWaitProcessing records that the message awaits the routing hook.
	FlagWaitProcessing Flags = 1 << 3
)

// wireFlags is the subset of flags carried inside the frame header.
const wireFlags = FlagTrap | FlagPriority

// Header is the unpacked frame header.
//
// Wire layout (big-endian):
//
//	bytes 0-1   magic
//	bytes 2-3   frame length (header + payload)
//	bytes 4-5   sequence number
//	byte  6     group tag
//	byte  7     status
//	bytes 8-15  source UID
//	bytes 16-23 destination UID
//	bytes 24-25 flags (wire subset)
type Header struct {
	Length      uint16
	Sequence    uint16
	Group       uint8
	Status      uint8
	Source      uint64
	Destination uint64
	Flags       Flags
}

// Message is a pooled frame. The serialized frame lives in buf; the
// unpacked header is kept alongside so that routing can restamp the
// destination without touching the wire image until egress.
type Message struct {
	header Header
	hops   uint32
	marked bool
	buf    [MTU]byte
}

// NewMessage allocates a message outside the pool. The hub only uses
// pooled messages; this is for bridges and tests that compose frames.
func NewMessage() *Message {
	m := &Message{}
	m.Reset()
	return m
}

// Reset returns the message to its freshly-allocated state.
func (m *Message) Reset() {
	m.header = Header{Length: HeaderSize}
	m.hops = 0
	m.marked = false
	m.buf[0] = MagicByte1
	m.buf[1] = MagicByte2
}

// Header returns a copy of the unpacked header.
func (m *Message) Header() Header { return m.header }

// SetHeader replaces the unpacked header. The length field is not
// checked here or by Pack; Validate reports whether it is in range.
func (m *Message) SetHeader(h Header) { m.header = h }

func (m *Message) Length() uint16      { return m.header.Length }
func (m *Message) Sequence() uint16    { return m.header.Sequence }
func (m *Message) Group() uint8        { return m.header.Group }
func (m *Message) Status() uint8       { return m.header.Status }
func (m *Message) Source() uint64      { return m.header.Source }
func (m *Message) Destination() uint64 { return m.header.Destination }

func (m *Message) SetSequence(seq uint16)    { m.header.Sequence = seq }
func (m *Message) SetGroup(group uint8)      { m.header.Group = group }
func (m *Message) SetStatus(status uint8)    { m.header.Status = status }
func (m *Message) SetSource(uid uint64)      { m.header.Source = uid }
func (m *Message) SetDestination(uid uint64) { m.header.Destination = uid }

// Flags returns the current flag word.
func (m *Message) Flags() Flags { return m.header.Flags }

// PutFlags replaces the whole flag word. Used by the processing pipeline
// where stamping one flag deliberately clears all the others.
func (m *Message) PutFlags(f Flags) { m.header.Flags = f }

// SetFlags raises the given flag bits.
func (m *Message) SetFlags(f Flags) { m.header.Flags |= f }

// ClearFlags lowers the given flag bits.
func (m *Message) ClearFlags(f Flags) { m.header.Flags &^= f }

// TestFlags reports whether any of the given flag bits is raised.
func (m *Message) TestFlags(f Flags) bool { return m.header.Flags&f != 0 }

// Marked reports whether the message currently resides inside a queue.
func (m *Message) Marked() bool { return m.marked }

// SetMarked records queue residency.
func (m *Message) SetMarked() { m.marked = true }

// ClearMarked records removal from all queues.
func (m *Message) ClearMarked() { m.marked = false }

// HopCount returns the number of hub-to-hub hops consumed so far.
func (m *Message) HopCount() uint32 { return m.hops }

// AddHopCount increments the hop count and returns the new value.
func (m *Message) AddHopCount() uint32 {
	m.hops++
	return m.hops
}

// Validate reports whether the header fields are internally consistent:
// the frame length must cover the header and fit within the MTU.
func (m *Message) Validate() bool {
	return m.header.Length >= HeaderSize && m.header.Length <= MTU
}

// Payload returns the payload bytes of the current frame.
func (m *Message) Payload() []byte {
	if !m.Validate() {
		return nil
	}
	return m.buf[HeaderSize:m.header.Length]
}

// SetPayload copies the payload into the frame and updates the length.
func (m *Message) SetPayload(data []byte) error {
	if len(data) > PayloadMax {
		return fmt.Errorf("payload of %d bytes exceeds the %d byte limit", len(data), PayloadMax)
	}
	copy(m.buf[HeaderSize:], data)
	m.header.Length = HeaderSize + uint16(len(data))
	return nil
}

// Pack serializes the unpacked header into the frame image and returns
// the wire bytes. The payload bytes are already in place.
func (m *Message) Pack() []byte {
	b := m.buf[:]
	b[0] = MagicByte1
	b[1] = MagicByte2
	binary.BigEndian.PutUint16(b[2:4], m.header.Length)
	binary.BigEndian.PutUint16(b[4:6], m.header.Sequence)
	b[6] = m.header.Group
	b[7] = m.header.Status
	binary.BigEndian.PutUint64(b[8:16], m.header.Source)
	binary.BigEndian.PutUint64(b[16:24], m.header.Destination)
	binary.BigEndian.PutUint16(b[24:26], uint16(m.header.Flags&wireFlags))
	return b[:m.header.Length]
}

// Unpack copies a complete frame into the message and unpacks its
// header. The hub-local flag bits and the hop count are reset.
func (m *Message) Unpack(frame []byte) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("frame of %d bytes is shorter than the %d byte header", len(frame), HeaderSize)
	}
	if frame[0] != MagicByte1 || frame[1] != MagicByte2 {
		return fmt.Errorf("invalid magic bytes: %02X %02X", frame[0], frame[1])
	}
	length := binary.BigEndian.Uint16(frame[2:4])
	if int(length) != len(frame) || length > MTU {
		return fmt.Errorf("frame length %d does not match %d received bytes", length, len(frame))
	}
	copy(m.buf[:], frame)
	m.header = Header{
		Length:      length,
		Sequence:    binary.BigEndian.Uint16(frame[4:6]),
		Group:       frame[6],
		Status:      frame[7],
		Source:      binary.BigEndian.Uint64(frame[8:16]),
		Destination: binary.BigEndian.Uint64(frame[16:24]),
		Flags:       Flags(binary.BigEndian.Uint16(frame[24:26])) & wireFlags,
	}
	m.hops = 0
	return nil
}

// PeekLength reads the frame length out of a partial header, returning
// false until enough bytes are present. Used by the stream decoder.
func PeekLength(data []byte) (uint16, bool, error) {
	if len(data) < 4 {
		return 0, false, nil
	}
	if data[0] != MagicByte1 || data[1] != MagicByte2 {
		return 0, false, fmt.Errorf("invalid magic bytes: %02X %02X", data[0], data[1])
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if length < HeaderSize || length > MTU {
		return 0, false, fmt.Errorf("frame length %d outside [%d, %d]", length, HeaderSize, MTU)
	}
	return length, true, nil
}
