package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage()
	m.SetSource(7)
	m.SetDestination(42)
	m.SetGroup(3)
	m.SetSequence(99)
	m.SetStatus(1)
	m.SetFlags(FlagTrap | FlagPriority | FlagProcessed)
	require.NoError(t, m.SetPayload([]byte("hello overlay")))

	frame := m.Pack()
	assert.Equal(t, int(m.Length()), len(frame))

	out := NewMessage()
	require.NoError(t, out.Unpack(frame))
	assert.Equal(t, uint64(7), out.Source())
	assert.Equal(t, uint64(42), out.Destination())
	assert.Equal(t, uint8(3), out.Group())
	assert.Equal(t, uint16(99), out.Sequence())
	assert.Equal(t, []byte("hello overlay"), out.Payload())
	// Only the wire subset of the flags crosses the network.
	assert.True(t, out.TestFlags(FlagTrap))
	assert.True(t, out.TestFlags(FlagPriority))
	assert.False(t, out.TestFlags(FlagProcessed))
}

func TestMessageValidate(t *testing.T) {
	m := NewMessage()
	assert.True(t, m.Validate(), "header-only frame is valid")

	m.SetHeader(Header{Length: HeaderSize - 1})
	assert.False(t, m.Validate())

	m.SetHeader(Header{Length: MTU})
	assert.True(t, m.Validate())

	m.SetHeader(Header{Length: MTU + 1})
	assert.False(t, m.Validate())
	assert.Nil(t, m.Payload())
}

func TestMessageFlagDiscipline(t *testing.T) {
	m := NewMessage()
	m.SetFlags(FlagTrap | FlagWaitProcessing)
	assert.True(t, m.TestFlags(FlagTrap))

	// PutFlags replaces the whole word.
	m.PutFlags(FlagProcessed)
	assert.True(t, m.TestFlags(FlagProcessed))
	assert.False(t, m.TestFlags(FlagTrap))
	assert.False(t, m.TestFlags(FlagWaitProcessing))

	m.ClearFlags(FlagProcessed)
	assert.Equal(t, Flags(0), m.Flags())
}

func TestMessageHopCount(t *testing.T) {
	m := NewMessage()
	assert.Equal(t, uint32(0), m.HopCount())
	assert.Equal(t, uint32(1), m.AddHopCount())
	assert.Equal(t, uint32(2), m.AddHopCount())
	m.Reset()
	assert.Equal(t, uint32(0), m.HopCount())
}

func TestMessagePayloadLimit(t *testing.T) {
	m := NewMessage()
	assert.Error(t, m.SetPayload(make([]byte, PayloadMax+1)))
	assert.NoError(t, m.SetPayload(make([]byte, PayloadMax)))
	assert.Equal(t, uint16(MTU), m.Length())
}

func TestUnpackRejectsCorruptFrames(t *testing.T) {
	m := NewMessage()
	assert.Error(t, m.Unpack([]byte{1, 2, 3}), "short frame")

	good := NewMessage().Pack()
	bad := append([]byte(nil), good...)
	bad[0] = 0xFF
	assert.Error(t, m.Unpack(bad), "bad magic")

	bad = append([]byte(nil), good...)
	bad[3] = byte(len(bad) + 1)
	assert.Error(t, m.Unpack(bad), "length mismatch")
}

func TestPeekLength(t *testing.T) {
	m := NewMessage()
	require.NoError(t, m.SetPayload([]byte("x")))
	frame := m.Pack()

	_, ok, err := PeekLength(frame[:3])
	assert.NoError(t, err)
	assert.False(t, ok, "partial header")

	length, ok, err := PeekLength(frame)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, m.Length(), length)

	_, _, err = PeekLength([]byte{0, 0, 0, 0})
	assert.Error(t, err, "bad magic")
}

func TestMessageMarking(t *testing.T) {
	m := NewMessage()
	assert.False(t, m.Marked())
	m.SetMarked()
	assert.True(t, m.Marked())
	m.Reset()
	assert.False(t, m.Marked())
}
