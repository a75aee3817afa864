// Package proto defines the messages exchanged between the host and the
// device, keyed by a single-byte identifier, and the framer that carves a
// raw byte stream into them.
//
// The wire format per message is [id: 1 byte][payload: PayloadLen(id) bytes]
// with no terminator, length field or checksum. Both ends share the same
// static payload-length table, so the length is implied by the identifier
// alone. Identifiers live in one namespace regardless of direction; the
// direction noted on each type is advisory and is enforced only by which
// side registers a handler for it.
package proto

import (
	"fmt"
	"math"
)

// MsgID identifies a message type on the wire.
type MsgID byte

const (
	MsgVolumeRequest  MsgID = 0x00 // device -> host
	MsgVolume         MsgID = 0x01 // both directions
	MsgTogglePlayback MsgID = 0x02 // device -> host
	MsgPlaybackStatus MsgID = 0x03 // host -> device
	MsgSkip           MsgID = 0x04 // device -> host
	MsgVU             MsgID = 0x05 // host -> device
	MsgSpectrum       MsgID = 0x06 // host -> device
	MsgIdentity       MsgID = 0x07 // device -> host, broadcast while unbound
	MsgBindAck        MsgID = 0x08 // host -> device
	MsgReset          MsgID = 0x09 // host -> device
)

// SpectrumBins is the number of frequency bins per channel in a Spectrum
// message. Half the LED count of the ring works best for rendering.
const SpectrumBins = 12

// SerialLen is the fixed size of the serial number field in an Identity
// message. Serial numbers shorter than this are NUL-padded.
const SerialLen = 16

// Message is one protocol message. Implementations are plain structs with
// typed fields; marshalling produces exactly PayloadLen(ID()) bytes and
// unmarshalling is only ever called with exactly that many.
type Message interface {
	ID() MsgID
	MarshalPayload() []byte
	UnmarshalPayload(data []byte) error
}

type msgInfo struct {
	size  int
	blank func() Message
}

var registry = map[MsgID]msgInfo{
	MsgVolumeRequest:  {0, func() Message { return &VolumeRequest{} }},
	MsgVolume:         {1, func() Message { return &Volume{} }},
	MsgTogglePlayback: {0, func() Message { return &TogglePlayback{} }},
	MsgPlaybackStatus: {1, func() Message { return &PlaybackStatus{} }},
	MsgSkip:           {1, func() Message { return &Skip{} }},
	MsgVU:             {2, func() Message { return &VU{} }},
	MsgSpectrum:       {SpectrumBins * 2, func() Message { return &Spectrum{} }},
	MsgIdentity:       {SerialLen, func() Message { return &Identity{} }},
	MsgBindAck:        {0, func() Message { return &BindAck{} }},
	MsgReset:          {0, func() Message { return &Reset{} }},
}

// PayloadLen returns the fixed payload size for the given identifier. The
// second return is false for identifiers not in the catalog.
func PayloadLen(id MsgID) (int, bool) {
	info, ok := registry[id]
	return info.size, ok
}

// New returns a blank message of the given type, ready to unmarshal into.
func New(id MsgID) (Message, error) {
	info, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown message id 0x%02x", byte(id))
	}
	return info.blank(), nil
}

// Encode serializes a message to its wire form: the identifier byte followed
// by the fixed-length payload.
func Encode(m Message) []byte {
	payload := m.MarshalPayload()
	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(m.ID()))
	return append(out, payload...)
}

// fracToByte converts a fraction in [0,1] to a byte, clamping out-of-range
// input. Rounding (rather than truncating) keeps byte -> fraction -> byte
// stable.
func fracToByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(math.Round(v * 255))
}

func byteToFrac(b byte) float64 {
	return float64(b) / 255
}

// VolumeRequest asks the host for the current system volume. Sent by the
// device when the knob wakes from idle.
type VolumeRequest struct{}

func (*VolumeRequest) ID() MsgID                  { return MsgVolumeRequest }
func (*VolumeRequest) MarshalPayload() []byte     { return nil }
func (*VolumeRequest) UnmarshalPayload([]byte) error { return nil }

// Volume carries a volume level as a fraction between 0 (muted) and 1 (max).
type Volume struct {
	Level float64
}

func (*Volume) ID() MsgID { return MsgVolume }

func (m *Volume) MarshalPayload() []byte {
	return []byte{fracToByte(m.Level)}
}

func (m *Volume) UnmarshalPayload(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("volume payload: want 1 byte, got %d", len(data))
	}
	m.Level = byteToFrac(data[0])
	return nil
}

// TogglePlayback asks the host to toggle the play/pause state of the
// current media session.
type TogglePlayback struct{}

func (*TogglePlayback) ID() MsgID                  { return MsgTogglePlayback }
func (*TogglePlayback) MarshalPayload() []byte     { return nil }
func (*TogglePlayback) UnmarshalPayload([]byte) error { return nil }

// PlaybackStatus reports the host's current play/pause state.
type PlaybackStatus struct {
	Playing bool
}

func (*PlaybackStatus) ID() MsgID { return MsgPlaybackStatus }

func (m *PlaybackStatus) MarshalPayload() []byte {
	if m.Playing {
		return []byte{1}
	}
	return []byte{0}
}

func (m *PlaybackStatus) UnmarshalPayload(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("playback status payload: want 1 byte, got %d", len(data))
	}
	m.Playing = data[0] != 0
	return nil
}

// Skip asks the host to skip to the next or previous track.
type Skip struct {
	Forward bool
}

func (*Skip) ID() MsgID { return MsgSkip }

func (m *Skip) MarshalPayload() []byte {
	if m.Forward {
		return []byte{1}
	}
	return []byte{0}
}

func (m *Skip) UnmarshalPayload(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("skip payload: want 1 byte, got %d", len(data))
	}
	m.Forward = data[0] != 0
	return nil
}

// VU carries stereo level meter values, each a fraction in [0,1].
type VU struct {
	Left  float64
	Right float64
}

func (*VU) ID() MsgID { return MsgVU }

func (m *VU) MarshalPayload() []byte {
	return []byte{fracToByte(m.Left), fracToByte(m.Right)}
}

func (m *VU) UnmarshalPayload(data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("vu payload: want 2 bytes, got %d", len(data))
	}
	m.Left = byteToFrac(data[0])
	m.Right = byteToFrac(data[1])
	return nil
}

// Spectrum carries a quantised stereo frequency spectrum, SpectrumBins bins
// per channel, each a fraction in [0,1].
type Spectrum struct {
	Left  [SpectrumBins]float64
	Right [SpectrumBins]float64
}

func (*Spectrum) ID() MsgID { return MsgSpectrum }

func (m *Spectrum) MarshalPayload() []byte {
	out := make([]byte, 0, SpectrumBins*2)
	for _, v := range m.Left {
		out = append(out, fracToByte(v))
	}
	for _, v := range m.Right {
		out = append(out, fracToByte(v))
	}
	return out
}

func (m *Spectrum) UnmarshalPayload(data []byte) error {
	if len(data) != SpectrumBins*2 {
		return fmt.Errorf("spectrum payload: want %d bytes, got %d", SpectrumBins*2, len(data))
	}
	for i := range m.Left {
		m.Left[i] = byteToFrac(data[i])
	}
	for i := range m.Right {
		m.Right[i] = byteToFrac(data[SpectrumBins+i])
	}
	return nil
}

// Identity announces the device's serial number. Broadcast repeatedly by an
// unbound device so the host can tell it apart from other boards sharing
// the same USB vendor/product pair. Serials longer than SerialLen are
// truncated on the wire.
type Identity struct {
	Serial string
}

func (*Identity) ID() MsgID { return MsgIdentity }

func (m *Identity) MarshalPayload() []byte {
	out := make([]byte, SerialLen)
	copy(out, m.Serial)
	return out
}

func (m *Identity) UnmarshalPayload(data []byte) error {
	if len(data) != SerialLen {
		return fmt.Errorf("identity payload: want %d bytes, got %d", SerialLen, len(data))
	}
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	m.Serial = string(data[:end])
	return nil
}

// BindAck tells the device that the host has accepted its identity
// broadcast and the session is live.
type BindAck struct{}

func (*BindAck) ID() MsgID                  { return MsgBindAck }
func (*BindAck) MarshalPayload() []byte     { return nil }
func (*BindAck) UnmarshalPayload([]byte) error { return nil }

// Reset returns the device to discovery. Sent by the host on graceful
// shutdown so the knob starts broadcasting again instead of talking into
// a dead port.
type Reset struct{}

func (*Reset) ID() MsgID                  { return MsgReset }
func (*Reset) MarshalPayload() []byte     { return nil }
func (*Reset) UnmarshalPayload([]byte) error { return nil }
