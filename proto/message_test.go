package proto

import (
	"bytes"
	"testing"
)

func TestPayloadLenTable(t *testing.T) {
	cases := []struct {
		id   MsgID
		size int
	}{
		{MsgVolumeRequest, 0},
		{MsgVolume, 1},
		{MsgTogglePlayback, 0},
		{MsgPlaybackStatus, 1},
		{MsgSkip, 1},
		{MsgVU, 2},
		{MsgSpectrum, 24},
		{MsgIdentity, 16},
		{MsgBindAck, 0},
		{MsgReset, 0},
	}
	for _, c := range cases {
		size, ok := PayloadLen(c.id)
		if !ok {
			t.Errorf("PayloadLen(0x%02x): not registered", byte(c.id))
			continue
		}
		if size != c.size {
			t.Errorf("PayloadLen(0x%02x) = %d, want %d", byte(c.id), size, c.size)
		}
	}

	if _, ok := PayloadLen(0xFF); ok {
		t.Error("PayloadLen(0xFF) reported a size for an unknown id")
	}
}

func TestEncodeMatchesDeclaredLength(t *testing.T) {
	for id, info := range registry {
		data := Encode(info.blank())
		if len(data) != 1+info.size {
			t.Errorf("Encode(0x%02x) produced %d bytes, want %d", byte(id), len(data), 1+info.size)
		}
		if MsgID(data[0]) != id {
			t.Errorf("Encode(0x%02x) wrote id byte 0x%02x", byte(id), data[0])
		}
	}
}

func TestVolumeWireExample(t *testing.T) {
	// 50/255 rides the wire as 0x01 0x32.
	data := Encode(&Volume{Level: 50.0 / 255.0})
	if !bytes.Equal(data, []byte{0x01, 0x32}) {
		t.Fatalf("Encode(volume 50/255) = %x, want 0132", data)
	}
}

func TestByteLevelRoundTrip(t *testing.T) {
	// encode(decode(bytes)) == bytes for every well-formed payload byte.
	for id, info := range registry {
		if info.size != 1 {
			continue
		}
		for b := 0; b < 256; b++ {
			msg := info.blank()
			if err := msg.UnmarshalPayload([]byte{byte(b)}); err != nil {
				t.Fatalf("0x%02x: unmarshal byte %d: %v", byte(id), b, err)
			}
			out := msg.MarshalPayload()
			if len(out) != 1 || out[0] != byte(b) {
				t.Fatalf("0x%02x: byte %d re-encoded as %v", byte(id), b, out)
			}
		}
	}
}

func TestValueRoundTrips(t *testing.T) {
	msgs := []Message{
		&VolumeRequest{},
		&Volume{Level: 0.5},
		&TogglePlayback{},
		&PlaybackStatus{Playing: true},
		&Skip{Forward: true},
		&VU{Left: 0.25, Right: 0.75},
		&Identity{Serial: "E66164084315392A"},
		&BindAck{},
		&Reset{},
	}
	for _, m := range msgs {
		decoded, err := New(m.ID())
		if err != nil {
			t.Fatalf("New(0x%02x): %v", byte(m.ID()), err)
		}
		if err := decoded.UnmarshalPayload(m.MarshalPayload()); err != nil {
			t.Fatalf("0x%02x: unmarshal: %v", byte(m.ID()), err)
		}
		if !bytes.Equal(Encode(decoded), Encode(m)) {
			t.Errorf("0x%02x: round trip changed wire bytes: %x != %x",
				byte(m.ID()), Encode(decoded), Encode(m))
		}
	}
}

func TestSpectrumRoundTrip(t *testing.T) {
	var m Spectrum
	for i := range m.Left {
		m.Left[i] = float64(i) / SpectrumBins
		m.Right[i] = 1 - float64(i)/SpectrumBins
	}
	data := m.MarshalPayload()
	if len(data) != SpectrumBins*2 {
		t.Fatalf("spectrum payload is %d bytes, want %d", len(data), SpectrumBins*2)
	}

	var decoded Spectrum
	if err := decoded.UnmarshalPayload(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(decoded.MarshalPayload(), data) {
		t.Error("spectrum round trip changed wire bytes")
	}
}

func TestIdentityPadding(t *testing.T) {
	m := &Identity{Serial: "ABC123"}
	data := m.MarshalPayload()
	if len(data) != SerialLen {
		t.Fatalf("identity payload is %d bytes, want %d", len(data), SerialLen)
	}

	var decoded Identity
	if err := decoded.UnmarshalPayload(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Serial != "ABC123" {
		t.Errorf("serial = %q, want %q", decoded.Serial, "ABC123")
	}
}

func TestVolumeClamping(t *testing.T) {
	if b := (&Volume{Level: -0.5}).MarshalPayload()[0]; b != 0 {
		t.Errorf("negative level encoded as %d, want 0", b)
	}
	if b := (&Volume{Level: 1.5}).MarshalPayload()[0]; b != 255 {
		t.Errorf("overrange level encoded as %d, want 255", b)
	}
}

func TestNewUnknownID(t *testing.T) {
	if _, err := New(0xAB); err == nil {
		t.Error("New(0xAB) succeeded for an unknown id")
	}
}
