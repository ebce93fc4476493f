package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestSetUIDLayout(t *testing.T) {
	var uid [UIDLength]byte
	for i := range uid {
		uid[i] = byte(i)
	}
	var f Frame
	f.SetUID(-4, uid)

	want := []byte{20, 0xAA, 0xFE, 0x00, 0xFC}
	want = append(want, uid[:]...)
	if !bytes.Equal(f.Bytes(), want) {
		t.Errorf("Bytes() =\n  got  %x\n  want %x", f.Bytes(), want)
	}
	if f.Length() != 20 {
		t.Errorf("Length() = %d, want 20", f.Length())
	}
	if got := f.Adv(); len(got) != 20 || got[0] != 0xAA {
		t.Errorf("Adv() = %x, want 20 bytes starting at the UUID", got)
	}
	if f.ServiceDataLength() != 18 {
		t.Errorf("ServiceDataLength() = %d, want 18", f.ServiceDataLength())
	}
	if f.ServiceData()[0] != byte(FrameTypeUID) {
		t.Errorf("ServiceData()[0] = 0x%02x, want frame type", f.ServiceData()[0])
	}
	if !bytes.Equal(f.Payload(), uid[:]) {
		t.Errorf("Payload() = %x, want %x", f.Payload(), uid)
	}
}

func TestSetEIDLayout(t *testing.T) {
	eid := [EIDLength]byte{1, 2, 3, 4, 5, 6, 7, 8}
	var f Frame
	f.SetEID(4, eid)

	want := []byte{12, 0xAA, 0xFE, 0x30, 0x04, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(f.Bytes(), want) {
		t.Errorf("Bytes() =\n  got  %x\n  want %x", f.Bytes(), want)
	}
	got, ok := f.EID()
	if !ok || got != eid {
		t.Errorf("EID() = %x, %v, want %x, true", got, ok, eid)
	}
}

func TestSetTxPowerInPlace(t *testing.T) {
	var f Frame
	f.SetEID(4, [EIDLength]byte{9, 9, 9, 9, 9, 9, 9, 9})
	before := f.Payload()[0]

	f.SetTxPower(-30)

	if f.TxPower() != -30 {
		t.Errorf("TxPower() = %d, want -30", f.TxPower())
	}
	if f.Length() != 12 || f.Type() != FrameTypeEID || f.Payload()[0] != before {
		t.Error("SetTxPower() changed more than the power byte")
	}
}

func TestSetTxPowerIgnoredForTLM(t *testing.T) {
	var f Frame
	f.SetTLM(Telemetry{Version: TLMVersion, PDUCount: 3})
	f.SetTxPower(-30)
	if f[powerOffset] != TLMVersion {
		t.Errorf("TLM version byte = 0x%02x, want 0x%02x", f[powerOffset], TLMVersion)
	}
}

func TestTLMBigEndian(t *testing.T) {
	tlm := Telemetry{
		Version:       TLMVersion,
		BatteryMV:     3000,
		Temperature:   FixedTemperature(21.5),
		PDUCount:      0x01020304,
		TimeSinceBoot: 0x0A0B0C0D,
	}
	var f Frame
	f.SetTLM(tlm)

	want := []byte{
		16, 0xAA, 0xFE, 0x20, 0x00,
		0x0B, 0xB8, // 3000 mV
		0x15, 0x80, // 21.5 °C
		0x01, 0x02, 0x03, 0x04,
		0x0A, 0x0B, 0x0C, 0x0D,
	}
	if !bytes.Equal(f.Bytes(), want) {
		t.Errorf("Bytes() =\n  got  %x\n  want %x", f.Bytes(), want)
	}
	got, ok := f.TLM()
	if !ok || got != tlm {
		t.Errorf("TLM() = %+v, %v, want %+v", got, ok, tlm)
	}
	if got.Celsius() != 21.5 {
		t.Errorf("Celsius() = %v, want 21.5", got.Celsius())
	}
}

func TestEncodeDecodeAllTypes(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
	}{
		{"uid", Fields{Type: FrameTypeUID, TxPower: -13, Payload: bytes.Repeat([]byte{0x5A}, UIDLength)}},
		{"url", Fields{Type: FrameTypeURL, TxPower: 4, Payload: []byte{0x02, 'g', 'o', 'o', '.', 'g', 'l', '/', 'x'}}},
		{"url max", Fields{Type: FrameTypeURL, TxPower: 0, Payload: bytes.Repeat([]byte{'a'}, URLMaxLength)}},
		{"tlm", Fields{Type: FrameTypeTLM, TxPower: TLMVersion, Payload: bytes.Repeat([]byte{1}, TLMPayloadLength)}},
		{"eid", Fields{Type: FrameTypeEID, TxPower: -42, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Encode(tt.fields)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if f.Length() != len(tt.fields.Payload)+4 {
				t.Errorf("Length() = %d, want %d", f.Length(), len(tt.fields.Payload)+4)
			}
			got, err := f.Decode()
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Type != tt.fields.Type || got.TxPower != tt.fields.TxPower || !bytes.Equal(got.Payload, tt.fields.Payload) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.fields)
			}
		})
	}
}

func TestEncodeRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
	}{
		{"short uid", Fields{Type: FrameTypeUID, Payload: make([]byte, 10)}},
		{"empty url", Fields{Type: FrameTypeURL}},
		{"long url", Fields{Type: FrameTypeURL, Payload: make([]byte, URLMaxLength+1)}},
		{"long eid", Fields{Type: FrameTypeEID, Payload: make([]byte, 16)}},
		{"unknown type", Fields{Type: 0x40, Payload: make([]byte, 4)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.fields)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Encode() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestSetBytes(t *testing.T) {
	var src Frame
	src.SetEID(4, [EIDLength]byte{1, 2, 3, 4, 5, 6, 7, 8})

	var dst Frame
	if err := dst.SetBytes(src.Bytes()); err != nil {
		t.Fatalf("SetBytes() error = %v", err)
	}
	if dst != src {
		t.Errorf("SetBytes() = %x, want %x", dst.Bytes(), src.Bytes())
	}

	corrupt := append([]byte(nil), src.Bytes()...)
	corrupt[0] = 30
	if err := dst.SetBytes(corrupt); err == nil {
		t.Error("SetBytes() should reject a length byte that disagrees with the data")
	}
	if dst != src {
		t.Error("failed SetBytes() modified the frame")
	}
}

func TestAccessorsStayInBuffer(t *testing.T) {
	var f Frame
	f[0] = 0xFF
	if len(f.Adv()) != FrameSize-1 {
		t.Errorf("Adv() length = %d, want %d", len(f.Adv()), FrameSize-1)
	}
	if err := f.Validate(); err == nil {
		t.Error("Validate() should reject an oversized length byte")
	}
}

func TestValidateServiceUUID(t *testing.T) {
	var f Frame
	f.SetEID(0, [EIDLength]byte{1, 2, 3, 4, 5, 6, 7, 8})
	if f[1] != 0xAA || f[2] != 0xFE {
		t.Fatalf("service UUID bytes = %02x %02x, want aa fe", f[1], f[2])
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		b1, b2 byte
	}{
		{"byte swapped", 0xFE, 0xAA},
		{"low byte wrong", 0xAB, 0xFE},
		{"high byte wrong", 0xAA, 0xFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := f
			bad[1], bad[2] = tt.b1, tt.b2
			if err := bad.Validate(); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Validate() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}
