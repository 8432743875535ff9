package iodd

import (
	"math"
	"testing"
)

func bawElements() []Element {
	return []Element{
		{Key: "TI_TargetPosition", Subindex: 1, Type: TypeUInteger, BitLength: 3, BitOffset: 4},
		{Key: "TI_OutOfRangeBit", Subindex: 2, Type: TypeBoolean, BitOffset: 3},
		{Key: "TI_BinaryChannel3", Subindex: 3, Type: TypeBoolean, BitOffset: 2},
		{Key: "TI_BinaryChannel2", Subindex: 4, Type: TypeBoolean, BitOffset: 1},
		{Key: "TI_BinaryChannel1", Subindex: 5, Type: TypeBoolean, BitOffset: 0},
	}
}

// Referenzdaten des BAW Abstandssensors: ein PD-Byte 0x3A.
func TestDecodeBaw(t *testing.T) {
	values, _ := Decode(bawElements(), []byte{0x3A})

	if got := values["TI_TargetPosition"]; got != uint64(3) {
		t.Errorf("TI_TargetPosition = %v, want 3", got)
	}
	wantBools := map[string]bool{
		"TI_OutOfRangeBit":  true,
		"TI_BinaryChannel3": false,
		"TI_BinaryChannel2": true,
		"TI_BinaryChannel1": false,
	}
	for key, want := range wantBools {
		if got := values[key]; got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
}

func TestDecodeUIntMisaligned(t *testing.T) {
	// Bits 6..12 des Puffers [0x3A 0x55], MSB-first: 1001010 = 74
	elements := []Element{
		{Key: "field", Type: TypeUInteger, BitLength: 7, BitOffset: 3},
	}
	values, _ := Decode(elements, []byte{0x3A, 0x55})
	if got := values["field"]; got != uint64(0x4A) {
		t.Errorf("field = %v, want %d", got, 0x4A)
	}
}

func TestDecodeUInt16BigEndian(t *testing.T) {
	elements := []Element{
		{Key: "count", Type: TypeUInteger, BitLength: 16, BitOffset: 8},
	}
	values, _ := Decode(elements, []byte{0x12, 0x34, 0x56})
	if got := values["count"]; got != uint64(0x1234) {
		t.Errorf("count = %v, want 0x1234", got)
	}
}

func TestDecodeFloat32(t *testing.T) {
	elements := []Element{
		{Key: "velocity", Type: TypeFloat32, BitOffset: 0},
	}
	values, _ := Decode(elements, []byte{0x3F, 0xC0, 0x00, 0x00})
	if got := values["velocity"]; got != float32(1.5) {
		t.Errorf("velocity = %v, want 1.5", got)
	}
}

func TestDecodeFloat32Misaligned(t *testing.T) {
	elements := []Element{
		{Key: "velocity", Type: TypeFloat32, BitOffset: 3},
	}
	values, _ := Decode(elements, []byte{0x00, 0x3F, 0xC0, 0x00, 0x00})
	if got := values["velocity"]; got != invalidValue {
		t.Errorf("velocity = %v, want %q", got, invalidValue)
	}
}

func TestDecodeScaling(t *testing.T) {
	elements := []Element{
		{
			Key: "temperature", Type: TypeUInteger, BitLength: 8, BitOffset: 0,
			Info: ElementInfo{Gradient: 0.1, Offset: -10},
		},
		{Key: "raw", Type: TypeUInteger, BitLength: 8, BitOffset: 8},
	}
	values, _ := Decode(elements, []byte{0x64, 0x64})

	scaled, ok := values["temperature"].(float64)
	if !ok {
		t.Fatalf("temperature = %T, want float64", values["temperature"])
	}
	if math.Abs(scaled-0.0) > 1e-9 {
		t.Errorf("temperature = %v, want 0.0", scaled)
	}
	// Ohne Skalierung bleibt der Rohwert ein uint64
	if got := values["raw"]; got != uint64(0x64) {
		t.Errorf("raw = %v (%T), want uint64 0x64", got, got)
	}
}

func TestDecodeUnits(t *testing.T) {
	elements := []Element{
		{
			Key: "pressure", Type: TypeUInteger, BitLength: 8, BitOffset: 0,
			Info: ElementInfo{UnitCode: 1137, DisplayFormat: "Dec.1"},
		},
	}
	_, units := Decode(elements, []byte{0x01})
	if _, ok := units["pressure"]; !ok {
		t.Error("expected unit metadata for pressure")
	}
}

// Der Decoder ist total: jeder Key taucht im Ergebnis auf, notfalls
// als "Invalid". Kein Element darf den Durchlauf abbrechen.
func TestDecodeTotal(t *testing.T) {
	elements := []Element{
		{Key: "ok", Type: TypeBoolean, BitOffset: 0},
		{Key: "unknown_type", Type: ElementType("StringT"), BitOffset: 0},
		{Key: "out_of_range", Type: TypeUInteger, BitLength: 64, BitOffset: 0},
		{Key: "offset_too_big", Type: TypeBoolean, BitOffset: 200},
		{Key: "float_short", Type: TypeFloat32, BitOffset: 0},
	}
	buffers := [][]byte{nil, {}, {0xFF}, {0x00, 0x01}, {1, 2, 3, 4, 5}}

	for _, data := range buffers {
		values, _ := Decode(elements, data)
		for _, e := range elements {
			if _, ok := values[e.Key]; !ok {
				t.Errorf("key %q missing for buffer % X", e.Key, data)
			}
		}
	}
}

func TestDecodeBoolDefaultLength(t *testing.T) {
	// BitLength 0 wird für BooleanT auf 1 aufgelöst
	elements := []Element{{Key: "flag", Type: TypeBoolean, BitOffset: 7}}
	values, _ := Decode(elements, []byte{0x80})
	if got := values["flag"]; got != true {
		t.Errorf("flag = %v, want true", got)
	}
}
