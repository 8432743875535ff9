package iodd

import (
	"testing"

	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestServiceLoadsEmbeddedSchemas(t *testing.T) {
	s := newTestService(t)

	for _, deviceID := range []uint32{131330, 132099, 330242, 917762} {
		if _, ok := s.Lookup(888, deviceID, 0x11); !ok {
			t.Errorf("embedded schema for device %d not found", deviceID)
		}
	}
}

func TestServiceLookupVendorMismatch(t *testing.T) {
	s := newTestService(t)

	if _, ok := s.Lookup(1234, 131330, 0x11); ok {
		t.Error("lookup with wrong vendor id should fail")
	}
}

func TestServiceInterpretBaw(t *testing.T) {
	s := newTestService(t)

	values, _ := s.InterpretProcessData([]byte{0x3A}, 888, 131330, 0x11)
	if got := values["TI_TargetPosition"]; got != uint64(3) {
		t.Errorf("TI_TargetPosition = %v, want 3", got)
	}
}

func TestServiceInterpretUnknownDeviceFallsBackToRaw(t *testing.T) {
	s := newTestService(t)

	values, units := s.InterpretProcessData([]byte{0xAB, 0xCD}, 888, 999999, 0x11)
	raw, ok := values["rawProcessData"].([]int)
	if !ok {
		t.Fatalf("rawProcessData missing, got %v", values)
	}
	if len(raw) != 2 || raw[0] != 0xAB || raw[1] != 0xCD {
		t.Errorf("rawProcessData = %v, want [171 205]", raw)
	}
	if len(units) != 0 {
		t.Errorf("units = %v, want empty", units)
	}
}

func TestServiceAddRejectsInvalidDocument(t *testing.T) {
	s := newTestService(t)

	invalid := [][]byte{
		[]byte(`{`),
		[]byte(`{"name": "x", "elements": []}`),
		[]byte(`{"name": "x", "device_id": 1, "elements": [{"key": "k", "type": "Int128T", "bit_offset": 0}]}`),
	}
	for _, doc := range invalid {
		if err := s.Add(doc); err == nil {
			t.Errorf("Add(%s) should fail", doc)
		}
	}
}

func TestServiceAddCustomSchema(t *testing.T) {
	s := newTestService(t)

	doc := []byte(`{
		"name": "test device",
		"vendor_id": 42,
		"device_id": 4711,
		"elements": [
			{"key": "flag", "type": "BooleanT", "bit_offset": 0}
		]
	}`)
	if err := s.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}

	values, _ := s.InterpretProcessData([]byte{0x01}, 42, 4711, 0)
	if got := values["flag"]; got != true {
		t.Errorf("flag = %v, want true", got)
	}
}
