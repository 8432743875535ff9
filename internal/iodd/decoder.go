package iodd

import (
	"encoding/binary"
	"math"
)

// Dekodierung roher Prozessdaten-Bytes anhand eines Schemas. Die
// Bit-Numerierung folgt der IODD-Konvention: BitOffset zählt vom
// LSB-Ende des Gesamtpuffers (Bit 0 ist das niederwertigste Bit des
// letzten Bytes), intern wird daraus die vom MSB gezählte Position des
// ersten Feld-Bits berechnet.

const invalidValue = "Invalid"

// Decode wendet das Schema elementweise auf die Rohdaten an und liefert
// die Werte- und Einheiten-Abbildung. Ein fehlschlagendes Element ergibt
// den String "Invalid" unter seinem Key; die übrigen Elemente werden
// trotzdem dekodiert.
func Decode(elements []Element, data []byte) (map[string]any, map[string]any) {
	values := make(map[string]any, len(elements))
	units := make(map[string]any)

	for _, raw := range elements {
		element := raw.normalized()
		value, ok := extract(element, data)
		if !ok {
			values[element.Key] = invalidValue
			continue
		}

		switch v := value.(type) {
		case bool:
			values[element.Key] = v
		case uint64:
			values[element.Key] = scale(element.Info, float64(v), v)
		case float32:
			values[element.Key] = scale(element.Info, float64(v), v)
		}

		if element.Info.UnitCode != 0 || element.Info.DisplayFormat != "" {
			units[element.Key] = map[string]any{
				"unit_code":      element.Info.UnitCode,
				"display_format": element.Info.DisplayFormat,
			}
		}
	}
	return values, units
}

// scale wendet gradient*raw+offset an, sofern die Defaults verlassen
// wurden, andernfalls wird der Rohwert unverändert durchgereicht.
func scale(info ElementInfo, scaled float64, raw any) any {
	if info.Gradient != 1.0 || info.Offset != 0.0 {
		return info.Gradient*scaled + info.Offset
	}
	return raw
}

func extract(e Element, data []byte) (any, bool) {
	if len(data) == 0 || e.BitLength == 0 {
		return nil, false
	}

	total := len(data) * 8
	roff := total - int(e.BitOffset) - int(e.BitLength)
	if roff < 0 || roff+int(e.BitLength) > total {
		return nil, false
	}

	switch e.Type {
	case TypeBoolean:
		b := data[roff>>3]
		return (b>>(7-(roff&7)))&1 == 1, true

	case TypeUInteger:
		if e.BitLength < 2 || e.BitLength > 64 {
			return nil, false
		}
		return extractUint64(data, roff>>3, roff&7, int(e.BitLength)), true

	case TypeFloat32:
		// Float32 liegt stets byte-aligned, auch innerhalb eines RecordT
		if e.BitOffset&7 != 0 {
			return nil, false
		}
		p := roff >> 3
		if p+4 > len(data) {
			return nil, false
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data[p : p+4])), true
	}
	return nil, false
}

// byteFromRight liest ein rechtsbündig ausgerichtetes Byte. Bei
// verschobenen Feldern werden die fehlenden Bits aus dem Byte davor
// nachgezogen; vor dem Pufferanfang gilt 0.
func byteFromRight(data []byte, idx, shiftRight int) uint8 {
	if shiftRight == 0 {
		return data[idx]
	}
	var hi uint16
	if idx > 0 {
		hi = uint16(data[idx-1])
	}
	return uint8((hi<<8 | uint16(data[idx])) >> shiftRight)
}

// extractUint64 sammelt bitLength Bits MSB-first ab (base, bitOffset) in
// einen 64-Bit-Akkumulator, acht Bit je Durchlauf.
func extractUint64(data []byte, base, bitOffset, bitLength int) uint64 {
	shiftRight := (8 - ((bitOffset + bitLength) & 7)) & 7

	var value uint64
	bitsRemaining := bitLength
	for {
		idx := base + ((bitOffset + bitsRemaining - 1) >> 3)
		mask := uint8(0xFF)
		if bitsRemaining < 8 {
			mask = 0xFF >> (8 - bitsRemaining)
		}
		value |= uint64(byteFromRight(data, idx, shiftRight)&mask) << (bitLength - bitsRemaining)

		if bitsRemaining <= 8 {
			break
		}
		bitsRemaining -= 8
	}
	return value
}
