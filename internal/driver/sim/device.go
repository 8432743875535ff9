package sim

import "github.com/KevinKickass/OpenIOLinkCore/internal/iolink"

// Device ist ein emuliertes IO-Link Device an einem Port des simulierten
// Bausteins. Es beantwortet Direct-Parameter-Page-Zugriffe, zyklische
// Prozessdaten und segmentierte ISDU-Anfragen.
type Device struct {
	VendorID   uint16
	DeviceID   uint32
	RevisionID uint8

	// Rohbytes der Direct Parameter Page Einträge
	MSeqCapRaw uint8
	PDInRaw    uint8
	PDOutRaw   uint8

	ComSpeed uint32

	// Aktuelle Prozessdaten Richtung Master (ohne Längen-Byte)
	PDIn []byte

	// ISDU-Objektverzeichnis, adressiert über Index und Subindex
	ISDUStore map[uint32][]byte

	// BusyPolls steuert, wie oft das Device eine ISDU-Antwort mit
	// "busy" quittiert, bevor sie ausgeliefert wird.
	BusyPolls int
}

func isduKey(index uint16, subIndex uint8) uint32 {
	return uint32(index)<<8 | uint32(subIndex)
}

// SetISDU belegt einen Eintrag im Objektverzeichnis.
func (d *Device) SetISDU(index uint16, subIndex uint8, data []byte) {
	if d.ISDUStore == nil {
		d.ISDUStore = make(map[uint32][]byte)
	}
	d.ISDUStore[isduKey(index, subIndex)] = append([]byte{}, data...)
}

// GetISDU liest einen Eintrag aus dem Objektverzeichnis.
func (d *Device) GetISDU(index uint16, subIndex uint8) []byte {
	return d.ISDUStore[isduKey(index, subIndex)]
}

// parameterPage liefert das Byte einer Direct-Parameter-Page-Adresse.
func (d *Device) parameterPage(addr uint8) uint8 {
	switch addr {
	case iolink.PageMSeqCap:
		return d.MSeqCapRaw
	case iolink.PageRevisionID:
		return d.RevisionID
	case iolink.PagePDIn:
		return d.PDInRaw
	case iolink.PagePDOut:
		return d.PDOutRaw
	case iolink.PageVendorID1:
		return uint8(d.VendorID >> 8)
	case iolink.PageVendorID2:
		return uint8(d.VendorID)
	case iolink.PageDeviceID1:
		return uint8(d.DeviceID >> 16)
	case iolink.PageDeviceID2:
		return uint8(d.DeviceID >> 8)
	case iolink.PageDeviceID3:
		return uint8(d.DeviceID)
	default:
		return 0
	}
}
