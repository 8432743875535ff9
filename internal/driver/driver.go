package driver

import "time"

// BufferSize ist die Kapazität des FIFO im Treiberbaustein. PDin-Länge
// plus OD-Länge dürfen sie nie überschreiten.
const BufferSize = 32

// Driver ist der Fähigkeitssatz, den ein Leitungstreiber-Baustein
// (MAX14819 oder kompatibel) der Port-Schicht bereitstellen muss. Die
// Port-Nummer ist die globale Nummer 0..3; welcher der beiden Kanäle
// eines Bausteins gemeint ist, löst die Implementierung selbst auf.
//
// Alle Aufrufe blockieren bis zum Abschluss der SPI-Transaktion. Die
// Serialisierung pro Baustein übernimmt der Aufrufer.
type Driver interface {
	// Begin initialisiert den Kanal, Reset setzt ihn zurück.
	Begin(port uint8) error
	Reset(port uint8) error

	// WakeUpRequest erzeugt den Wake-Up-Puls und misst die Baudrate.
	WakeUpRequest(port uint8) (comSpeed uint32, err error)

	// WriteData sendet eine M-Sequence mit Master-Command, Sendedaten
	// und erwarteter Antwortlänge.
	WriteData(mc uint8, data []byte, rxLen int, mSeqType uint8, port uint8) error

	// ReadData holt n Bytes aus dem Empfangs-FIFO des Ports.
	ReadData(port uint8, n int) ([]byte, error)

	// ReadPD liest die Antwort eines Prozessdaten-Zyklus.
	ReadPD(port uint8, expectedLen, odLen uint8) ([]byte, error)

	// WriteISDU sendet ein OD-Segment; data enthält pdOutLen Bytes
	// PD-Out-Spur gefolgt vom ISDU-Segment.
	WriteISDU(mc uint8, mSeqType uint8, port uint8, data []byte, pdOutLen uint8) error

	// ReadISDU liest das nächste OD-Segment einer ISDU-Antwort.
	ReadISDU(port uint8, odLen uint8) ([]byte, error)

	// CalculateCHKPDU berechnet die ISDU-Prüfsumme über den Frame.
	CalculateCHKPDU(frame []byte) byte

	// Registerzugriff auf den Baustein.
	ReadRegister(addr uint8) (uint8, error)
	WriteRegister(addr uint8, value uint8) error

	// WaitFor blockiert für die Protokoll-Wartefenster.
	WaitFor(d time.Duration)
}
