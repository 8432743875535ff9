package port

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenIOLinkCore/internal/driver"
	"github.com/KevinKickass/OpenIOLinkCore/internal/iolink"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrNoDevice: zyklischer oder azyklischer Zugriff ohne verbundenes Gerät
	ErrNoDevice = errors.New("no device connected")
	// ErrProtocolTimeout: ISDU Flow-Control oder Busy-Polling erschöpft
	ErrProtocolTimeout = errors.New("isdu protocol timeout")
	// ErrAddressRange: Direct-Parameter-Page-Adresse außerhalb 0..31
	ErrAddressRange = errors.New("direct parameter page address out of range")
)

// Geräte-spezifische Workarounds, siehe Begin.
const (
	deviceIDBesOD2     = 132099 // BES: OD-Länge 2 statt Tabellenwert
	deviceIDBcmSettle  = 263955 // BCM: 1000 ms Wartezeit vor OPERATE
	deviceIDParityFlux = 264968 // erste ISDU-Telegramme mit Paritätsfehler
)

const (
	errorRegisterAddr = 0x08

	delayPage     = 10 * time.Millisecond
	delayPDAnswer = 5 * time.Millisecond
	delayChunk    = 5 * time.Millisecond
	delayRespSeg  = 15 * time.Millisecond
	delayPriming  = 200 * time.Millisecond
)

// Port ist die Zustandsmaschine eines IO-Link Ports über einem
// Leitungstreiber: Erkennung, Wake-Up, Parameter-Auslesen, OPERATE und
// danach zyklischer PD-Austausch plus azyklische ISDU-Zugriffe.
//
// Die Serialisierung gegenüber dem geteilten Treiberbaustein übernimmt
// der Aufrufer (Supervisor); der interne Mutex schützt nur Parameter,
// Zustand und Puffer gegen nebenläufige Leser.
type Port struct {
	driver driver.Driver
	number uint8
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	params    Parameters
	connected bool
	pdOut     []byte
	lastPD    []byte
}

func New(drv driver.Driver, number uint8, logger *zap.Logger) *Port {
	return &Port{
		driver: drv,
		number: number,
		logger: logger,
		state:  StateIdle,
	}
}

// Number liefert die globale Portnummer 0..3.
func (p *Port) Number() uint8 { return p.number }

// State liefert den aktuellen Lebenszyklus-Zustand.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connected meldet, ob aktuell ein Gerät verbunden ist.
func (p *Port) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Params liefert die beim Hochlauf ermittelten Geräteparameter.
func (p *Port) Params() Parameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// SetPDOut ersetzt den PD-Out-Puffer. Der Inhalt wird beim nächsten
// Zyklus gesendet.
func (p *Port) SetPDOut(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pdOut = append([]byte{}, data...)
}

// PDOutSnapshot liefert eine Kopie des PD-Out-Puffers.
func (p *Port) PDOutSnapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte{}, p.pdOut...)
}

// LastPD liefert die zuletzt gelesenen rohen Prozessdaten inklusive
// des führenden Längen-Bytes.
func (p *Port) LastPD() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte{}, p.lastPD...)
}

func (p *Port) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Port) setConnected(c bool) {
	p.mu.Lock()
	p.connected = c
	p.mu.Unlock()
}

// Begin initialisiert den Port und bringt ein angeschlossenes Gerät
// direkt von STARTUP nach OPERATE (PREOPERATE wird übersprungen).
func (p *Port) Begin() error {
	if err := p.driver.Begin(p.number); err != nil {
		p.setState(StateIdle)
		return fmt.Errorf("port %d: driver init failed: %w", p.number, err)
	}

	p.setState(StateWakingUp)
	comSpeed, err := p.driver.WakeUpRequest(p.number)
	if err != nil {
		p.setConnected(false)
		p.setState(StateIdle)
		return fmt.Errorf("port %d: wake-up failed: %w", p.number, err)
	}
	p.setConnected(true)
	p.logger.Info("communication established",
		zap.Uint8("port", p.number),
		zap.Uint32("baud", comSpeed))

	p.setState(StateReadingParams)
	params, err := p.readParameters(comSpeed)
	if err != nil {
		p.setState(StateFaulted)
		p.logger.Error("parameter readout failed",
			zap.Uint8("port", p.number),
			zap.Error(err))
		return err
	}

	p.mu.Lock()
	p.params = params
	p.mu.Unlock()

	p.logger.Info("device parameters",
		zap.Uint8("port", p.number),
		zap.Uint16("vendor_id", params.VendorID),
		zap.Uint32("device_id", params.DeviceID),
		zap.Uint8("revision_id", params.RevisionID),
		zap.Uint8("m_sequence_type", params.MSeqType),
		zap.Uint8("pd_in", params.PDInLen),
		zap.Uint8("pd_out", params.PDOutLen),
		zap.Uint8("od", params.ODLen))

	if params.DeviceID == deviceIDBcmSettle {
		p.driver.WaitFor(1000 * time.Millisecond)
	}

	// Direkter Wechsel STARTUP -> OPERATE
	var opErr error
	if err := p.driver.WriteData(iolink.MCPageWrite, []byte{iolink.MCDevOperate}, 1, iolink.MTYPE0, p.number); err != nil {
		opErr = multierr.Append(opErr, err)
		p.logger.Error("operate command failed", zap.Uint8("port", p.number), zap.Error(err))
	}

	if params.PDOutLen > 0 {
		p.mu.Lock()
		p.pdOut = make([]byte, params.PDOutLen)
		p.mu.Unlock()

		// PDOUT_VALID auf dem ersten OD-Byte meldet dem Gerät gültige
		// Ausgangsdaten an.
		p.driver.WaitFor(delayPriming)
		prime := make([]byte, params.PDOutLen+params.ODLen)
		prime[params.PDOutLen] = iolink.MCPDOutValid
		opErr = multierr.Append(opErr,
			p.driver.WriteData(iolink.MCPageWrite, prime, 1, params.MSeqType, p.number))

		if params.DeviceID == deviceIDParityFlux {
			// Die ersten Telegramme dieses Geräts kommen fehlerhaft an;
			// zwei Leerzugriffe räumen den Zustand ab.
			for i := 0; i < 2; i++ {
				p.driver.WaitFor(delayPage)
				_, _ = p.ReadISDU(0x0010, 0x00)
			}
		}
	}

	p.setState(StateOperating)
	return opErr
}

// readParameters liest die Direct Parameter Page aus und leitet die
// Prozessdaten- und OD-Längen samt kanonischem M-Sequence-Typ ab.
func (p *Port) readParameters(comSpeed uint32) (Parameters, error) {
	params := Parameters{ComSpeed: comSpeed}

	mSeqCap, err := p.ReadDirectParameterPage(iolink.PageMSeqCap)
	if err != nil {
		return params, fmt.Errorf("port %d: read M_SEQ_CAP: %w", p.number, err)
	}
	// Bit 0 ist das ISDU-Support-Bit, danach drei Bit M-Sequence-Typ
	rawType := (mSeqCap >> 1) & 0x07

	revision, err := p.ReadDirectParameterPage(iolink.PageRevisionID)
	if err != nil {
		return params, fmt.Errorf("port %d: read REVISION_ID: %w", p.number, err)
	}
	params.RevisionID = revision

	pdInRaw, err := p.ReadDirectParameterPage(iolink.PagePDIn)
	if err != nil {
		return params, fmt.Errorf("port %d: read PD_IN: %w", p.number, err)
	}
	pdOutRaw, err := p.ReadDirectParameterPage(iolink.PagePDOut)
	if err != nil {
		return params, fmt.Errorf("port %d: read PD_OUT: %w", p.number, err)
	}

	params.PDInLen, err = iolink.PDInLength(pdInRaw)
	if err != nil {
		return params, fmt.Errorf("port %d: PD_IN 0x%02X: %w", p.number, pdInRaw, err)
	}
	params.PDOutLen, err = iolink.PDOutLength(pdOutRaw)
	if err != nil {
		return params, fmt.Errorf("port %d: PD_OUT 0x%02X: %w", p.number, pdOutRaw, err)
	}

	params.ODLen, params.MSeqType, err = iolink.DeriveMSequence(params.PDInLen, params.PDOutLen, rawType)
	if err != nil {
		return params, fmt.Errorf("port %d: m-sequence derivation (pd_in=%d pd_out=%d raw=%d): %w",
			p.number, params.PDInLen, params.PDOutLen, rawType, err)
	}

	vendorHigh, err := p.ReadDirectParameterPage(iolink.PageVendorID1)
	if err != nil {
		return params, fmt.Errorf("port %d: read VENDOR_ID: %w", p.number, err)
	}
	vendorLow, err := p.ReadDirectParameterPage(iolink.PageVendorID2)
	if err != nil {
		return params, fmt.Errorf("port %d: read VENDOR_ID: %w", p.number, err)
	}
	params.VendorID = uint16(vendorHigh)<<8 | uint16(vendorLow)

	var deviceID uint32
	for _, addr := range []uint8{iolink.PageDeviceID1, iolink.PageDeviceID2, iolink.PageDeviceID3} {
		b, err := p.ReadDirectParameterPage(addr)
		if err != nil {
			return params, fmt.Errorf("port %d: read DEVICE_ID: %w", p.number, err)
		}
		deviceID = deviceID<<8 | uint32(b)
	}
	params.DeviceID = deviceID

	// BES meldet 1 Byte OD, liefert aber 2
	if params.DeviceID == deviceIDBesOD2 {
		params.ODLen = 2
	}

	return params, nil
}

// End trennt das Gerät (DEV_FALLBACK) und setzt den Kanal zurück.
func (p *Port) End() error {
	var err error
	err = multierr.Append(err,
		p.driver.WriteData(iolink.MCDevFallback, nil, 1, iolink.MTYPE0, p.number))
	err = multierr.Append(err, p.driver.Reset(p.number))
	p.setConnected(false)
	p.setState(StateIdle)
	return err
}

// ReadDirectParameterPage liest ein Byte der Direct Parameter Page.
// Adressen über 31 werden ohne Buszugriff abgewiesen.
func (p *Port) ReadDirectParameterPage(address uint8) (uint8, error) {
	if address > 31 {
		return 0, fmt.Errorf("port %d: address %d: %w", p.number, address, ErrAddressRange)
	}

	var err error
	err = multierr.Append(err,
		p.driver.WriteData(iolink.MCPageRead+address, nil, 1, iolink.MTYPE0, p.number))
	p.driver.WaitFor(delayPage)

	data, rerr := p.driver.ReadData(p.number, 1)
	err = multierr.Append(err, rerr)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadPD fragt einen Prozessdaten-Zyklus an und liest die Antwort.
// Der Verbindungszustand folgt dem Ergebnis des Treibers.
func (p *Port) ReadPD() error {
	params, connected := p.snapshot()
	if !connected || !params.HasDevice() {
		return fmt.Errorf("port %d: %w", p.number, ErrNoDevice)
	}

	sizeAnswer := params.PDInLen + params.ODLen
	var err error

	if params.PDOutLen > 0 {
		p.driver.WaitFor(delayPage)
		out := p.PDOutSnapshot()
		if len(out) != int(sizeAnswer) {
			resized := make([]byte, sizeAnswer)
			copy(resized, out)
			out = resized
		}
		err = multierr.Append(err,
			p.driver.WriteData(iolink.MCPDRead, out, int(sizeAnswer), params.MSeqType, p.number))
	} else {
		err = multierr.Append(err,
			p.driver.WriteData(iolink.MCPDRead, nil, int(sizeAnswer), params.MSeqType, p.number))
	}

	p.driver.WaitFor(delayPDAnswer)
	data, rerr := p.driver.ReadPD(p.number, sizeAnswer, params.ODLen)
	err = multierr.Append(err, rerr)

	p.mu.Lock()
	p.lastPD = data
	p.connected = err == nil
	p.mu.Unlock()
	return err
}

// WritePD sendet den PD-Out-Puffer zyklisch samt PDOUT_VALID auf dem
// ersten OD-Byte. Ohne PD-Out kehrt der Aufruf ohne Buszugriff zurück.
func (p *Port) WritePD() error {
	params, connected := p.snapshot()
	if !connected {
		return fmt.Errorf("port %d: %w", p.number, ErrNoDevice)
	}
	if params.PDOutLen == 0 {
		return nil
	}

	out := p.PDOutSnapshot()
	if len(out) != int(params.PDOutLen) {
		out = make([]byte, params.PDOutLen)
	}
	out = append(out, iolink.MCPDOutValid)
	for uint8(len(out)) < params.PDOutLen+params.ODLen {
		out = append(out, 0)
	}

	p.driver.WaitFor(delayPage)
	// PAGE_WRITE wegen PDOUT_VALID; Antwort ist MC + CHKPDU
	return p.driver.WriteData(iolink.MCPageWrite, out, 2, params.MSeqType, p.number)
}

// ReadErrorRegister liest das Fehlerregister des Bausteins.
func (p *Port) ReadErrorRegister() (uint8, error) {
	return p.driver.ReadRegister(errorRegisterAddr)
}

// EnsureConnected stößt bei fehlender Verbindung eine neue Erkennung an.
func (p *Port) EnsureConnected() error {
	if p.Connected() {
		return nil
	}
	return p.Begin()
}

func (p *Port) snapshot() (Parameters, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params, p.connected
}
