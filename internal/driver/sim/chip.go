package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenIOLinkCore/internal/iolink"
)

// Chip simuliert einen MAX14819-Baustein samt angeschlossener Devices.
// Er implementiert driver.Driver und dient Tests sowie dem Betrieb ohne
// Hardware. Wartezeiten werden übersprungen, sofern nicht RealDelays
// gesetzt ist.
type Chip struct {
	mu         sync.Mutex
	ports      map[uint8]*portState
	registers  map[uint8]uint8
	RealDelays bool
}

// WriteRecord protokolliert eine gesendete M-Sequence für Assertions.
type WriteRecord struct {
	MC       uint8
	Data     []byte
	RxLen    int
	MSeqType uint8
}

type portState struct {
	device    *Device
	began     bool
	rx        []byte
	pendingPD []byte
	isduReq   []byte
	isduResp  []byte
	respPos   int
	busyLeft  int
	lastPDOut []byte
	writes    []WriteRecord
}

func NewChip() *Chip {
	return &Chip{
		ports:     make(map[uint8]*portState),
		registers: make(map[uint8]uint8),
	}
}

// Attach verbindet ein Device mit einem Port.
func (c *Chip) Attach(port uint8, device *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port(port).device = device
}

// Detach zieht das Device vom Port ab.
func (c *Chip) Detach(port uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port(port).device = nil
}

// Writes liefert alle bisher gesendeten M-Sequences des Ports.
func (c *Chip) Writes(port uint8) []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WriteRecord{}, c.port(port).writes...)
}

// LastPDOut liefert die zuletzt im PD-Zyklus mitgesendeten PD-Out-Bytes.
func (c *Chip) LastPDOut(port uint8) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte{}, c.port(port).lastPDOut...)
}

func (c *Chip) port(port uint8) *portState {
	state, ok := c.ports[port]
	if !ok {
		state = &portState{}
		c.ports[port] = state
	}
	return state
}

func (c *Chip) Begin(port uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	*state = portState{device: state.device, began: true}
	return nil
}

func (c *Chip) Reset(port uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	*state = portState{device: state.device}
	return nil
}

func (c *Chip) WakeUpRequest(port uint8) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	if state.device == nil {
		return 0, fmt.Errorf("port %d: no device answered wake-up", port)
	}
	if state.device.ComSpeed == 0 {
		return 230400, nil
	}
	return state.device.ComSpeed, nil
}

func (c *Chip) WriteData(mc uint8, data []byte, rxLen int, mSeqType uint8, port uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	state.writes = append(state.writes, WriteRecord{
		MC:       mc,
		Data:     append([]byte{}, data...),
		RxLen:    rxLen,
		MSeqType: mSeqType,
	})
	if state.device == nil {
		return fmt.Errorf("port %d: no device connected", port)
	}

	switch {
	case mc >= iolink.MCPageRead && mc <= iolink.MCPageRead+31:
		state.rx = append(state.rx, state.device.parameterPage(mc-iolink.MCPageRead))

	case mc == iolink.MCPDRead:
		pd := state.device.PDIn
		buf := make([]byte, 0, rxLen)
		buf = append(buf, uint8(len(pd)))
		buf = append(buf, pd...)
		for len(buf) < rxLen {
			buf = append(buf, 0)
		}
		state.pendingPD = buf
		if len(data) > 0 {
			state.lastPDOut = append([]byte{}, data...)
		}

	case mc == iolink.MCPageWrite:
		// OPERATE-Kommando bzw. zyklisches PD-Out samt PDOUT_VALID;
		// nur protokollieren, das Device hält keinen Modus-Zustand.

	case mc == iolink.MCODRead || (mc >= 0xE1 && mc <= 0xEF):
		// Antwortsegmente werden über ReadISDU ausgeliefert.

	case mc == iolink.MCDevFallback:
		// Device fällt in SIO zurück.
	}
	return nil
}

func (c *Chip) ReadData(port uint8, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	if len(state.rx) < n {
		return nil, fmt.Errorf("port %d: rx fifo has %d bytes, want %d", port, len(state.rx), n)
	}
	out := append([]byte{}, state.rx[:n]...)
	state.rx = state.rx[n:]
	return out, nil
}

func (c *Chip) ReadPD(port uint8, expectedLen, odLen uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	if state.device == nil {
		return nil, fmt.Errorf("port %d: no device connected", port)
	}
	if state.pendingPD == nil {
		return nil, fmt.Errorf("port %d: no process data pending", port)
	}
	out := state.pendingPD
	state.pendingPD = nil
	if len(out) > int(expectedLen) {
		out = out[:expectedLen]
	}
	return out, nil
}

func (c *Chip) WriteISDU(mc uint8, mSeqType uint8, port uint8, data []byte, pdOutLen uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	state.writes = append(state.writes, WriteRecord{
		MC:       mc,
		Data:     append([]byte{}, data...),
		MSeqType: mSeqType,
	})
	if state.device == nil {
		return fmt.Errorf("port %d: no device connected", port)
	}

	chunk := data[pdOutLen:]
	if mc == iolink.MCODWrite {
		state.isduReq = append([]byte{}, chunk...)
	} else {
		state.isduReq = append(state.isduReq, chunk...)
	}
	c.tryCompleteRequest(state)
	return nil
}

// tryCompleteRequest prüft, ob der Request-Frame vollständig ist, und
// bereitet dann die segmentierte Antwort vor.
func (c *Chip) tryCompleteRequest(state *portState) {
	hdr, err := iolink.ParseISDUHeader(state.isduReq)
	if err != nil {
		return
	}
	frameLen := hdr.HeaderLen + hdr.DataLen + 1
	if len(state.isduReq) < frameLen {
		return
	}
	frame := state.isduReq[:frameLen]
	if iolink.ChecksumPDU(frame) != 0 {
		return
	}
	state.isduReq = nil

	index := hdr.Index
	subIndex := hdr.SubIndex
	if iolink.IsWriteService(hdr.Service) {
		payload := frame[hdr.HeaderLen : hdr.HeaderLen+hdr.DataLen]
		state.device.SetISDU(index, subIndex, payload)
		state.isduResp = nil
		return
	}

	payload := state.device.GetISDU(index, subIndex)
	total := uint8(len(payload) + 2)
	resp := make([]byte, 0, len(payload)+2)
	resp = append(resp, 0xD0|total&0x0F)
	resp = append(resp, payload...)
	resp = append(resp, iolink.ChecksumPDU(resp))
	state.isduResp = resp
	state.respPos = 0
	state.busyLeft = state.device.BusyPolls
}

func (c *Chip) ReadISDU(port uint8, odLen uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.port(port)
	if state.device == nil {
		return nil, fmt.Errorf("port %d: no device connected", port)
	}

	out := make([]byte, odLen)
	if state.busyLeft > 0 {
		state.busyLeft--
		return out, nil // erstes Byte 0 -> Device busy
	}
	for i := range out {
		if state.respPos < len(state.isduResp) {
			out[i] = state.isduResp[state.respPos]
			state.respPos++
		}
	}
	return out, nil
}

func (c *Chip) CalculateCHKPDU(frame []byte) byte {
	return iolink.ChecksumPDU(frame)
}

func (c *Chip) ReadRegister(addr uint8) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registers[addr], nil
}

func (c *Chip) WriteRegister(addr uint8, value uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registers[addr] = value
	return nil
}

func (c *Chip) WaitFor(d time.Duration) {
	if c.RealDelays {
		time.Sleep(d)
	}
}
