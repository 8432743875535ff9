package port

import (
	"fmt"

	"github.com/KevinKickass/OpenIOLinkCore/internal/iolink"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// Flow-Control-Zähler läuft 0..15, danach Wrap
	flowCtrlMax = 15
	// Abbruch nach drei vollen Wraps
	flowCtrlWraps = 3
	// Busy-Polling der Antwort bricht nach 254 Versuchen ab
	busyPollMax = 254
	// MC-Basis der Antwortsegmente (0xE1, 0xE2, ...)
	respSegmentBase = 0xE0
)

// ReadISDU liest den ISDU-Eintrag (index, subIndex). Geliefert werden
// die Nutzdaten ohne iService-Byte und CHKPDU.
func (p *Port) ReadISDU(index uint16, subIndex uint8) ([]byte, error) {
	params, connected := p.snapshot()
	if !connected || !params.HasDevice() {
		return nil, fmt.Errorf("port %d: %w", p.number, ErrNoDevice)
	}

	frame := iolink.BuildISDURequest(false, index, subIndex, nil, params.ODLen)
	err := p.sendISDURequest(frame, params)
	if err != nil {
		return nil, err
	}

	pdOut := p.pdOutLane(params)

	// Busy-Polling: erstes Antwortbyte 0 oder 1 heißt, das Gerät
	// arbeitet noch an der Antwort.
	var first []byte
	polls := 0
	for {
		err = multierr.Append(err,
			p.driver.WriteData(iolink.MCODRead, pdOut, 32, params.MSeqType, p.number))
		p.driver.WaitFor(delayPDAnswer)

		chunk, rerr := p.driver.ReadISDU(p.number, params.ODLen)
		err = multierr.Append(err, rerr)

		polls++
		if polls >= busyPollMax {
			return nil, multierr.Append(err, fmt.Errorf("port %d: busy polling exhausted: %w", p.number, ErrProtocolTimeout))
		}
		if rerr == nil && len(chunk) > 0 && chunk[0] != 0 && chunk[0] != 1 {
			first = chunk
			break
		}
	}

	// Das untere Nibble des ersten Bytes trägt die Gesamtlänge der
	// Antwort; die restlichen Segmente kommen über 0xE1, 0xE2, ...
	total := int(first[0] & 0x0F)
	oData := append([]byte{}, first...)

	loops := total / int(params.ODLen)
	for i := 0; i < loops; i++ {
		mc := uint8(respSegmentBase + 1 + i)
		err = multierr.Append(err,
			p.driver.WriteData(mc, pdOut, total, params.MSeqType, p.number))
		p.driver.WaitFor(delayRespSeg)

		chunk, rerr := p.driver.ReadISDU(p.number, params.ODLen)
		err = multierr.Append(err, rerr)
		oData = append(oData, chunk...)
	}

	if total < 2 || len(oData) < total {
		return nil, multierr.Append(err, fmt.Errorf("port %d: short isdu response (%d of %d bytes)", p.number, len(oData), total))
	}

	// Format: iService+Länge, Nutzdaten, CHKPDU
	payload := append([]byte{}, oData[1:total-1]...)
	if err != nil {
		p.logger.Warn("isdu read finished with driver errors",
			zap.Uint8("port", p.number),
			zap.Uint16("index", index),
			zap.Error(err))
	}
	return payload, err
}

// WriteISDU schreibt Nutzdaten auf den ISDU-Eintrag (index, subIndex).
func (p *Port) WriteISDU(index uint16, subIndex uint8, data []byte) error {
	params, connected := p.snapshot()
	if !connected || !params.HasDevice() {
		return fmt.Errorf("port %d: %w", p.number, ErrNoDevice)
	}

	frame := iolink.BuildISDURequest(true, index, subIndex, data, params.ODLen)
	return p.sendISDURequest(frame, params)
}

// sendISDURequest überträgt den Frame in OD-großen Segmenten. Das erste
// Segment geht mit OD_WRITE raus, alle weiteren mit dem Flow-Control-MC
// OD_FLOWCTRL+seq. Jedem Segment sind pd_out_len Null-Bytes
// vorangestellt, damit die PD-Out-Spur erhalten bleibt.
func (p *Port) sendISDURequest(frame []byte, params Parameters) error {
	od := int(params.ODLen)
	pdOut := int(params.PDOutLen)

	var err error
	seq, wraps := 0, 0
	for seq*od < len(frame) {
		end := seq*od + od
		if end > len(frame) {
			end = len(frame)
		}

		data := make([]byte, pdOut, pdOut+od)
		data = append(data, frame[seq*od:end]...)

		mc := iolink.MCODWrite
		if seq > 0 {
			mc = iolink.MCODFlowCtrl + uint8(seq)
		}
		err = multierr.Append(err,
			p.driver.WriteISDU(mc, params.MSeqType, p.number, data, params.PDOutLen))
		p.driver.WaitFor(delayChunk)

		if seq == flowCtrlMax {
			if wraps >= flowCtrlWraps {
				return multierr.Append(err, fmt.Errorf("port %d: flow control wrapped %d times: %w", p.number, wraps, ErrProtocolTimeout))
			}
			wraps++
			seq = 0
		} else {
			seq++
		}
	}
	return err
}

// pdOutLane liefert die PD-Out-Bytes für OD-Zugriffe oder nil, wenn das
// Gerät keine Ausgangsdaten hat.
func (p *Port) pdOutLane(params Parameters) []byte {
	if params.PDOutLen == 0 {
		return nil
	}
	return p.PDOutSnapshot()
}
