package shield

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenIOLinkCore/internal/iodd"
	"github.com/KevinKickass/OpenIOLinkCore/internal/port"
	"go.uber.org/zap"
)

// DefaultCycleTime ist die Zykluszeit, solange niemand sie umstellt.
const DefaultCycleTime = 100 * time.Millisecond

const settleDelay = 1 * time.Millisecond

// Publisher nimmt dekodierte Prozessdaten entgegen (MQTT, WebSocket, ...).
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// BrokerRetargeter können zur Laufzeit auf einen anderen Broker
// umgezogen werden.
type BrokerRetargeter interface {
	SetBrokerIP(ip string) error
}

// Supervisor besitzt die Ports beider Treiberbausteine, serialisiert
// deren Zugriffe und fährt den zyklischen Prozessdaten-Austausch. Alle
// externen Operationen (REST) laufen über ihn.
//
// Ports 0 und 1 teilen sich den ersten Baustein, Ports 2 und 3 den
// zweiten; je Baustein schützt ein Lock die laufende SPI-Transaktion.
type Supervisor struct {
	ports   []*port.Port
	service *iodd.Service
	logger  *zap.Logger

	chip1Mu sync.Mutex
	chip2Mu sync.Mutex

	pubMu      sync.RWMutex
	publishers []Publisher

	cycleMu   sync.RWMutex
	cycleTime time.Duration

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSupervisor(ports []*port.Port, service *iodd.Service, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		ports:     ports,
		service:   service,
		logger:    logger,
		cycleTime: DefaultCycleTime,
	}
}

// AddPublisher registriert einen weiteren Abnehmer für Prozessdaten.
func (s *Supervisor) AddPublisher(p Publisher) {
	s.pubMu.Lock()
	s.publishers = append(s.publishers, p)
	s.pubMu.Unlock()
}

// chipLock liefert das Lock des Bausteins, an dem der Port hängt.
func (s *Supervisor) chipLock(portNr uint8) *sync.Mutex {
	if portNr <= 1 {
		return &s.chip1Mu
	}
	return &s.chip2Mu
}

// Startup fährt alle Ports hoch. Ports ohne Gerät bleiben getrennt und
// werden im Betrieb über CheckDevices erneut erkannt.
func (s *Supervisor) Startup() {
	for _, p := range s.ports {
		lock := s.chipLock(p.Number())
		lock.Lock()
		if err := p.Begin(); err != nil {
			s.logger.Warn("port startup failed",
				zap.Uint8("port", p.Number()),
				zap.Error(err))
		}
		lock.Unlock()
	}
}

// Start startet die zyklische Prozessdaten-Schleife.
func (s *Supervisor) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.runPDLoop()
	s.logger.Info("pd loop started", zap.Duration("cycle_time", s.CycleTime()))
}

// Stop hält die Schleife an.
func (s *Supervisor) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.runMu.Unlock()

	s.wg.Wait()
	s.logger.Info("pd loop stopped")
}

// Shutdown hält die Schleife an und trennt alle Geräte.
func (s *Supervisor) Shutdown() {
	s.Stop()
	for _, p := range s.ports {
		lock := s.chipLock(p.Number())
		lock.Lock()
		if err := p.End(); err != nil {
			s.logger.Warn("port shutdown failed",
				zap.Uint8("port", p.Number()),
				zap.Error(err))
		}
		lock.Unlock()
	}
}

func (s *Supervisor) runPDLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		t0 := time.Now()
		s.cycleOnce(currentTimestamp())

		// Das Lock wird nie über die Zykluspause gehalten
		remaining := s.CycleTime() - time.Since(t0)
		if remaining > 0 {
			select {
			case <-s.stopChan:
				return
			case <-time.After(remaining):
			}
		}
	}
}

// cycleOnce liest und schreibt alle Ports einmal und publiziert die
// dekodierten Prozessdaten.
func (s *Supervisor) cycleOnce(ts string) {
	for i := range s.ports {
		s.readPort(uint8(i))
		time.Sleep(settleDelay)
		s.writePort(uint8(i))
		s.publishPort(uint8(i), ts)
	}
}

func (s *Supervisor) readPort(portNr uint8) {
	p := s.ports[portNr]
	if !p.Connected() {
		return
	}

	lock := s.chipLock(portNr)
	lock.Lock()
	defer lock.Unlock()

	if err := p.ReadPD(); err != nil {
		s.logger.Debug("pd read failed", zap.Uint8("port", portNr), zap.Error(err))
		return
	}
	if reg, err := p.ReadErrorRegister(); err == nil && reg != 0 {
		s.logger.Debug("chip error register set",
			zap.Uint8("port", portNr),
			zap.Uint8("register", reg))
	}
}

func (s *Supervisor) writePort(portNr uint8) {
	p := s.ports[portNr]
	if !p.Connected() {
		return
	}

	lock := s.chipLock(portNr)
	lock.Lock()
	defer lock.Unlock()

	if err := p.WritePD(); err != nil {
		s.logger.Debug("pd write failed", zap.Uint8("port", portNr), zap.Error(err))
	}
}

func (s *Supervisor) publishPort(portNr uint8, ts string) {
	p := s.ports[portNr]
	params := p.Params()
	if !params.HasDevice() {
		return
	}

	raw := p.LastPD()
	if len(raw) > 0 {
		// Das erste Byte trägt die Länge, danach folgen die PD-Bytes
		raw = raw[1:]
	}

	values, _ := s.service.InterpretProcessData(raw, params.VendorID, params.DeviceID, params.RevisionID)
	values["ts"] = ts

	payload, err := json.Marshal(values)
	if err != nil {
		s.logger.Error("pd marshal failed", zap.Uint8("port", portNr), zap.Error(err))
		return
	}

	topic := fmt.Sprintf("Shield/Port%d/pd", portNr)
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	for _, pub := range s.publishers {
		if err := pub.Publish(topic, payload); err != nil {
			s.logger.Warn("publish failed",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}

// WriteProcessData ersetzt den PD-Out-Puffer eines Ports.
func (s *Supervisor) WriteProcessData(portNr uint8, data []byte) error {
	if int(portNr) >= len(s.ports) {
		return fmt.Errorf("port %d does not exist", portNr)
	}
	s.ports[portNr].SetPDOut(data)
	return nil
}

// ReadISDU liest azyklische Daten von (index, subIndex) eines Ports.
func (s *Supervisor) ReadISDU(portNr uint8, index uint16, subIndex uint8) ([]byte, error) {
	if int(portNr) >= len(s.ports) {
		return nil, fmt.Errorf("port %d does not exist", portNr)
	}
	p := s.ports[portNr]
	if !p.Params().HasDevice() {
		return nil, fmt.Errorf("port %d: %w", portNr, port.ErrNoDevice)
	}

	lock := s.chipLock(portNr)
	lock.Lock()
	defer lock.Unlock()
	return p.ReadISDU(index, subIndex)
}

// WriteISDU schreibt azyklische Daten auf (index, subIndex) eines Ports.
func (s *Supervisor) WriteISDU(portNr uint8, index uint16, subIndex uint8, data []byte) error {
	if int(portNr) >= len(s.ports) {
		return fmt.Errorf("port %d does not exist", portNr)
	}
	p := s.ports[portNr]
	if !p.Params().HasDevice() {
		return fmt.Errorf("port %d: %w", portNr, port.ErrNoDevice)
	}

	lock := s.chipLock(portNr)
	lock.Lock()
	defer lock.Unlock()
	return p.WriteISDU(index, subIndex, data)
}

// SetCycleTime stellt die Zykluszeit der PD-Schleife um.
func (s *Supervisor) SetCycleTime(d time.Duration) {
	s.cycleMu.Lock()
	s.cycleTime = d
	s.cycleMu.Unlock()
}

// CycleTime liefert die aktuelle Zykluszeit.
func (s *Supervisor) CycleTime() time.Duration {
	s.cycleMu.RLock()
	defer s.cycleMu.RUnlock()
	return s.cycleTime
}

// CheckDevices prüft alle Ports auf verbundene Geräte und stößt bei
// getrennten Ports eine neue Erkennung an. true bedeutet verbunden.
func (s *Supervisor) CheckDevices() []bool {
	results := make([]bool, len(s.ports))
	for i, p := range s.ports {
		lock := s.chipLock(p.Number())
		lock.Lock()
		if err := p.EnsureConnected(); err != nil {
			s.logger.Debug("device detection failed",
				zap.Uint8("port", p.Number()),
				zap.Error(err))
		}
		lock.Unlock()
		results[i] = p.Connected()
	}
	return results
}

// SetBrokerIP zieht alle umkonfigurierbaren Publisher auf den neuen
// Broker um.
func (s *Supervisor) SetBrokerIP(ip string) error {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	for _, pub := range s.publishers {
		if r, ok := pub.(BrokerRetargeter); ok {
			if err := r.SetBrokerIP(ip); err != nil {
				return err
			}
		}
	}
	return nil
}

// PortCount liefert die Anzahl der verwalteten Ports.
func (s *Supervisor) PortCount() int {
	return len(s.ports)
}

// currentTimestamp formatiert die lokale Zeit als
// YYYY-MM-DDTHH:MM:SS:mmm, das Format der publizierten ts-Felder.
func currentTimestamp() string {
	now := time.Now()
	return fmt.Sprintf("%s:%03d", now.Format("2006-01-02T15:04:05"), now.Nanosecond()/1e6)
}
