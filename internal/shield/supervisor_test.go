package shield

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenIOLinkCore/internal/driver/sim"
	"github.com/KevinKickass/OpenIOLinkCore/internal/iodd"
	"github.com/KevinKickass/OpenIOLinkCore/internal/iolink"
	"github.com/KevinKickass/OpenIOLinkCore/internal/port"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	brokerIP string
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, append([]byte{}, payload...))
	return nil
}

func (f *fakePublisher) SetBrokerIP(ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brokerIP = ip
	return nil
}

func (f *fakePublisher) published() ([]string, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.topics...), append([][]byte{}, f.payloads...)
}

func bawDevice() *sim.Device {
	return &sim.Device{
		VendorID:   888,
		DeviceID:   131330,
		RevisionID: 0x11,
		MSeqCapRaw: 0x00,
		PDInRaw:    0x05,
		PDOutRaw:   0x00,
		PDIn:       []byte{0x3A},
	}
}

// newTestSupervisor baut vier Ports über zwei simulierten Bausteinen
// auf, mit einem BAW Sensor an Port 0.
func newTestSupervisor(t *testing.T) (*Supervisor, *fakePublisher, *sim.Chip, *sim.Chip) {
	t.Helper()

	chip1 := sim.NewChip()
	chip2 := sim.NewChip()
	chip1.Attach(0, bawDevice())

	logger := zap.NewNop()
	ports := []*port.Port{
		port.New(chip1, 0, logger),
		port.New(chip1, 1, logger),
		port.New(chip2, 2, logger),
		port.New(chip2, 3, logger),
	}

	service, err := iodd.NewService(nil, logger)
	if err != nil {
		t.Fatalf("iodd.NewService: %v", err)
	}

	s := NewSupervisor(ports, service, logger)
	pub := &fakePublisher{}
	s.AddPublisher(pub)
	s.Startup()
	return s, pub, chip1, chip2
}

func TestChipLockSplit(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)

	if s.chipLock(0) != s.chipLock(1) {
		t.Error("ports 0 and 1 must share the first chip lock")
	}
	if s.chipLock(2) != s.chipLock(3) {
		t.Error("ports 2 and 3 must share the second chip lock")
	}
	if s.chipLock(1) == s.chipLock(2) {
		t.Error("ports 1 and 2 must use different chip locks")
	}
}

func TestCycleDecodesAndPublishes(t *testing.T) {
	s, pub, _, _ := newTestSupervisor(t)

	s.cycleOnce("2024-01-02T03:04:05:006")

	topics, payloads := pub.published()
	if len(topics) != 1 {
		t.Fatalf("published %d messages, want 1 (only port 0 has a device)", len(topics))
	}
	if topics[0] != "Shield/Port0/pd" {
		t.Errorf("topic = %s, want Shield/Port0/pd", topics[0])
	}

	var values map[string]any
	if err := json.Unmarshal(payloads[0], &values); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if values["ts"] != "2024-01-02T03:04:05:006" {
		t.Errorf("ts = %v", values["ts"])
	}
	if values["TI_TargetPosition"] != float64(3) {
		t.Errorf("TI_TargetPosition = %v, want 3", values["TI_TargetPosition"])
	}
	if values["TI_OutOfRangeBit"] != true {
		t.Errorf("TI_OutOfRangeBit = %v, want true", values["TI_OutOfRangeBit"])
	}
}

func TestCheckDevices(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)

	got := s.CheckDevices()
	want := []bool{true, false, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("port %d connected = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCheckDevicesPicksUpLateDevice(t *testing.T) {
	s, _, chip1, _ := newTestSupervisor(t)

	chip1.Attach(1, bawDevice())
	got := s.CheckDevices()
	if !got[1] {
		t.Error("port 1 should be detected after attaching a device")
	}
}

func TestWriteProcessDataReachesCycle(t *testing.T) {
	chip1 := sim.NewChip()
	device := bawDevice()
	device.PDOutRaw = 0x03 // 1 Byte PDout
	chip1.Attach(0, device)

	logger := zap.NewNop()
	ports := []*port.Port{port.New(chip1, 0, logger)}
	service, err := iodd.NewService(nil, logger)
	if err != nil {
		t.Fatalf("iodd.NewService: %v", err)
	}
	s := NewSupervisor(ports, service, logger)
	s.Startup()

	if err := s.WriteProcessData(0, []byte{0xAB}); err != nil {
		t.Fatalf("WriteProcessData: %v", err)
	}
	s.cycleOnce(currentTimestamp())

	writes := chip1.Writes(0)
	var cyclic *sim.WriteRecord
	for i := range writes {
		w := writes[i]
		if w.MC == iolink.MCPageWrite && w.RxLen == 2 {
			cyclic = &w
		}
	}
	if cyclic == nil {
		t.Fatal("no cyclic pd write issued")
	}
	if !bytes.Equal(cyclic.Data, []byte{0xAB, iolink.MCPDOutValid}) {
		t.Errorf("cyclic data = % X, want AB 98", cyclic.Data)
	}
}

func TestISDUThroughSupervisor(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)

	if err := s.WriteISDU(0, 0x0040, 0, []byte{0x12, 0x34}); err != nil {
		t.Fatalf("WriteISDU: %v", err)
	}
	data, err := s.ReadISDU(0, 0x0040, 0)
	if err != nil {
		t.Fatalf("ReadISDU: %v", err)
	}
	if !bytes.Equal(data, []byte{0x12, 0x34}) {
		t.Errorf("payload = % X, want 12 34", data)
	}
}

func TestISDUWithoutDevice(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)

	if _, err := s.ReadISDU(1, 0x0040, 0); !errors.Is(err, port.ErrNoDevice) {
		t.Errorf("ReadISDU error = %v, want ErrNoDevice", err)
	}
	if err := s.WriteISDU(2, 0x0040, 0, []byte{1}); !errors.Is(err, port.ErrNoDevice) {
		t.Errorf("WriteISDU error = %v, want ErrNoDevice", err)
	}
	if _, err := s.ReadISDU(7, 0x0040, 0); err == nil {
		t.Error("ReadISDU on a missing port should fail")
	}
}

func TestCycleTime(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)

	if got := s.CycleTime(); got != DefaultCycleTime {
		t.Errorf("default cycle time = %v, want %v", got, DefaultCycleTime)
	}
	s.SetCycleTime(250 * time.Millisecond)
	if got := s.CycleTime(); got != 250*time.Millisecond {
		t.Errorf("cycle time = %v, want 250ms", got)
	}
}

func TestSetBrokerIP(t *testing.T) {
	s, pub, _, _ := newTestSupervisor(t)

	if err := s.SetBrokerIP("10.0.0.42"); err != nil {
		t.Fatalf("SetBrokerIP: %v", err)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.brokerIP != "10.0.0.42" {
		t.Errorf("broker ip = %s, want 10.0.0.42", pub.brokerIP)
	}
}

func TestRunLoopPublishesUntilStopped(t *testing.T) {
	s, pub, _, _ := newTestSupervisor(t)
	s.SetCycleTime(5 * time.Millisecond)

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	topics, _ := pub.published()
	if len(topics) == 0 {
		t.Error("pd loop published nothing")
	}

	// Stop ist idempotent
	s.Stop()
}
