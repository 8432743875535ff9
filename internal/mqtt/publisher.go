package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	publishQoS     = 0
)

// Publisher schiebt dekodierte Prozessdaten an einen MQTT-Broker. Der
// Broker lässt sich zur Laufzeit umziehen (SetBrokerIP).
type Publisher struct {
	mu       sync.Mutex
	client   paho.Client
	host     string
	port     int
	clientID string
	logger   *zap.Logger
}

func NewPublisher(host string, port int, logger *zap.Logger) *Publisher {
	return &Publisher{
		host:     host,
		port:     port,
		clientID: fmt.Sprintf("shield-%s", uuid.New().String()[:8]),
		logger:   logger,
	}
}

// Connect stellt die Verbindung zum Broker her.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Publisher) connectLocked() error {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", p.host, p.port)).
		SetClientID(p.clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("broker %s:%d: connect timeout", p.host, p.port)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker %s:%d: %w", p.host, p.port, err)
	}

	p.client = client
	p.logger.Info("mqtt broker connected",
		zap.String("host", p.host),
		zap.Int("port", p.port),
		zap.String("client_id", p.clientID))
	return nil
}

// Publish sendet ein Payload mit QoS 0, nicht retained.
func (p *Publisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("mqtt broker not connected")
	}

	token := client.Publish(topic, publishQoS, false, payload)
	token.Wait()
	return token.Error()
}

// SetBrokerIP trennt die Verbindung und verbindet neu auf den
// angegebenen Host.
func (p *Publisher) SetBrokerIP(ip string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.host = ip
	return p.connectLocked()
}

// Close trennt die Verbindung zum Broker.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.client = nil
}
