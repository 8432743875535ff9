package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenIOLinkCore/internal/api/rest"
	"github.com/KevinKickass/OpenIOLinkCore/internal/api/websocket"
	"github.com/KevinKickass/OpenIOLinkCore/internal/config"
	"github.com/KevinKickass/OpenIOLinkCore/internal/driver"
	"github.com/KevinKickass/OpenIOLinkCore/internal/driver/sim"
	"github.com/KevinKickass/OpenIOLinkCore/internal/iodd"
	"github.com/KevinKickass/OpenIOLinkCore/internal/mqtt"
	"github.com/KevinKickass/OpenIOLinkCore/internal/port"
	"github.com/KevinKickass/OpenIOLinkCore/internal/shield"
	"go.uber.org/zap"
)

// LifecycleManager baut alle Komponenten zusammen und fährt sie
// geordnet hoch und wieder herunter.
type LifecycleManager struct {
	config     *config.Config
	logger     *zap.Logger
	supervisor *shield.Supervisor
	mqttPub    *mqtt.Publisher
	wsHub      *websocket.Hub
	restServer *rest.Server

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	service, err := iodd.NewService(cfg.Iodd.SearchPaths, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load iodd schemas: %w", err)
	}

	chip1, chip2, err := buildDrivers(cfg, logger)
	if err != nil {
		return nil, err
	}

	ports := []*port.Port{
		port.New(chip1, 0, logger),
		port.New(chip1, 1, logger),
	}
	if cfg.Shield.ExtendedBoard {
		ports = append(ports,
			port.New(chip2, 2, logger),
			port.New(chip2, 3, logger))
	}

	supervisor := shield.NewSupervisor(ports, service, logger)
	supervisor.SetCycleTime(cfg.Shield.CycleTime)

	return &LifecycleManager{
		config:     cfg,
		logger:     logger,
		supervisor: supervisor,
	}, nil
}

// buildDrivers wählt die Treiberanbindung. Die echte SPI-Anbindung
// bringt ihr eigenes Binary mit; hier ist nur die Simulation bekannt.
func buildDrivers(cfg *config.Config, logger *zap.Logger) (driver.Driver, driver.Driver, error) {
	switch cfg.Shield.Driver {
	case "sim":
		logger.Info("using simulated driver chips")
		chip1 := sim.NewChip()
		chip1.RealDelays = true
		chip2 := sim.NewChip()
		chip2.RealDelays = true
		return chip1, chip2, nil
	default:
		return nil, nil, fmt.Errorf("unknown shield driver %q", cfg.Shield.Driver)
	}
}

// Supervisor liefert den Shield-Supervisor.
func (lm *LifecycleManager) Supervisor() *shield.Supervisor {
	return lm.supervisor
}

// Start fährt das Gesamtsystem hoch.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenIOLinkCore")

	// IO-Link Kommunikation starten
	lm.supervisor.Startup()

	// MQTT ist optional: ohne Broker läuft das Shield weiter, nur ohne
	// publizierte Prozessdaten
	lm.mqttPub = mqtt.NewPublisher(lm.config.MQTT.Host, lm.config.MQTT.Port, lm.logger)
	if err := lm.mqttPub.Connect(); err != nil {
		lm.logger.Warn("mqtt broker not reachable", zap.Error(err))
	}
	lm.supervisor.AddPublisher(lm.mqttPub)

	// WebSocket Live-Stream
	lm.wsHub = websocket.NewHub(lm.logger)
	go lm.wsHub.Run()
	lm.supervisor.AddPublisher(lm.wsHub)

	// REST API
	lm.restServer = rest.NewServer(lm.config, lm.supervisor, lm.logger, lm.wsHub)
	if err := lm.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	// Zyklischer Prozessdaten-Austausch
	lm.supervisor.Start()

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("ports", lm.supervisor.PortCount()))
	return nil
}

// Shutdown fährt das System geordnet herunter.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.supervisor.Shutdown()

		if lm.restServer != nil {
			if err := lm.restServer.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}
		if lm.mqttPub != nil {
			lm.mqttPub.Close()
		}
	})

	return shutdownErr
}
