package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenIOLinkCore/internal/api/websocket"
	"github.com/KevinKickass/OpenIOLinkCore/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ShieldController ist die Sicht des HTTP-Layers auf den Supervisor.
type ShieldController interface {
	WriteProcessData(portNr uint8, data []byte) error
	ReadISDU(portNr uint8, index uint16, subIndex uint8) ([]byte, error)
	WriteISDU(portNr uint8, index uint16, subIndex uint8, data []byte) error
	SetCycleTime(d time.Duration)
	CycleTime() time.Duration
	CheckDevices() []bool
	SetBrokerIP(ip string) error
}

type Server struct {
	router *gin.Engine
	shield ShieldController
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(cfg *config.Config, shield ShieldController, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.Default(),
		shield: shield,
		logger: logger,
		wsHub:  wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public health check
	s.router.GET("/health", s.healthCheck)

	// Shield Steuerung (Pfade wie vom Node-RED Frontend erwartet)
	s.router.POST("/writeProcessData", s.writeProcessData)
	s.router.POST("/writeCycleTime", s.writeCycleTime)
	s.router.GET("/readCycleTime", s.readCycleTime)
	s.router.POST("/readisdu", s.readISDU)
	s.router.POST("/writeisdu", s.writeISDU)
	s.router.GET("/checkDevices", s.checkDevices)
	s.router.POST("/changeipforbroker", s.changeBrokerIP)

	// Live Prozessdaten
	s.router.GET("/ws/live", s.wsLiveConnection)
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
