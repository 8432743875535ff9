package rest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KevinKickass/OpenIOLinkCore/internal/port"
	"github.com/gin-gonic/gin"
)

type writeProcessDataRequest struct {
	Port int    `json:"Port"`
	Data string `json:"Data" binding:"required"`
}

type cycleTimeRequest struct {
	CycleTime int `json:"cycleTime" binding:"required"`
}

type isduReadRequest struct {
	Port     int `json:"Port"`
	Index    int `json:"Index"`
	Subindex int `json:"Subindex"`
}

type isduWriteRequest struct {
	Port     int    `json:"Port"`
	Index    int    `json:"Index"`
	Subindex int    `json:"Subindex"`
	Data     string `json:"Data" binding:"required"`
}

type brokerIPRequest struct {
	NewIP string `json:"newIP" binding:"required"`
}

// parseHexPayload wandelt einen Hex-String in Bytes; ungerade Längen
// werden vorn mit 0 aufgefüllt.
func parseHexPayload(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func (s *Server) writeProcessData(c *gin.Context) {
	var req writeProcessDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_request", "invalid request body", err.Error()))
		return
	}

	data, err := parseHexPayload(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_hex", "Data is not valid hex", err.Error()))
		return
	}

	if err := s.shield.WriteProcessData(uint8(req.Port), data); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("write_failed", err.Error(), nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Process Data was written!"})
}

func (s *Server) writeCycleTime(c *gin.Context) {
	var req cycleTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_request", "invalid request body", err.Error()))
		return
	}

	s.shield.SetCycleTime(time.Duration(req.CycleTime) * time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"message": "Cycle Time was written successfully!"})
}

func (s *Server) readCycleTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cycleTime": int(s.shield.CycleTime() / time.Millisecond),
	})
}

func (s *Server) readISDU(c *gin.Context) {
	var req isduReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_request", "invalid request body", err.Error()))
		return
	}

	data, err := s.shield.ReadISDU(uint8(req.Port), uint16(req.Index), uint8(req.Subindex))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, port.ErrNoDevice) {
			status = http.StatusConflict
		}
		c.JSON(status, NewErrorResponse("isdu_read_failed", err.Error(), nil))
		return
	}

	// Bytes als Hex mit Leerzeichen, wie das Frontend sie anzeigt
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%x", b)
	}
	c.JSON(http.StatusOK, gin.H{
		"Port": req.Port,
		"Data": strings.Join(parts, " "),
	})
}

func (s *Server) writeISDU(c *gin.Context) {
	var req isduWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_request", "invalid request body", err.Error()))
		return
	}

	data, err := parseHexPayload(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_hex", "Data is not valid hex", err.Error()))
		return
	}

	if err := s.shield.WriteISDU(uint8(req.Port), uint16(req.Index), uint8(req.Subindex), data); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, port.ErrNoDevice) {
			status = http.StatusConflict
		}
		c.JSON(status, NewErrorResponse("isdu_write_failed", err.Error(), nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ISDU Data was written!"})
}

func (s *Server) checkDevices(c *gin.Context) {
	connected := s.shield.CheckDevices()

	result := gin.H{}
	for i, ok := range connected {
		result[fmt.Sprintf("Port%d", i)] = ok
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) changeBrokerIP(c *gin.Context) {
	var req brokerIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_request", "invalid request body", err.Error()))
		return
	}

	if err := s.shield.SetBrokerIP(req.NewIP); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse("broker_change_failed", err.Error(), nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Done!"})
}
