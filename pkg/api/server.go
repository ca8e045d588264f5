// Package api provides the REST API server for sampledump
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/transfer"
)

// @title SampleDump API
// @version 1.0
// @description API for moving samples between a MIDI sampler and local slots
// @host localhost:8080
// @BasePath /api/v1

// Server exposes a transfer engine over HTTP.
type Server struct {
	eng     *transfer.Engine
	bulk    *transfer.Bulk
	profile device.Profile
	turbo   *device.Turbo
	mode    transfer.Mode
	log     *slog.Logger
	ops     *operations
}

// NewServer creates a server driving eng. turbo may be nil.
func NewServer(eng *transfer.Engine, bulk *transfer.Bulk, profile device.Profile, turbo *device.Turbo, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		eng:     eng,
		bulk:    bulk,
		profile: profile,
		turbo:   turbo,
		mode:    transfer.ModeAuto,
		log:     log,
		ops:     newOperations(),
	}
}

// SetDefaultMode sets the mode used when a request names none.
func (s *Server) SetDefaultMode(m transfer.Mode) { s.mode = m }

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/status", s.status)
		v1.GET("/devices", listDevices)
		v1.GET("/ports", listPorts)
		v1.PUT("/turbo", s.setTurbo)

		v1.GET("/slots", s.listSlots)
		v1.GET("/slots/:index", s.getSlot)
		v1.PATCH("/slots/:index", s.editSlot)
		v1.DELETE("/slots/:index", s.clearSlot)
		v1.GET("/slots/:index/wav", s.exportWAV)
		v1.PUT("/slots/:index/wav", s.importWAV)

		v1.POST("/transfers/receive", s.startReceive)
		v1.POST("/transfers/send", s.startSend)
		v1.POST("/transfers/stream", s.startStream)
		v1.POST("/transfers/bulk", s.startBulk)
		v1.POST("/transfers/cancel", s.cancel)
		v1.GET("/transfers/:id", s.getOperation)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// Run serves the API on port until the listener fails.
func (s *Server) Run(port int) error {
	s.log.Info("api: listening", "port", port)
	return s.Router().Run(fmt.Sprintf(":%d", port))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("api: request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status())
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "sampledump",
	})
}

// status godoc
// @Summary Engine status
// @Description Reports whether a session or bulk run is active
// @Tags info
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/status [get]
func (s *Server) status(c *gin.Context) {
	resp := gin.H{
		"busy":        s.eng.Busy(),
		"focusDepth":  s.eng.Focus().Depth(),
		"bulkToken":   s.bulk.Token(),
		"bulkRunning": s.bulk.Running(),
		"device":      s.profile.Name(),
	}
	if s.turbo != nil {
		resp["turbo"] = s.turbo.Factor()
	}
	if last := s.bulk.Last(); last != nil {
		resp["lastBulk"] = newBulkView(last)
	}
	c.JSON(http.StatusOK, resp)
}

// listDevices godoc
// @Summary List supported devices
// @Description Returns the device profiles the engine knows
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /api/v1/devices [get]
func listDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"devices": device.Profiles(),
	})
}

// listPorts godoc
// @Summary List MIDI ports
// @Description Returns the MIDI input and output ports of the host
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /api/v1/ports [get]
func listPorts(c *gin.Context) {
	ins, outs := device.ListPorts()
	c.JSON(http.StatusOK, gin.H{"in": ins, "out": outs})
}

type turboRequest struct {
	Factor float64 `json:"factor" binding:"required"`
}

// setTurbo godoc
// @Summary Set the link multiplier
// @Tags info
// @Accept json
// @Produce json
// @Param body body turboRequest true "Multiplier"
// @Success 200 {object} map[string]float64
// @Failure 400 {object} map[string]string
// @Router /api/v1/turbo [put]
func (s *Server) setTurbo(c *gin.Context) {
	if s.turbo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "device has no turbo control"})
		return
	}
	var req turboRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.eng.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": transfer.ErrBusy.Error()})
		return
	}
	if err := s.turbo.SetFactor(req.Factor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"factor": s.turbo.Factor()})
}
