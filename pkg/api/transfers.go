package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/james-see/sampledump/pkg/transfer"
)

type transferRequest struct {
	Slot int `json:"slot"`
	// Sample is the device sample number; it defaults to Slot.
	Sample *int   `json:"sample"`
	Mode   string `json:"mode"`
}

type streamRequest struct {
	Slots []int `json:"slots"`
}

type bulkRequest struct {
	Direction string `json:"direction" binding:"required,oneof=rx tx"`
	Slots     []int  `json:"slots" binding:"required,min=1"`
	Mode      string `json:"mode"`
}

type bulkView struct {
	Token     uint64         `json:"token"`
	ID        string         `json:"id"`
	Direction string         `json:"direction"`
	Cancelled bool           `json:"cancelled"`
	Outcomes  map[int]string `json:"outcomes"`
	Errors    map[int]string `json:"errors,omitempty"`
	Counts    map[string]int `json:"counts"`
}

func newBulkView(r *transfer.BulkReport) bulkView {
	v := bulkView{
		Token:     r.Token,
		ID:        r.ID,
		Direction: r.Direction.String(),
		Cancelled: r.Cancelled,
		Outcomes:  make(map[int]string, len(r.Slots)),
		Errors:    make(map[int]string, len(r.Errors)),
		Counts:    make(map[string]int),
	}
	for _, slot := range r.Slots {
		o := r.Outcomes[slot]
		v.Outcomes[slot] = o.String()
		v.Counts[o.String()]++
	}
	for slot, err := range r.Errors {
		v.Errors[slot] = err.Error()
	}
	return v
}

func (s *Server) parseMode(c *gin.Context, name string) (transfer.Mode, bool) {
	if name == "" {
		return s.mode, true
	}
	m, err := transfer.ParseMode(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return m, true
}

// begin rejects new work while a session runs.
func (s *Server) begin(c *gin.Context) bool {
	if s.eng.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": transfer.ErrBusy.Error()})
		return false
	}
	return true
}

func (s *Server) bindTransfer(c *gin.Context) (transferRequest, transfer.Mode, bool) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, 0, false
	}
	if req.Slot < 0 || req.Slot >= s.eng.Store().Len() {
		c.JSON(http.StatusNotFound, gin.H{"error": "slot out of range"})
		return req, 0, false
	}
	if req.Sample == nil {
		req.Sample = &req.Slot
	}
	mode, ok := s.parseMode(c, req.Mode)
	return req, mode, ok
}

// startReceive godoc
// @Summary Receive a sample from the device
// @Description Starts a receive in the background and returns its operation
// @Tags transfers
// @Accept json
// @Produce json
// @Param body body transferRequest true "Slot and mode"
// @Success 202 {object} operation
// @Failure 409 {object} map[string]string
// @Router /api/v1/transfers/receive [post]
func (s *Server) startReceive(c *gin.Context) {
	req, mode, ok := s.bindTransfer(c)
	if !ok || !s.begin(c) {
		return
	}
	op := s.ops.start("receive", func(ctx context.Context) (any, error) {
		return s.eng.ReceiveInto(ctx, *req.Sample, req.Slot, mode)
	})
	c.JSON(http.StatusAccepted, op)
}

// startSend godoc
// @Summary Send a slot to the device
// @Tags transfers
// @Accept json
// @Produce json
// @Param body body transferRequest true "Slot and mode"
// @Success 202 {object} operation
// @Failure 409 {object} map[string]string
// @Router /api/v1/transfers/send [post]
func (s *Server) startSend(c *gin.Context) {
	req, mode, ok := s.bindTransfer(c)
	if !ok || !s.begin(c) {
		return
	}
	op := s.ops.start("send", func(ctx context.Context) (any, error) {
		return s.eng.SendTo(ctx, req.Slot, *req.Sample, mode)
	})
	c.JSON(http.StatusAccepted, op)
}

// startStream godoc
// @Summary Capture a dump started on the device
// @Tags transfers
// @Accept json
// @Produce json
// @Param body body streamRequest false "Slots to wait for"
// @Success 202 {object} operation
// @Failure 409 {object} map[string]string
// @Router /api/v1/transfers/stream [post]
func (s *Server) startStream(c *gin.Context) {
	var req streamRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if !s.begin(c) {
		return
	}
	op := s.ops.start("stream", func(ctx context.Context) (any, error) {
		return s.eng.StartStream(ctx, req.Slots)
	})
	c.JSON(http.StatusAccepted, op)
}

// startBulk godoc
// @Summary Run a bulk transfer
// @Description A new run cancels the one in progress
// @Tags transfers
// @Accept json
// @Produce json
// @Param body body bulkRequest true "Direction, slots and mode"
// @Success 202 {object} operation
// @Failure 400 {object} map[string]string
// @Router /api/v1/transfers/bulk [post]
func (s *Server) startBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, ok := s.parseMode(c, req.Mode)
	if !ok {
		return
	}
	op := s.ops.start("bulk-"+req.Direction, func(ctx context.Context) (any, error) {
		var report *transfer.BulkReport
		var err error
		if req.Direction == "rx" {
			report, err = s.bulk.Receive(ctx, req.Slots, mode)
		} else {
			report, err = s.bulk.Send(ctx, req.Slots, mode)
		}
		if report == nil {
			return nil, err
		}
		return newBulkView(report), err
	})
	c.JSON(http.StatusAccepted, op)
}

// cancel godoc
// @Summary Cancel the active transfer and bulk run
// @Tags transfers
// @Success 204
// @Router /api/v1/transfers/cancel [post]
func (s *Server) cancel(c *gin.Context) {
	s.bulk.Cancel()
	s.eng.Cancel()
	c.Status(http.StatusNoContent)
}

// getOperation godoc
// @Summary Get a background operation
// @Tags transfers
// @Produce json
// @Param id path string true "Operation ID"
// @Success 200 {object} operation
// @Failure 404 {object} map[string]string
// @Router /api/v1/transfers/{id} [get]
func (s *Server) getOperation(c *gin.Context) {
	op, ok := s.ops.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown operation"})
		return
	}
	c.JSON(http.StatusOK, op)
}
