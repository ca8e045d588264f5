package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/james-see/sampledump/pkg/slots"
	"github.com/james-see/sampledump/pkg/wavio"
)

type slotView struct {
	Index       int            `json:"index"`
	Empty       bool           `json:"empty"`
	Name        string         `json:"name,omitempty"`
	Words       int            `json:"words"`
	Format      int            `json:"format,omitempty"`
	Rate        int            `json:"rate,omitempty"`
	TargetRate  int            `json:"targetRate,omitempty"`
	LoopStart   *int           `json:"loopStart,omitempty"`
	LoopEnd     *int           `json:"loopEnd,omitempty"`
	Repitch     int            `json:"repitch,omitempty"`
	Edited      bool           `json:"edited"`
	Corrupted   bool           `json:"corrupted"`
	Parity      bool           `json:"parity"`
	ReceiveOnly bool           `json:"receiveOnly"`
	Locked      bool           `json:"locked"`
	Stats       *slots.RxStats `json:"stats,omitempty"`
}

func (s *Server) viewSlot(index int, slot *slots.Slot) slotView {
	store := s.eng.Store()
	v := slotView{
		Index:       index,
		Empty:       slot.Empty(),
		ReceiveOnly: store.IsReceiveOnly(index),
		Locked:      store.Locked(index),
	}
	if slot == nil {
		return v
	}
	v.Name = slot.Name
	v.Words = slot.NumSamples()
	v.Format = slot.Format
	v.Rate = slot.Rate
	v.TargetRate = slot.TargetRate
	v.Repitch = slot.Repitch
	v.Edited = slot.Edited
	v.Corrupted = slot.Corrupted
	v.Parity = slot.ParityReady()
	if slot.Loop != nil {
		v.LoopStart, v.LoopEnd = &slot.Loop.Start, &slot.Loop.End
	}
	if !slot.Stats.Clean() || slot.Stats.DeclaredWords != 0 {
		stats := slot.Stats
		v.Stats = &stats
	}
	return v
}

// slotIndex parses :index, writing the error response itself.
func (s *Server) slotIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index >= s.eng.Store().Len() {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no slot %q", c.Param("index"))})
		return 0, false
	}
	return index, true
}

func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, slots.ErrSlotBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, slots.ErrNoSlot):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, slots.ErrSlotRange):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// listSlots godoc
// @Summary List slots
// @Tags slots
// @Produce json
// @Success 200 {object} map[string][]slotView
// @Router /api/v1/slots [get]
func (s *Server) listSlots(c *gin.Context) {
	snapshot := s.eng.Store().Snapshot()
	views := make([]slotView, len(snapshot))
	for i, slot := range snapshot {
		views[i] = s.viewSlot(i, slot)
	}
	c.JSON(http.StatusOK, gin.H{"slots": views})
}

// getSlot godoc
// @Summary Get one slot
// @Tags slots
// @Produce json
// @Param index path int true "Slot index"
// @Success 200 {object} slotView
// @Failure 404 {object} map[string]string
// @Router /api/v1/slots/{index} [get]
func (s *Server) getSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	slot, err := s.eng.Store().Get(index)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.viewSlot(index, slot))
}

type editRequest struct {
	Name       *string `json:"name"`
	LoopStart  *int    `json:"loopStart"`
	LoopEnd    *int    `json:"loopEnd"`
	TargetRate *int    `json:"targetRate"`
	Repitch    *int    `json:"repitch"`
}

// editSlot godoc
// @Summary Edit slot metadata
// @Description Rename, set the loop, the target rate or the repitch offset
// @Tags slots
// @Accept json
// @Produce json
// @Param index path int true "Slot index"
// @Param body body editRequest true "Fields to change"
// @Success 200 {object} slotView
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/slots/{index} [patch]
func (s *Server) editSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := s.eng.Store()

	var err error
	if req.Name != nil {
		err = store.Rename(index, *req.Name)
	}
	if err == nil && (req.LoopStart != nil || req.LoopEnd != nil) {
		start, end := 0, 0
		if req.LoopStart != nil {
			start = *req.LoopStart
		}
		if req.LoopEnd != nil {
			end = *req.LoopEnd
		}
		err = store.SetLoop(index, start, end)
	}
	if err == nil && req.TargetRate != nil {
		err = store.SetTargetRate(index, *req.TargetRate)
	}
	if err == nil && req.Repitch != nil {
		err = store.SetRepitch(index, *req.Repitch)
	}
	if err != nil {
		storeError(c, err)
		return
	}
	slot, _ := store.Get(index)
	c.JSON(http.StatusOK, s.viewSlot(index, slot))
}

// clearSlot godoc
// @Summary Empty a slot
// @Tags slots
// @Param index path int true "Slot index"
// @Success 204
// @Failure 409 {object} map[string]string
// @Router /api/v1/slots/{index} [delete]
func (s *Server) clearSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	if err := s.eng.Store().Clear(index); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// exportWAV godoc
// @Summary Download slot audio as WAV
// @Tags slots
// @Produce audio/wav
// @Param index path int true "Slot index"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Router /api/v1/slots/{index}/wav [get]
func (s *Server) exportWAV(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	slot, err := s.eng.Store().Get(index)
	if err != nil {
		storeError(c, err)
		return
	}
	if slot.Empty() {
		storeError(c, slots.ErrNoSlot)
		return
	}

	// the WAV encoder seeks back to patch the header
	tmp, err := os.CreateTemp("", "sampledump-*.wav")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if err := wavio.Encode(tmp, slot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	info, err := tmp.Stat()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := fmt.Sprintf("%02d-%s.wav", index, bytes.TrimSpace([]byte(slot.Name)))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	c.DataFromReader(http.StatusOK, info.Size(), "audio/wav", tmp, nil)
}

// importWAV godoc
// @Summary Upload a WAV file into a slot
// @Tags slots
// @Accept multipart/form-data
// @Produce json
// @Param index path int true "Slot index"
// @Param file formData file true "WAV file"
// @Success 200 {object} slotView
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/slots/{index}/wav [put]
func (s *Server) importWAV(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}
	slot, err := wavio.Decode(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot.Name = wavio.NameFromPath(header.Filename)

	store := s.eng.Store()
	if err := store.Import(index, slot); err != nil {
		storeError(c, err)
		return
	}
	stored, _ := store.Get(index)
	c.JSON(http.StatusOK, s.viewSlot(index, stored))
}
