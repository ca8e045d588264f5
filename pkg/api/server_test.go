package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/slots"
	"github.com/james-see/sampledump/pkg/transfer"
	"github.com/james-see/sampledump/pkg/wavio"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type silentPort struct{}

func (silentPort) Send([]byte) error { return nil }

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := transfer.DefaultConfig()
	cfg.HeaderTimeout = 150 * time.Millisecond
	cfg.StreamStartTimeout = 2 * time.Second
	cfg.KeepAliveInterval = 0
	cfg.SettleDelay = 0

	profile := device.NewGeneric(0, 8, false)
	eng := transfer.New(silentPort{}, slots.NewStore(profile.BankSize(), 2), profile, cfg)
	turbo := device.NewTurbo(1, 10)
	eng.SetTurbo(turbo)
	srv := NewServer(eng, transfer.NewBulk(eng), profile, turbo, nil)
	return srv, srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func putAudio(t *testing.T, srv *Server, index int) {
	t.Helper()
	slot := &slots.Slot{Name: "kick", Audio: []int16{1, 2, 3, 4, 5, 6, 7, 8}, Rate: 44100}
	if err := srv.eng.Store().Set(index, slot); err != nil {
		t.Fatal(err)
	}
}

// waitOperation polls until the operation leaves the running state.
func waitOperation(t *testing.T, h http.Handler, id string) operation {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		op := decode[operation](t, do(t, h, http.MethodGet, "/api/v1/transfers/"+id, ""))
		if op.Status != "running" {
			return op
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("operation %s still running", id)
	return operation{}
}

func TestHealthCheck(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestListSlots(t *testing.T) {
	srv, h := newTestServer(t)
	putAudio(t, srv, 1)

	w := do(t, h, http.MethodGet, "/api/v1/slots", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	resp := decode[struct{ Slots []slotView }](t, w)
	if len(resp.Slots) != 10 {
		t.Fatalf("got %d slots, want 10", len(resp.Slots))
	}
	if s := resp.Slots[1]; s.Empty || s.Name != "KICK" || s.Words != 8 {
		t.Errorf("slot 1 = %+v", s)
	}
	if !resp.Slots[0].Empty || !resp.Slots[8].ReceiveOnly {
		t.Errorf("slot 0 = %+v, slot 8 = %+v", resp.Slots[0], resp.Slots[8])
	}
}

func TestGetSlotNotFound(t *testing.T) {
	_, h := newTestServer(t)
	for _, path := range []string{"/api/v1/slots/99", "/api/v1/slots/abc", "/api/v1/slots/-1"} {
		if w := do(t, h, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}
}

func TestEditSlot(t *testing.T) {
	srv, h := newTestServer(t)
	putAudio(t, srv, 2)

	tests := []struct {
		name   string
		index  string
		body   string
		status int
	}{
		{"rename and loop", "2", `{"name":"hats","loopStart":2,"loopEnd":6}`, http.StatusOK},
		{"target rate", "2", `{"targetRate":22050}`, http.StatusOK},
		{"negative rate", "2", `{"targetRate":-1}`, http.StatusBadRequest},
		{"empty slot", "3", `{"name":"x"}`, http.StatusNotFound},
		{"bad json", "2", `{"name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPatch, "/api/v1/slots/"+tt.index, tt.body)
			if w.Code != tt.status {
				t.Errorf("status %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}

	slot, _ := srv.eng.Store().Get(2)
	if slot.Name != "HATS" || slot.Loop == nil || slot.Loop.End != 6 || slot.TargetRate != 22050 || !slot.Edited {
		t.Errorf("slot = %+v", slot)
	}
}

func TestEditLockedSlot(t *testing.T) {
	srv, h := newTestServer(t)
	putAudio(t, srv, 1)
	release, err := srv.eng.Store().Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if w := do(t, h, http.MethodPatch, "/api/v1/slots/1", `{"name":"nope"}`); w.Code != http.StatusConflict {
		t.Errorf("status %d, want 409", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/slots/1", ""); w.Code != http.StatusConflict {
		t.Errorf("delete: status %d, want 409", w.Code)
	}
}

func TestWAVUploadDownload(t *testing.T) {
	_, h := newTestServer(t)
	audio := []int16{0, 1000, -1000, 32767, -32768, 5}
	path := filepath.Join(t.TempDir(), "snare.wav")
	if err := wavio.WriteFile(path, &slots.Slot{Audio: audio, Rate: 32000}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "snare.wav")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/slots/4/wav", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: status %d %s", w.Code, w.Body.String())
	}
	if v := decode[slotView](t, w); v.Name != "SNAR" || v.Words != len(audio) || v.Rate != 32000 || !v.Edited {
		t.Errorf("uploaded slot = %+v", v)
	}

	w = do(t, h, http.MethodGet, "/api/v1/slots/4/wav", "")
	if w.Code != http.StatusOK {
		t.Fatalf("download: status %d", w.Code)
	}
	got, err := wavio.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode download: %v", err)
	}
	for i := range audio {
		if got.Audio[i] != audio[i] {
			t.Fatalf("word %d: got %d, want %d", i, got.Audio[i], audio[i])
		}
	}
}

func TestExportEmptySlot(t *testing.T) {
	_, h := newTestServer(t)
	if w := do(t, h, http.MethodGet, "/api/v1/slots/0/wav", ""); w.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", w.Code)
	}
}

func TestReceiveOperationFails(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodPost, "/api/v1/transfers/receive", `{"slot":2,"mode":"closed"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d %s", w.Code, w.Body.String())
	}
	op := waitOperation(t, h, decode[operation](t, w).ID)
	if op.Status != "failed" || !strings.Contains(op.Error, "header") {
		t.Errorf("operation = %+v", op)
	}
}

func TestTransferValidation(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		path, body string
		status     int
	}{
		{"/api/v1/transfers/receive", `{"slot":50}`, http.StatusNotFound},
		{"/api/v1/transfers/receive", `{"slot":1,"mode":"sideways"}`, http.StatusBadRequest},
		{"/api/v1/transfers/bulk", `{"direction":"up","slots":[1]}`, http.StatusBadRequest},
		{"/api/v1/transfers/bulk", `{"direction":"rx","slots":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(t, h, http.MethodPost, tt.path, tt.body); w.Code != tt.status {
			t.Errorf("%s %s: status %d, want %d", tt.path, tt.body, w.Code, tt.status)
		}
	}
}

func TestBusyAndCancel(t *testing.T) {
	srv, h := newTestServer(t)
	putAudio(t, srv, 1)

	w := do(t, h, http.MethodPost, "/api/v1/transfers/stream", `{"slots":[3]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("stream: status %d", w.Code)
	}
	id := decode[operation](t, w).ID
	deadline := time.Now().Add(time.Second)
	for !srv.eng.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/transfers/send", `{"slot":1}`); w.Code != http.StatusConflict {
		t.Errorf("send while busy: status %d, want 409", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/transfers/cancel", ""); w.Code != http.StatusNoContent {
		t.Errorf("cancel: status %d", w.Code)
	}
	op := waitOperation(t, h, id)
	if op.Status != "failed" || !strings.Contains(op.Error, "aborted") {
		t.Errorf("operation = %+v", op)
	}
}

func TestSetTurbo(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodPut, "/api/v1/turbo", `{"factor":3}`)
	if w.Code != http.StatusOK || decode[map[string]float64](t, w)["factor"] != 3 {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPut, "/api/v1/turbo", `{"factor":50}`); w.Code != http.StatusBadRequest {
		t.Errorf("out of range: status %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/status", "")
	if st := decode[map[string]any](t, w); st["turbo"] != 3.0 || st["busy"] != false {
		t.Errorf("status = %v", st)
	}
}

func TestUnknownOperation(t *testing.T) {
	_, h := newTestServer(t)
	if w := do(t, h, http.MethodGet, "/api/v1/transfers/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status %d", w.Code)
	}
}
