package device

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLinkTurboCeiling(t *testing.T) {
	tb, err := NewLinkTurbo(NewMachinedrum(0), 8, 12, nil)
	if err != nil {
		t.Fatalf("NewLinkTurbo: %v", err)
	}
	if tb.Factor() != 8 {
		t.Errorf("Factor() = %v, want 8", tb.Factor())
	}
	if err := tb.SetFactor(11); err == nil {
		t.Error("factor above the Machinedrum ceiling accepted")
	}
	if err := tb.SetFactor(10); err != nil {
		t.Errorf("SetFactor(10): %v", err)
	}

	if _, err := NewLinkTurbo(NewGeneric(0, 0, false), 4, 10, nil); err == nil {
		t.Error("generic profile accepted a turbo link")
	}
	tb, err = NewLinkTurbo(NewGeneric(0, 0, false), 1, 10, nil)
	if err != nil {
		t.Fatalf("NewLinkTurbo at x1: %v", err)
	}
	if err := tb.SetFactor(2); err == nil || tb.Factor() != 1 {
		t.Errorf("SetFactor(2) = %v, factor %v", err, tb.Factor())
	}
}

func TestLogUnrelated(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  []string
	}{
		{"own manufacturer", []byte{0xF0, 0x00, 0x20, 0x3C, 0x02, 0x00, 0x10, 0xF7},
			[]string{"unrelated sysex", `manufacturer="00 20 3C"`, "own=true"}},
		{"other manufacturer", []byte{0xF0, 0x41, 0x10, 0x42, 0xF7},
			[]string{"unrelated sysex", "manufacturer=41", "own=false"}},
		{"malformed", []byte{0xF0, 0x41, 0x90, 0xF7},
			[]string{"malformed sysex"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			LogUnrelated(NewMachinedrum(0), logger)(tt.frame)
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
		})
	}
}
