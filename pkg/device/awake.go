package device

import (
	"log/slog"
	"os/exec"
	"runtime"
)

// Inhibitor keeps the host awake by holding an OS sleep inhibitor process
// for as long as a transfer is in focus.
type Inhibitor struct {
	log *slog.Logger
}

// NewInhibitor creates an inhibitor logging through l.
func NewInhibitor(l *slog.Logger) *Inhibitor {
	if l == nil {
		l = slog.Default()
	}
	return &Inhibitor{log: l}
}

func inhibitCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"caffeinate", "-i"}
	case "linux":
		return []string{"systemd-inhibit", "--what=idle:sleep", "--why=sample transfer", "sleep", "infinity"}
	}
	return nil
}

// Acquire starts the inhibitor. Without one on this platform it does
// nothing.
func (in *Inhibitor) Acquire() (release func()) {
	args := inhibitCommand()
	if args == nil {
		return func() {}
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		in.log.Debug("device: sleep inhibitor unavailable", "error", err)
		return func() {}
	}
	return func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}
