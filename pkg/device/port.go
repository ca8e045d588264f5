package device

import (
	"fmt"
	"log/slog"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// SysExBufferSize is large enough for a data packet plus slack.
const SysExBufferSize = 4096

// Port is an opened MIDI input/output pair.
type Port struct {
	mu   sync.Mutex
	in   drivers.In
	out  drivers.Out
	stop func()
	log  *slog.Logger
}

// ListPorts returns the names of the available input and output ports.
func ListPorts() (ins []string, outs []string) {
	for _, in := range midi.GetInPorts() {
		ins = append(ins, in.String())
	}
	for _, out := range midi.GetOutPorts() {
		outs = append(outs, out.String())
	}
	return ins, outs
}

// OpenPort opens the named ports. Names are matched the way gomidi matches
// them (substring of the driver's port name).
func OpenPort(inName, outName string, logger *slog.Logger) (*Port, error) {
	if logger == nil {
		logger = slog.Default()
	}
	in, err := midi.FindInPort(inName)
	if err != nil {
		return nil, fmt.Errorf("find MIDI input %q: %w", inName, err)
	}
	out, err := midi.FindOutPort(outName)
	if err != nil {
		return nil, fmt.Errorf("find MIDI output %q: %w", outName, err)
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("open MIDI output %q: %w", outName, err)
	}
	logger.Info("device: opened MIDI ports", "in", in.String(), "out", out.String())
	return &Port{in: in, out: out, log: logger}, nil
}

// Send writes raw bytes to the output port.
func (p *Port) Send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.out.IsOpen() {
		if err := p.out.Open(); err != nil {
			return err
		}
	}
	return p.out.Send(b)
}

// Listen delivers every inbound message, SysEx included, to fn.
func (p *Port) Listen(fn func([]byte)) error {
	stop, err := midi.ListenTo(p.in, func(msg midi.Message, _ int32) {
		fn(msg.Bytes())
	}, midi.UseSysEx(), midi.SysExBufferSize(SysExBufferSize), midi.HandleError(func(err error) {
		p.log.Warn("device: MIDI listener error", "in", p.in.String(), "error", err)
	}))
	if err != nil {
		return fmt.Errorf("listen on %q: %w", p.in.String(), err)
	}
	p.mu.Lock()
	p.stop = stop
	p.mu.Unlock()
	return nil
}

// Close stops listening and closes both ports.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	_ = p.in.Close()
	err := p.out.Close()
	midi.CloseDriver()
	return err
}
