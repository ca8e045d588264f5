package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/james-see/sampledump/pkg/config"
	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/slots"
	"github.com/james-see/sampledump/pkg/transfer"
)

// rig is everything a command needs to talk to the device.
type rig struct {
	cfg     config.Config
	log     *slog.Logger
	logs    io.Closer
	profile device.Profile
	port    *device.Port
	turbo   *device.Turbo
	eng     *transfer.Engine
	bulk    *transfer.Bulk
	mode    transfer.Mode
}

// loadConfig reads the config file and applies the persistent flags that
// were set explicitly.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := rootCmd.PersistentFlags()
	if flags.Changed("device") {
		cfg.Device.Profile = deviceName
	}
	if flags.Changed("channel") {
		cfg.Device.Channel = channel
	}
	if flags.Changed("in") {
		cfg.Device.In = inPort
	}
	if flags.Changed("out") {
		cfg.Device.Out = outPort
	}
	if flags.Changed("mode") {
		cfg.Device.Mode = modeName
	}
	if flags.Changed("turbo") {
		cfg.Device.Turbo = turboFactor
	}
	if flags.Changed("log-level") {
		cfg.Logs.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// openRig opens the MIDI ports and builds the engine around them.
func openRig() (*rig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := config.SetupLogging(cfg.Logs, os.Stderr, "sampledump")
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	r := &rig{cfg: cfg, log: logger, logs: closer}
	if r.mode, err = transfer.ParseMode(cfg.Device.Mode); err != nil {
		r.Close()
		return nil, err
	}
	if r.profile, err = device.Lookup(cfg.Device.Profile, byte(cfg.Device.Channel)); err != nil {
		r.Close()
		return nil, err
	}
	if cfg.Device.In == "" || cfg.Device.Out == "" {
		r.Close()
		return nil, fmt.Errorf("no MIDI ports configured; pass --in and --out (see 'sampledump ports')")
	}
	if r.port, err = device.OpenPort(cfg.Device.In, cfg.Device.Out, logger); err != nil {
		r.Close()
		return nil, err
	}

	store := slots.NewStore(r.profile.BankSize(), r.profile.ScratchSize())
	r.eng = transfer.New(r.port, store, r.profile, cfg.Transfer)
	r.eng.SetLogger(logger)
	r.eng.SetUnrelatedHandler(device.LogUnrelated(r.profile, logger))
	if r.turbo, err = device.NewLinkTurbo(r.profile, cfg.Device.Turbo, cfg.Device.MaxTurbo, logger); err != nil {
		r.Close()
		return nil, err
	}
	r.eng.SetTurbo(r.turbo)
	if cfg.Device.StayAwake {
		r.eng.SetStayAwake(device.NewInhibitor(logger))
	}
	r.bulk = transfer.NewBulk(r.eng)

	if err := r.port.Listen(r.eng.Feed); err != nil {
		r.Close()
		return nil, err
	}
	logger.Info("sampledump: ready",
		"profile", cfg.Device.Profile, "channel", cfg.Device.Channel,
		"mode", r.mode, "turbo", r.turbo.Factor())
	return r, nil
}

// Close releases the ports and flushes the log file.
func (r *rig) Close() {
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			r.log.Warn("sampledump: closing ports", "error", err)
		}
	}
	if r.logs != nil {
		_ = r.logs.Close()
	}
}

// progressPrinter writes a line per tenth of progress to w.
type progressPrinter struct {
	transfer.NopObserver
	mu   sync.Mutex
	w    io.Writer
	last map[int]int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: make(map[int]int)}
}

func (p *progressPrinter) Progress(slot int, fraction float64) {
	step := int(fraction * 10)
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[slot]; ok && prev >= step {
		return
	}
	p.last[slot] = step
	fmt.Fprintf(p.w, "slot %d: %3d%%\n", slot, step*10)
}

func (p *progressPrinter) Transferring(slot int, dir transfer.Direction) {
	if dir == transfer.DirectionNone {
		p.mu.Lock()
		delete(p.last, slot)
		p.mu.Unlock()
	}
}

func (p *progressPrinter) BulkDone(report *transfer.BulkReport) {
	fmt.Fprintf(p.w, "bulk %s done: %d completed, %d skipped, %d failed\n",
		report.Direction,
		report.Count(transfer.OutcomeCompleted),
		report.Count(transfer.OutcomeSkipped),
		report.Count(transfer.OutcomeFailed))
}
