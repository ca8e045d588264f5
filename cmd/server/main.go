// Package main is the entry point for the sampledump API server
package main

import (
	"flag"
	"fmt"
	"os"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/james-see/sampledump/pkg/api"
	"github.com/james-see/sampledump/pkg/config"
	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/slots"
	"github.com/james-see/sampledump/pkg/transfer"
)

func main() {
	configPath := flag.String("config", "", "Config file (YAML)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	logger, closer, err := config.SetupLogging(cfg.Logs, os.Stderr, "sampledump-server")
	if err != nil {
		return err
	}
	defer closer.Close()

	mode, err := transfer.ParseMode(cfg.Device.Mode)
	if err != nil {
		return err
	}
	profile, err := device.Lookup(cfg.Device.Profile, byte(cfg.Device.Channel))
	if err != nil {
		return err
	}
	midiPort, err := device.OpenPort(cfg.Device.In, cfg.Device.Out, logger)
	if err != nil {
		return err
	}
	defer midiPort.Close()

	store := slots.NewStore(profile.BankSize(), profile.ScratchSize())
	eng := transfer.New(midiPort, store, profile, cfg.Transfer)
	eng.SetLogger(logger)
	eng.SetUnrelatedHandler(device.LogUnrelated(profile, logger))
	turbo, err := device.NewLinkTurbo(profile, cfg.Device.Turbo, cfg.Device.MaxTurbo, logger)
	if err != nil {
		return err
	}
	eng.SetTurbo(turbo)
	if cfg.Device.StayAwake {
		eng.SetStayAwake(device.NewInhibitor(logger))
	}
	if err := midiPort.Listen(eng.Feed); err != nil {
		return err
	}

	srv := api.NewServer(eng, transfer.NewBulk(eng), profile, turbo, logger)
	srv.SetDefaultMode(mode)

	fmt.Printf("Starting sampledump API server on port %d...\n", cfg.Server.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.Server.Port)
	return srv.Run(cfg.Server.Port)
}
