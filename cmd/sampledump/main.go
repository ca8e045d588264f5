// Package main is the entry point for the sampledump CLI
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/james-see/sampledump/pkg/api"
	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/slots"
	"github.com/james-see/sampledump/pkg/transfer"
	"github.com/james-see/sampledump/pkg/tui"
	"github.com/james-see/sampledump/pkg/wavio"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	deviceName  string
	channel     int
	inPort      string
	outPort     string
	modeName    string
	turboFactor float64
	logLevel    string

	sampleNum  int
	slotIndex  int
	targetRate int
	outputPath string
	serverPort int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sampledump",
	Short: "Transfer samples to and from MIDI samplers over SysEx Sample Dump",
	Long: `sampledump moves samples between a host library and a hardware sampler
using the MIDI Sample Dump Standard, with the handshaking, open-loop
fallback and multi-sample streaming the Elektron Machinedrum expects.

Examples:
  sampledump ports
  sampledump receive 3 -o kick.wav --in "MD" --out "MD"
  sampledump send snare.wav --slot 4
  sampledump stream 0-7 -o ./dumps
  sampledump bulk-receive 0-15 -o ./bank
  sampledump tui
  sampledump serve --port 8080`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI input and output ports",
	Args:  cobra.NoArgs,
	RunE:  runPorts,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List supported device profiles",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var receiveCmd = &cobra.Command{
	Use:   "receive <slot>",
	Short: "Receive one sample from the device and save it as WAV",
	Args:  cobra.ExactArgs(1),
	RunE:  runReceive,
}

var sendCmd = &cobra.Command{
	Use:   "send <input.wav>",
	Short: "Send a WAV file to a sample slot on the device",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var streamCmd = &cobra.Command{
	Use:   "stream [slots]",
	Short: "Capture a multi-sample dump started on the device",
	Long: `Waits for the device to start dumping and captures every sample it sends.
With a slot list (for example 0-3,8) other samples are ignored and the
capture stops once all listed slots arrived.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

var bulkReceiveCmd = &cobra.Command{
	Use:   "bulk-receive <slots>",
	Short: "Receive a list of slots and save each as WAV",
	Args:  cobra.ExactArgs(1),
	RunE:  runBulkReceive,
}

var bulkSendCmd = &cobra.Command{
	Use:   "bulk-send <input.wav>...",
	Short: "Send several WAV files to consecutive slots",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBulkSend,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	flags.StringVarP(&deviceName, "device", "d", "machinedrum", "Device profile ("+strings.Join(device.Profiles(), ", ")+")")
	flags.IntVar(&channel, "channel", 0, "SysEx device channel")
	flags.StringVar(&inPort, "in", "", "MIDI input port name")
	flags.StringVar(&outPort, "out", "", "MIDI output port name")
	flags.StringVarP(&modeName, "mode", "m", "auto", "Transfer mode (closed, open, auto)")
	flags.Float64Var(&turboFactor, "turbo", 1, "Link speed multiplier")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// receive command
	receiveCmd.Flags().IntVar(&sampleNum, "sample", -1, "Device sample number (defaults to the slot)")
	receiveCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output .wav file path")

	// send command
	sendCmd.Flags().IntVarP(&slotIndex, "slot", "s", 0, "Target slot")
	sendCmd.Flags().IntVar(&sampleNum, "sample", -1, "Device sample number (defaults to the slot)")
	sendCmd.Flags().IntVar(&targetRate, "rate", 0, "Resample to this rate before sending")
	_ = sendCmd.MarkFlagRequired("slot")

	// stream and bulk commands
	streamCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory")
	bulkReceiveCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory")
	bulkSendCmd.Flags().IntVarP(&slotIndex, "start", "s", 0, "First target slot")
	bulkSendCmd.Flags().IntVar(&targetRate, "rate", 0, "Resample to this rate before sending")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")

	// Add commands
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(bulkReceiveCmd)
	rootCmd.AddCommand(bulkSendCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

// signalContext is cancelled on Ctrl-C so running transfers abort cleanly
// and CANCEL the device.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// parseSlots parses a slot list like "0-3,8,10-11".
func parseSlots(s string) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("slot list %q: %w", s, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("slot list %q: %w", s, err)
			}
		}
		if first < 0 || last < first {
			return nil, fmt.Errorf("slot list %q: bad range %q", s, part)
		}
		for i := first; i <= last; i++ {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("slot list %q is empty", s)
	}
	return out, nil
}

// wavPath picks the file a received slot is written to.
func wavPath(dir string, index int, slot *slots.Slot) string {
	name := fmt.Sprintf("%03d", index)
	if slot.Name != "" {
		name += "_" + strings.ReplaceAll(slot.Name, string(filepath.Separator), "_")
	}
	return filepath.Join(dir, name+".wav")
}

func saveSlot(r *rig, index int, path string) error {
	slot, err := r.eng.Store().Get(index)
	if err != nil {
		return err
	}
	if slot.Empty() {
		return fmt.Errorf("slot %d is empty", index)
	}
	if err := wavio.WriteFile(path, slot); err != nil {
		return err
	}
	fmt.Printf("Saved slot %d -> %s\n", index, path)
	return nil
}

func outputDir(r *rig) (string, error) {
	dir := outputPath
	if dir == "" {
		dir = r.cfg.Library
	}
	return dir, os.MkdirAll(dir, 0o755)
}

func importWAV(r *rig, path string, index int) error {
	slot, err := wavio.ReadFile(path)
	if err != nil {
		return err
	}
	store := r.eng.Store()
	if err := store.Import(index, slot); err != nil {
		return err
	}
	if targetRate > 0 {
		return store.SetTargetRate(index, targetRate)
	}
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	ins, outs := device.ListPorts()
	fmt.Println("Inputs:")
	for _, name := range ins {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("Outputs:")
	for _, name := range outs {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	for _, name := range device.Profiles() {
		p, err := device.Lookup(name, 0)
		if err != nil {
			return err
		}
		fmt.Printf("%-14s %s (%d slots", name, p.Name(), p.BankSize())
		if p.ScratchSize() > 0 {
			fmt.Printf(" + %d scratch", p.ScratchSize())
		}
		if !p.Handshakes() {
			fmt.Print(", open loop")
		}
		fmt.Println(")")
	}
	return nil
}

func runReceive(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("slot %q: %w", args[0], err)
	}
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	r.eng.SetObserver(newProgressPrinter(os.Stdout))

	ctx, stop := signalContext(cmd)
	defer stop()
	sample := sampleNum
	if sample < 0 {
		sample = index
	}
	res, err := r.eng.ReceiveInto(ctx, sample, index, r.mode)
	if err != nil && res == nil {
		return err
	}
	if res != nil && res.Corrupted {
		fmt.Fprintf(os.Stderr, "warning: slot %d received with errors (%+v)\n", index, res.Stats)
	}
	path := outputPath
	if path == "" {
		slot, getErr := r.eng.Store().Get(index)
		if getErr != nil {
			return getErr
		}
		path = wavPath(r.cfg.Library, index, slot)
	}
	if saveErr := saveSlot(r, index, path); saveErr != nil && err == nil {
		return saveErr
	}
	return err
}

func runSend(cmd *cobra.Command, args []string) error {
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	r.eng.SetObserver(newProgressPrinter(os.Stdout))

	if err := importWAV(r, args[0], slotIndex); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()
	sample := sampleNum
	if sample < 0 {
		sample = slotIndex
	}
	res, err := r.eng.SendTo(ctx, slotIndex, sample, r.mode)
	if err != nil {
		return err
	}
	how := "closed loop"
	if res.OpenLoop {
		how = "open loop"
	}
	fmt.Printf("Sent %s -> sample %d (%d words, %d packets, %s)\n", args[0], sample, res.Words, res.Packets, how)
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	var desired []int
	if len(args) == 1 {
		var err error
		if desired, err = parseSlots(args[0]); err != nil {
			return err
		}
	}
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	r.eng.SetObserver(newProgressPrinter(os.Stdout))
	dir, err := outputDir(r)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	fmt.Println("Waiting for the device to start the dump...")
	res, err := r.eng.StartStream(ctx, desired)
	if res != nil {
		for _, index := range res.Slots() {
			slot, getErr := r.eng.Store().Get(index)
			if getErr != nil {
				return getErr
			}
			if saveErr := saveSlot(r, index, wavPath(dir, index, slot)); saveErr != nil {
				return saveErr
			}
		}
	}
	return err
}

func runBulkReceive(cmd *cobra.Command, args []string) error {
	list, err := parseSlots(args[0])
	if err != nil {
		return err
	}
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	r.eng.SetObserver(newProgressPrinter(os.Stdout))
	dir, err := outputDir(r)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	report, err := r.bulk.Receive(ctx, list, r.mode)
	if report != nil {
		for _, index := range report.Slots {
			if report.Outcomes[index] != transfer.OutcomeCompleted {
				continue
			}
			slot, getErr := r.eng.Store().Get(index)
			if getErr != nil {
				return getErr
			}
			if saveErr := saveSlot(r, index, wavPath(dir, index, slot)); saveErr != nil {
				return saveErr
			}
		}
		printReport(report)
	}
	return err
}

func runBulkSend(cmd *cobra.Command, args []string) error {
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	r.eng.SetObserver(newProgressPrinter(os.Stdout))

	list := make([]int, 0, len(args))
	for i, path := range args {
		index := slotIndex + i
		if err := importWAV(r, path, index); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		list = append(list, index)
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	report, err := r.bulk.Send(ctx, list, r.mode)
	if report != nil {
		printReport(report)
	}
	return err
}

func printReport(report *transfer.BulkReport) {
	for _, index := range report.Slots {
		line := fmt.Sprintf("  slot %3d  %s", index, report.Outcomes[index])
		if err := report.Errors[index]; err != nil {
			line += "  " + err.Error()
		}
		fmt.Println(line)
	}
	if report.Cancelled {
		fmt.Println("Run was cancelled before all slots were processed.")
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	return tui.Run(r.eng, r.bulk, tui.Options{Mode: r.mode, Library: r.cfg.Library})
}

func runServe(cmd *cobra.Command, args []string) error {
	r, err := openRig()
	if err != nil {
		return err
	}
	defer r.Close()
	port := r.cfg.Server.Port
	if serverPort != 0 {
		port = serverPort
	}
	srv := api.NewServer(r.eng, r.bulk, r.profile, r.turbo, r.log)
	srv.SetDefaultMode(r.mode)
	fmt.Printf("Starting API server on port %d...\n", port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", port)
	return srv.Run(port)
}
