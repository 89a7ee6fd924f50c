// Command midimapper maps a MIDI controller onto a rig and records keyframes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/multierr"

	"github.com/leandrodaf/midimapper/internal/config"
	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/midi"
	"github.com/leandrodaf/midimapper/sdk/take"
)

type options struct {
	configPath  string
	mappingPath string
	device      string
	list        bool
	record      bool
	takeOut     string
	replay      string
	paced       bool

	enqueue      []string
	restartQueue bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "config file (default ~/.config/midimapper/config.yaml)")
	flag.StringVar(&o.mappingPath, "mapping", "", "mapping document (.json or .yaml); default is the per-device store")
	flag.StringVar(&o.device, "device", "", "input device index or port name")
	flag.BoolVar(&o.list, "list", false, "list input devices and exit")
	flag.BoolVar(&o.record, "record", false, "arm a recording session at startup")
	flag.StringVar(&o.takeOut, "take-out", "", "save the raw performance as a MIDI file")
	flag.StringVar(&o.replay, "replay", "", "replay a take file instead of reading a device")
	flag.BoolVar(&o.paced, "paced", false, "replay at the recorded speed")
	flag.Func("enqueue", "add a take to the session queue (repeatable)", func(path string) error {
		o.enqueue = append(o.enqueue, path)
		return nil
	})
	flag.BoolVar(&o.restartQueue, "restart-queue", false, "start the session queue from its first take")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "midimapper: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.device == "" {
		o.device = cfg.Device
	}

	log := logger.NewZapLogger()
	log.SetLevel(cfg.Level())

	if o.replay != "" {
		if cfg.LogFile != "" {
			log.SetDestination(contracts.FileLog, cfg.LogFile)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return runReplay(ctx, os.Stdout, cfg, log, o)
	}
	return runMonitor(cfg, log, o)
}

// logPath returns where the monitor writes its log, keeping the terminal clean.
func logPath(cfg *config.Config) (string, error) {
	if cfg.LogFile != "" {
		return cfg.LogFile, nil
	}
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "midimapper.log"), nil
}

func runMonitor(cfg *config.Config, log contracts.Logger, o options) (err error) {
	path, err := logPath(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	log.SetDestination(contracts.FileLog, path)

	id, portName := -1, ""
	if n, convErr := strconv.Atoi(o.device); convErr == nil {
		id = n
	} else {
		portName = o.device
	}
	if id < 0 && portName == "" {
		id = 0
	}

	client, err := midi.NewMIDIClient(
		contracts.WithLogger(log),
		contracts.WithLogLevel(cfg.Level()),
		contracts.WithPortConfig(contracts.PortConfig{PortName: portName}),
	)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, client.Stop()) }()

	devices, err := client.ListDevices()
	if err != nil {
		return err
	}
	if o.list {
		for _, d := range devices {
			fmt.Printf("%3d  %s (%s)\n", d.ID, d.Name, d.Manufacturer)
		}
		return nil
	}
	if err := client.SelectDevice(id); err != nil {
		return err
	}

	label := portName
	if id >= 0 && id < len(devices) {
		label = devices[id].Name
	}
	p, err := newPipeline(cfg, log, label, o)
	if err != nil {
		return err
	}

	takePath := o.takeOut
	if takePath == "" {
		takePath = defaultTakePath(cfg)
	}
	if takePath != "" {
		p.router.Tap(p.take.Tap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	packets := make(chan contracts.Packet, cfg.Buffer)
	client.StartCapture(packets)
	go func() {
		if err := p.router.Run(ctx, packets); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("router stopped", log.Field().Error("error", err))
		}
	}()
	p.play = func(path string, ps []contracts.Packet) {
		go func() {
			err := take.Replay(ctx, rebase(ps, contracts.Now()), true, func(pk contracts.Packet) {
				select {
				case packets <- pk:
				case <-ctx.Done():
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("take playback stopped", log.Field().String("path", path), log.Field().Error("error", err))
			}
		}()
	}

	if o.record {
		if err := p.rec.Start(); err != nil {
			return err
		}
	}

	if _, err := tea.NewProgram(newModel(p), tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	cancel()
	if _, bakeErr := p.bakeOnExit(); bakeErr != nil {
		err = multierr.Append(err, fmt.Errorf("bake timeline: %w", bakeErr))
	}
	return multierr.Append(err, p.saveTake(takePath))
}
