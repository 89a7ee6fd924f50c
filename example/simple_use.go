package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/engine"
	"github.com/leandrodaf/midimapper/sdk/mapping"
	"github.com/leandrodaf/midimapper/sdk/midi"
	"github.com/leandrodaf/midimapper/sdk/recorder"
	"github.com/leandrodaf/midimapper/sdk/rig"
	"github.com/leandrodaf/midimapper/sdk/wire"
)

func main() {
	log := logger.NewZapLogger()

	client, err := midi.NewMIDIClient(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
	)
	if err != nil {
		log.Error("Failed to initialize MIDI client", log.Field().Error("error", err))
		return
	}
	defer client.Stop()

	devices, err := client.ListDevices()
	if err != nil || len(devices) == 0 {
		log.Error("No MIDI devices found or error listing devices", log.Field().Error("error", err))
		return
	}
	fmt.Println("Available MIDI devices:", devices)

	if err = client.SelectDevice(0); err != nil {
		log.Error("Failed to select MIDI device", log.Field().Error("error", err))
		return
	}

	face, err := rig.New("Face",
		rig.Control{Name: "Jaw.Open", Range: contracts.UnitRange},
		rig.Control{Name: "Head.Turn", Range: contracts.Range{Min: -1, Max: 1}},
	)
	if err != nil {
		log.Error("Failed to build rig", log.Field().Error("error", err))
		return
	}

	// CC1 on channel 1 opens the jaw, pitch bend turns the head.
	table := mapping.NewTable(mapping.WithLogger(log))
	if err = face.Bind(table, contracts.Key{Kind: contracts.ControlChange, ID: 1}, "Jaw.Open"); err != nil {
		log.Error("Failed to bind jaw control", log.Field().Error("error", err))
		return
	}
	if err = face.Bind(table, contracts.Key{Kind: contracts.PitchBend}, "Head.Turn"); err != nil {
		log.Error("Failed to bind head control", log.Field().Error("error", err))
		return
	}

	live, err := recorder.New(recorder.WithLogger(log), recorder.WithMode(recorder.ModeLive), recorder.WithRig(face))
	if err != nil {
		log.Error("Failed to build recorder", log.Field().Error("error", err))
		return
	}

	router := engine.NewRouter(engine.New(table, engine.WithLogger(log)), wire.NewDecoder(wire.WithLogger(log)),
		live,
		contracts.UpdateSinkFunc(func(u contracts.ParameterUpdate) {
			log.Info("Parameter update",
				log.Field().String("target", u.Target),
				log.Field().Float64("value", u.Value),
				log.Field().Duration("timestamp", u.Timestamp))
		}))

	packets := make(chan contracts.Packet, 100)
	client.StartCapture(packets)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Mapping MIDI input onto the rig... Press Ctrl+C to exit.")
	_ = router.Run(ctx, packets)
}
