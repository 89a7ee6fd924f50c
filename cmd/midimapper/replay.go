package main

import (
	"context"
	"fmt"
	"io"

	"github.com/leandrodaf/midimapper/internal/config"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/take"
)

// runReplay feeds a take through the pipeline and prints every update. Takes
// loaded from the queue while it runs are fed after it, each one at most once.
func runReplay(ctx context.Context, w io.Writer, cfg *config.Config, log contracts.Logger, o options) error {
	packets, err := take.LoadFile(o.replay)
	if err != nil {
		return err
	}

	device := o.device
	if device == "" {
		device = "take"
	}
	p, err := newPipeline(cfg, log, device, o)
	if err != nil {
		return err
	}
	p.router.AddSink(contracts.UpdateSinkFunc(func(u contracts.ParameterUpdate) {
		fmt.Fprintf(w, "%12s  %-24s %8.4f\n", u.Timestamp, u.Target, u.Value)
	}))

	pending := [][]contracts.Packet{packets}
	seen := map[string]bool{o.replay: true}
	p.play = func(path string, ps []contracts.Packet) {
		if seen[path] {
			log.Info("take already replayed; skipping", log.Field().String("path", path))
			return
		}
		seen[path] = true
		pending = append(pending, ps)
	}

	if o.record {
		if err := p.rec.Start(); err != nil {
			return err
		}
	}
	var last contracts.Packet
	for len(pending) > 0 {
		ps := pending[0]
		pending = pending[1:]
		if last.Data != nil {
			ps = rebase(ps, last.Timestamp)
		}
		err = take.Replay(ctx, ps, o.paced, func(pk contracts.Packet) {
			p.router.Feed(pk)
			last = pk
			p.drain()
		})
		if err != nil {
			p.rec.Stop()
			return err
		}
	}
	p.rec.Stop()

	if o.record {
		for _, target := range p.timeline.Targets() {
			fmt.Fprintf(w, "%-24s %d keyframes\n", target, len(p.timeline.Keys(target)))
		}
	}
	path, err := p.bakeOnExit()
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(w, "timeline baked to %s\n", path)
	}
	return nil
}
