package engine

import (
	"context"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/wire"
)

// PacketTap observes every raw packet before it is decoded.
type PacketTap func(packet contracts.Packet)

// Router is the real-time path: it decodes packets, maps the events and hands
// the updates to its sinks, one packet at a time in arrival order.
//
// A Router owns its decoder and must be driven by a single goroutine.
type Router struct {
	engine  *Engine
	decoder *wire.Decoder
	sinks   []contracts.UpdateSink
	taps    []PacketTap

	events []contracts.Event
}

// NewRouter creates a router delivering updates to sinks in the given order.
func NewRouter(engine *Engine, decoder *wire.Decoder, sinks ...contracts.UpdateSink) *Router {
	return &Router{
		engine:  engine,
		decoder: decoder,
		sinks:   sinks,
		events:  make([]contracts.Event, 0, 16),
	}
}

// AddSink appends a sink. Call it before Run.
func (r *Router) AddSink(s contracts.UpdateSink) {
	r.sinks = append(r.sinks, s)
}

// Tap registers a packet observer. Call it before Run.
func (r *Router) Tap(tap PacketTap) {
	r.taps = append(r.taps, tap)
}

// Engine returns the router's engine.
func (r *Router) Engine() *Engine {
	return r.engine
}

// Feed processes one packet synchronously and returns the number of updates
// delivered to the sinks.
func (r *Router) Feed(packet contracts.Packet) int {
	for _, tap := range r.taps {
		tap(packet)
	}

	r.events = r.decoder.DecodeAppend(r.events[:0], packet.Data, packet.Timestamp)
	delivered := 0
	for _, ev := range r.events {
		update, ok := r.engine.Process(ev)
		if !ok {
			continue
		}
		for _, s := range r.sinks {
			s.OnParameterUpdate(update)
		}
		delivered++
	}
	return delivered
}

// Run feeds packets until ctx is done or packets is closed.
func (r *Router) Run(ctx context.Context, packets <-chan contracts.Packet) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-packets:
			if !ok {
				return nil
			}
			r.Feed(p)
		}
	}
}
