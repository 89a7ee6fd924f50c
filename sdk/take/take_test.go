package take

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leandrodaf/midimapper/internal/logger/loggertest"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/engine"
	"github.com/leandrodaf/midimapper/sdk/mapping"
	"github.com/leandrodaf/midimapper/sdk/wire"
)

// performance is a short stream: running status, a pitch bend split across
// packets and a zero-velocity note-on.
func performance(start time.Duration) []contracts.Packet {
	ms := time.Millisecond
	return []contracts.Packet{
		{Timestamp: start, Data: []byte{0xB0, 0x01, 0x40}},
		{Timestamp: start + 10*ms, Data: []byte{0x01, 0x50, 0x01, 0x60}},
		{Timestamp: start + 25*ms, Data: []byte{0xE0, 0x00}},
		{Timestamp: start + 26*ms, Data: []byte{0x40}},
		{Timestamp: start + 40*ms, Data: []byte{0x90, 0x3C, 0x64}},
		{Timestamp: start + 90*ms, Data: []byte{0x90, 0x3C, 0x00}},
		{Timestamp: start + 500*ms, Data: []byte{0xB1, 0x07, 0x7F}},
	}
}

func record(t *testing.T, ps []contracts.Packet) *Recorder {
	t.Helper()
	log, _ := loggertest.New()
	rec := NewRecorder(wire.WithLogger(log))
	for _, p := range ps {
		rec.Tap(p)
	}
	return rec
}

func TestSaveLoadKeepsEvents(t *testing.T) {
	rec := record(t, performance(3*time.Second))
	want := rec.Events()
	if len(want) != 7 {
		t.Fatalf("recorded %d events", len(want))
	}

	var buf bytes.Buffer
	if err := Save(&buf, want); err != nil {
		t.Fatal(err)
	}
	packets, err := Load(&buf)
	if err != nil {
		t.Fatal(err)
	}

	log, _ := loggertest.New()
	dec := wire.NewDecoder(wire.WithLogger(log))
	var got []contracts.Event
	for _, p := range packets {
		got = dec.DecodeAppend(got, p.Data, p.Timestamp)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d events, want %d", len(got), len(want))
	}

	start := want[0].Timestamp
	for i := range want {
		w, g := want[i], got[i]
		if w.Channel != g.Channel || w.Kind != g.Kind || w.ID != g.ID || w.Value != g.Value {
			t.Fatalf("event %d = %+v want %+v", i, g, w)
		}
		if d := g.Timestamp - (w.Timestamp - start); d > time.Millisecond || d < -time.Millisecond {
			t.Fatalf("event %d at %s, want %s", i, g.Timestamp, w.Timestamp-start)
		}
	}
}

func TestReplayReproducesUpdates(t *testing.T) {
	log, _ := loggertest.New()
	table := mapping.NewTable(mapping.WithLogger(log))
	for _, e := range []mapping.Entry{
		{Key: contracts.Key{Kind: contracts.ControlChange, ID: 1}, Target: "Jaw.Open", Enabled: true},
		{Key: contracts.Key{Kind: contracts.PitchBend}, Target: "Brow", Range: contracts.Range{Min: -1, Max: 1}, Enabled: true},
		{Key: contracts.Key{Kind: contracts.NoteOn, ID: 60}, Target: "Blink", Enabled: true},
	} {
		if err := table.Register(e); err != nil {
			t.Fatal(err)
		}
	}
	run := func(ps []contracts.Packet) []contracts.ParameterUpdate {
		var out []contracts.ParameterUpdate
		r := engine.NewRouter(engine.New(table, engine.WithLogger(log)), wire.NewDecoder(wire.WithLogger(log)),
			contracts.UpdateSinkFunc(func(u contracts.ParameterUpdate) { out = append(out, u) }))
		if err := Replay(context.Background(), ps, false, func(p contracts.Packet) { r.Feed(p) }); err != nil {
			t.Fatal(err)
		}
		return out
	}

	path := filepath.Join(t.TempDir(), "takes", "one.mid")
	if err := record(t, performance(0)).SaveFile(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	first, second := run(loaded), run(loaded)
	live := run(performance(0))
	if len(first) != 6 || len(live) != len(first) {
		t.Fatalf("updates: replay %d, live %d", len(first), len(live))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replays differ at %d: %+v %+v", i, first[i], second[i])
		}
		if first[i].Target != live[i].Target || first[i].Value != live[i].Value {
			t.Fatalf("replay %+v, live %+v", first[i], live[i])
		}
	}
}

func TestEmptyTake(t *testing.T) {
	if err := Save(&bytes.Buffer{}, nil); !errors.Is(err, ErrEmptyTake) {
		t.Fatalf("Save(nil) = %v", err)
	}
}

func TestPacedReplayHonoursContext(t *testing.T) {
	ps := []contracts.Packet{{Timestamp: 0}, {Timestamp: time.Hour}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var fed int
	err := Replay(ctx, ps, true, func(contracts.Packet) { fed++ })
	if !errors.Is(err, context.DeadlineExceeded) || fed != 1 {
		t.Fatalf("err = %v, fed = %d", err, fed)
	}
}
