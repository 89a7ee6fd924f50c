// Package take captures a MIDI performance and stores it as a Standard MIDI
// File so it can be replayed through the mapping pipeline.
package take

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/wire"
	"gitlab.com/gomidi/midi/v2/smf"
	"go.uber.org/multierr"
)

const (
	// Resolution is the tick resolution of saved takes.
	Resolution = smf.MetricTicks(960)
	// Tempo is the tempo of saved takes in BPM. With Resolution it gives
	// 1920 ticks per second.
	Tempo = 120.0

	trackName = "midimapper take"
)

// ErrEmptyTake is returned when a take file holds no channel messages.
var ErrEmptyTake = errors.New("take holds no MIDI events")

// Recorder collects the events of a raw packet stream. Its Tap method can be
// registered on a router. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	dec    *wire.Decoder
	events []contracts.Event
}

// NewRecorder creates a take recorder. The options configure its own decoder.
func NewRecorder(opts ...wire.Option) *Recorder {
	return &Recorder{dec: wire.NewDecoder(opts...)}
}

// Tap records the events completed by packet.
func (r *Recorder) Tap(packet contracts.Packet) {
	r.mu.Lock()
	r.events = r.dec.DecodeAppend(r.events, packet.Data, packet.Timestamp)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Event(nil), r.events...)
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops the recorded events and the decoder state.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.dec.Reset()
	r.mu.Unlock()
}

// SaveFile writes the recorded events to path.
func (r *Recorder) SaveFile(path string) error {
	return SaveFile(path, r.Events())
}

// Build converts events into an SMF with a tempo track and one event track.
// Times are taken relative to the first event.
func Build(events []contracts.Event) (*smf.SMF, error) {
	if len(events) == 0 {
		return nil, ErrEmptyTake
	}

	s := smf.New()
	s.TimeFormat = Resolution

	var tempo smf.Track
	tempo.Add(0, smf.MetaTrackSequenceName(trackName))
	tempo.Add(0, smf.MetaTempo(Tempo))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return nil, fmt.Errorf("add tempo track: %w", err)
	}

	var (
		track   smf.Track
		start   = events[0].Timestamp
		written uint32
	)
	for _, ev := range events {
		at := ev.Timestamp - start
		if at < 0 {
			at = 0
		}
		abs := Resolution.Ticks(Tempo, at)
		if abs < written {
			abs = written
		}
		track.Add(abs-written, wire.Message(ev))
		written = abs
	}
	track.Close(0)
	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("add event track: %w", err)
	}
	return s, nil
}

// Save writes events to w as an SMF.
func Save(w io.Writer, events []contracts.Event) error {
	s, err := Build(events)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write take: %w", err)
	}
	return nil
}

// SaveFile writes events to path, creating its directory.
func SaveFile(path string, events []contracts.Event) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return Save(f, events)
}

// Load reads an SMF and returns one packet per channel message, stamped with
// its time from the start of the file. Tempo changes in the file are honoured.
func Load(r io.Reader) ([]contracts.Packet, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read take: %w", err)
	}
	return packets(s)
}

// LoadFile reads a take from path.
func LoadFile(path string) ([]contracts.Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func packets(s *smf.SMF) ([]contracts.Packet, error) {
	var out []contracts.Packet
	for _, track := range s.Tracks {
		var abs int64
		for _, ev := range track {
			abs += int64(ev.Delta)
			if !ev.Message.IsPlayable() {
				continue
			}
			out = append(out, contracts.Packet{
				Timestamp: time.Duration(s.TimeAt(abs)) * time.Microsecond,
				Data:      append([]byte(nil), ev.Message.Bytes()...),
			})
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyTake
	}
	// Packets at the same time keep their track order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Replay feeds packets to fn in order. When paced is true it waits between
// packets so they arrive at their recorded spacing; otherwise it feeds them
// back to back. The packets keep their recorded timestamps either way.
func Replay(ctx context.Context, ps []contracts.Packet, paced bool, fn func(contracts.Packet)) error {
	var (
		begin = time.Now()
		first time.Duration
	)
	if len(ps) > 0 {
		first = ps[0].Timestamp
	}
	for _, p := range ps {
		if paced {
			wait := time.Until(begin.Add(p.Timestamp - first))
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(p)
	}
	return nil
}
