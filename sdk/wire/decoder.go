// Package wire converts between raw MIDI byte streams and contracts.Event values.
package wire

import (
	"fmt"
	"time"

	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

const (
	statusBit    = 0x80
	sysExStart   = 0xF0
	sysExEnd     = 0xF7
	realtimeBase = 0xF8
)

// Decoder turns a byte stream into events. It keeps running status and any
// trailing partial message between calls, so a message split across packets
// decodes the same as one delivered whole.
//
// A Decoder is not safe for concurrent use; give each input stream its own.
type Decoder struct {
	log    contracts.Logger
	filter *contracts.KindFilter

	running  byte // last channel status, 0 when running status is cancelled
	status   byte // status of the message being assembled, 0 when idle
	explicit bool // status byte of the current message was present in the stream
	need     int
	data     [2]byte
	n        int
	inSysEx  bool

	discarded uint64
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for resynchronization warnings.
func WithLogger(l contracts.Logger) Option {
	return func(d *Decoder) {
		d.log = l
	}
}

// WithKindFilter drops decoded events whose kind the filter does not allow.
func WithKindFilter(f contracts.KindFilter) Option {
	return func(d *Decoder) {
		d.filter = &f
	}
}

// NewDecoder creates a Decoder with the given options.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.NewZapLogger()
	}
	return d
}

// Decode parses data and returns the events completed by it, all stamped with at.
func (d *Decoder) Decode(data []byte, at time.Duration) []contracts.Event {
	return d.DecodeAppend(nil, data, at)
}

// DecodeAppend is Decode appending to dst, for callers that reuse a buffer.
func (d *Decoder) DecodeAppend(dst []contracts.Event, data []byte, at time.Duration) []contracts.Event {
	dropped := 0

	for _, b := range data {
		switch {
		case b >= realtimeBase:
			// Realtime bytes may appear anywhere, even inside other messages.
			continue

		case b&statusBit != 0:
			if d.inSysEx {
				d.inSysEx = false
				if b == sysExEnd {
					continue
				}
			}
			if d.status != 0 {
				dropped += d.abandon()
			}
			dropped += d.begin(b)

		case d.inSysEx:
			continue

		default:
			if d.status == 0 {
				if d.running == 0 {
					dropped++
					continue
				}
				d.status, d.need, d.explicit = d.running, dataLen(d.running), false
			}
			d.data[d.n] = b
			d.n++
			if d.n < d.need {
				continue
			}
			if ev, ok := d.complete(at); ok {
				dst = append(dst, ev)
			}
		}
	}

	if dropped > 0 {
		d.discarded += uint64(dropped)
		d.log.Warn("discarded malformed MIDI bytes",
			d.log.Field().Int("bytes", dropped),
			d.log.Field().Duration("at", at),
			d.log.Field().Error("error", fmt.Errorf("%w: resynchronized on next status byte", contracts.ErrDecode)),
		)
	}
	return dst
}

// Discarded returns the total number of bytes skipped while resynchronizing.
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Reset drops running status and any partial message.
func (d *Decoder) Reset() {
	d.running, d.status, d.explicit, d.need, d.n, d.inSysEx = 0, 0, false, 0, 0, false
}

// begin starts a message for status byte b and returns the number of bytes dropped.
func (d *Decoder) begin(b byte) int {
	switch {
	case b == sysExStart:
		d.running = 0
		d.inSysEx = true
		return 0
	case b == sysExEnd:
		// End of exclusive without a start.
		return 1
	case b > sysExStart:
		// System common cancels running status; its data bytes are consumed and ignored.
		d.running = 0
		if n := dataLen(b); n > 0 {
			d.status, d.need, d.n, d.explicit = b, n, 0, true
		}
		return 0
	default:
		d.running = b
		d.status, d.need, d.n, d.explicit = b, dataLen(b), 0, true
		return 0
	}
}

// abandon discards an incomplete message and returns how many bytes it held.
func (d *Decoder) abandon() int {
	n := d.n
	if d.explicit {
		n++
	}
	d.status, d.n, d.explicit = 0, 0, false
	return n
}

func (d *Decoder) complete(at time.Duration) (contracts.Event, bool) {
	status, d1, d2 := d.status, d.data[0], d.data[1]
	d.status, d.n, d.explicit = 0, 0, false

	if status >= sysExStart {
		return contracts.Event{}, false
	}

	ev := contracts.Event{
		Channel:   status & 0x0F,
		Kind:      contracts.Kind(status & 0xF0),
		Timestamp: at,
	}
	switch ev.Kind {
	case contracts.NoteOn:
		ev.ID, ev.Value = d1, uint16(d2)
		if d2 == 0 {
			ev.Kind = contracts.NoteOff
		}
	case contracts.NoteOff, contracts.ControlChange:
		ev.ID, ev.Value = d1, uint16(d2)
	case contracts.PitchBend:
		ev.Value = uint16(d1) | uint16(d2)<<7
	default:
		// Aftertouch, program change and channel pressure are not mappable.
		return contracts.Event{}, false
	}

	if !d.filter.Allows(ev.Kind) {
		return contracts.Event{}, false
	}
	return ev, true
}

// dataLen is the number of data bytes following status byte b.
func dataLen(b byte) int {
	switch b & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	case 0xF0:
		switch b {
		case 0xF1, 0xF3:
			return 1
		case 0xF2:
			return 2
		}
		return 0
	}
	return 2
}
