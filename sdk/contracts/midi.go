package contracts

import (
	"fmt"
	"time"
)

// Kind is the closed set of MIDI channel messages the mapper understands.
type Kind uint8

const (
	// NoteOff is the MIDI command for a Note Off event (0x80).
	NoteOff Kind = 0x80
	// NoteOn is the MIDI command for a Note On event (0x90).
	NoteOn Kind = 0x90
	// ControlChange is the MIDI command for a Control Change event (0xB0).
	ControlChange Kind = 0xB0
	// PitchBend is the MIDI command for a Pitch Bend event (0xE0).
	PitchBend Kind = 0xE0
)

// Kinds lists every supported kind.
var Kinds = []Kind{NoteOff, NoteOn, ControlChange, PitchBend}

// String returns the name used in mapping documents.
func (k Kind) String() string {
	switch k {
	case NoteOff:
		return "note_off"
	case NoteOn:
		return "note_on"
	case ControlChange:
		return "control_change"
	case PitchBend:
		return "pitch_bend"
	}
	return fmt.Sprintf("kind(0x%02X)", uint8(k))
}

// ParseKind is the inverse of Kind.String. Short aliases "cc", "note" and "pb" are accepted.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "note_off":
		return NoteOff, nil
	case "note_on", "note":
		return NoteOn, nil
	case "control_change", "cc":
		return ControlChange, nil
	case "pitch_bend", "pb":
		return PitchBend, nil
	}
	return 0, fmt.Errorf("unknown MIDI kind %q", s)
}

// MaxValue is the largest raw value carried by a kind: 16383 for pitch bend, 127 otherwise.
func (k Kind) MaxValue() uint16 {
	if k == PitchBend {
		return 0x3FFF
	}
	return 0x7F
}

// Event is a decoded MIDI channel message.
type Event struct {
	Channel   uint8         // Channel 0-15.
	Kind      Kind          // Message kind.
	ID        uint8         // Note or controller number; always 0 for pitch bend.
	Value     uint16        // Velocity or controller value (0-127), 14-bit for pitch bend.
	Timestamp time.Duration // Monotonic time the event was received, see Now.
}

// Key returns the mapping key identifying the event's source.
func (e Event) Key() Key {
	return Key{Channel: e.Channel, Kind: e.Kind, ID: e.ID}
}

// Key identifies a MIDI source: channel, kind and note/controller number.
type Key struct {
	Channel uint8
	Kind    Kind
	ID      uint8
}

func (k Key) String() string {
	return fmt.Sprintf("ch%d/%s/%d", k.Channel+1, k.Kind, k.ID)
}

// Packet is a chunk of raw MIDI bytes as delivered by a transport.
// It may hold several messages, running-status data or a partial message.
type Packet struct {
	Timestamp time.Duration
	Data      []byte
}

// ClientMIDI defines an interface for MIDI client operations.
type ClientMIDI interface {
	Stop() error                        // Stops the MIDI client and releases resources.
	ListDevices() ([]DeviceInfo, error) // Lists all available MIDI devices.
	SelectDevice(deviceID int) error    // Selects a MIDI device by its ID for communication.
	StartCapture(packets chan<- Packet) // Starts capturing raw MIDI bytes into the given channel.
}

var clockStart = time.Now()

// Now returns the time elapsed on the process-wide monotonic clock.
// Capture clients and recorders share it so timestamps are comparable.
func Now() time.Duration {
	return time.Since(clockStart)
}
