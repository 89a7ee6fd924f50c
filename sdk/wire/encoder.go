package wire

import (
	"github.com/leandrodaf/midimapper/sdk/contracts"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Message builds the complete MIDI message for ev.
// A NoteOn with value 0 is encoded as is and therefore decodes as a NoteOff.
func Message(ev contracts.Event) gomidi.Message {
	ch := ev.Channel & 0x0F
	switch ev.Kind {
	case contracts.NoteOn:
		return gomidi.NoteOn(ch, ev.ID&0x7F, uint8(ev.Value&0x7F))
	case contracts.NoteOff:
		return gomidi.NoteOffVelocity(ch, ev.ID&0x7F, uint8(ev.Value&0x7F))
	case contracts.ControlChange:
		return gomidi.ControlChange(ch, ev.ID&0x7F, uint8(ev.Value&0x7F))
	case contracts.PitchBend:
		return gomidi.Pitchbend(ch, int16(ev.Value&0x3FFF)-8192)
	}
	return nil
}

// Encode serializes events into a byte stream, omitting status bytes that
// repeat the previous message's status (running status).
func Encode(events []contracts.Event) []byte {
	out := make([]byte, 0, len(events)*3)
	var running byte
	for _, ev := range events {
		msg := Message(ev)
		if len(msg) == 0 {
			continue
		}
		if msg[0] == running {
			out = append(out, msg[1:]...)
			continue
		}
		out = append(out, msg...)
		running = msg[0]
	}
	return out
}
