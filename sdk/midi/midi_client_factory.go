package midi

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/leandrodaf/midimapper/internal/midi/mididarwin"
	"github.com/leandrodaf/midimapper/internal/midi/midiport"
	"github.com/leandrodaf/midimapper/internal/midi/midiwindows"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// ErrUnsupportedOS is returned when the operating system has no MIDI input at all.
var ErrUnsupportedOS = errors.New("unsupported operating system")

type initializer func(*contracts.ClientOptions) (contracts.ClientMIDI, error)

// clientInitializers maps OS names to native MIDI client initializers.
var clientInitializers = map[string]initializer{
	"darwin":  mididarwin.NewMIDIClient,  // CoreMIDI
	"windows": midiwindows.NewMIDIClient, // winmm
}

// unsupported lists the targets without any MIDI input.
var unsupported = map[string]bool{"js": true, "wasip1": true}

// NewClient initializes a MIDI client for the current operating system.
// macOS and Windows use their native clients; other systems go through the
// gomidi port driver registered by the program.
//
// opts *contracts.ClientOptions: Configuration options for the MIDI client.
//
// Returns:
//   - contracts.ClientMIDI: An instance of the MIDI client.
//   - error: An error if the operating system is unsupported or if initialization fails.
func NewClient(opts *contracts.ClientOptions) (contracts.ClientMIDI, error) {
	return newClientFor(runtime.GOOS, opts)
}

func newClientFor(goos string, opts *contracts.ClientOptions) (contracts.ClientMIDI, error) {
	if unsupported[goos] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
	// A configured port name asks for the gomidi driver everywhere.
	if opts.PortConfig != nil && opts.PortConfig.PortName != "" {
		return midiport.NewMIDIClient(opts)
	}
	if newFn, ok := clientInitializers[goos]; ok {
		return newFn(opts)
	}
	return midiport.NewMIDIClient(opts)
}
