//go:build !windows
// +build !windows

package midiwindows

import (
	"errors"

	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// ErrUnavailable is returned by every operation of the placeholder client.
var ErrUnavailable = errors.New("winmm is not available on this platform")

type dummyMIDIClient struct {
	logger contracts.Logger
}

// NewMIDIClient returns a placeholder client for non-Windows systems.
func NewMIDIClient(options *contracts.ClientOptions) (contracts.ClientMIDI, error) {
	options.Logger.Info("Using dummy MIDI client for non-Windows system")
	return &dummyMIDIClient{logger: options.Logger}, nil
}

// ListDevices always fails with ErrUnavailable.
func (m *dummyMIDIClient) ListDevices() ([]contracts.DeviceInfo, error) {
	m.logger.Warn("ListDevices called on dummy MIDI client")
	return nil, ErrUnavailable
}

// SelectDevice always fails with ErrUnavailable.
func (m *dummyMIDIClient) SelectDevice(int) error {
	m.logger.Warn("SelectDevice called on dummy MIDI client")
	return ErrUnavailable
}

// StartCapture only logs; no packets are ever delivered.
func (m *dummyMIDIClient) StartCapture(chan<- contracts.Packet) {
	m.logger.Warn("StartCapture called on dummy MIDI client")
}

// Stop does nothing.
func (m *dummyMIDIClient) Stop() error {
	return nil
}
