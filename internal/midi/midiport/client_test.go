package midiport

import (
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/leandrodaf/midimapper/internal/logger/loggertest"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

type fakeIn struct {
	name    string
	open    bool
	onMsg   func([]byte, int32)
	stopped bool
}

func (f *fakeIn) Open() error             { f.open = true; return nil }
func (f *fakeIn) Close() error            { f.open = false; return nil }
func (f *fakeIn) IsOpen() bool            { return f.open }
func (f *fakeIn) Number() int             { return 0 }
func (f *fakeIn) String() string          { return f.name }
func (f *fakeIn) Underlying() interface{} { return nil }

func (f *fakeIn) Listen(onMsg func([]byte, int32), _ drivers.ListenConfig) (func(), error) {
	f.onMsg = onMsg
	return func() { f.stopped = true }, nil
}

func newTestClient(t *testing.T, portName string, ins ...*fakeIn) *Client {
	t.Helper()
	log, _ := loggertest.New()
	opts := &contracts.ClientOptions{Logger: log, PortConfig: &contracts.PortConfig{PortName: portName}}
	return newClient(opts, func() []drivers.In {
		out := make([]drivers.In, len(ins))
		for i, in := range ins {
			out[i] = in
		}
		return out
	})
}

func TestCaptureDeliversRawPackets(t *testing.T) {
	a, b := &fakeIn{name: "Keys"}, &fakeIn{name: "nanoKONTROL2 MIDI 1"}
	c := newTestClient(t, "nanoKONTROL", a, b)

	devices, err := c.ListDevices()
	if err != nil || len(devices) != 2 || devices[1].Name != "nanoKONTROL2 MIDI 1" || devices[1].ID != 1 {
		t.Fatalf("devices = %+v err = %v", devices, err)
	}
	if err := c.SelectDevice(-1); err != nil {
		t.Fatal(err)
	}
	if !b.open || a.open {
		t.Fatal("preferred port not opened")
	}

	packets := make(chan contracts.Packet, 1)
	c.StartCapture(packets)
	msg := []byte{0xB0, 0x01, 0x40}
	b.onMsg(msg, 0)
	msg[2] = 0x00

	p := <-packets
	if string(p.Data) != string([]byte{0xB0, 0x01, 0x40}) {
		t.Fatalf("packet = % X", p.Data)
	}

	b.onMsg([]byte{0x90, 0x3C, 0x64}, 0)
	b.onMsg([]byte{0x80, 0x3C, 0x00}, 0) // channel full: dropped
	if len(packets) != 1 {
		t.Fatalf("buffered packets = %d", len(packets))
	}

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if !b.stopped || b.open {
		t.Fatal("port still listening after Stop")
	}
	b.onMsg([]byte{0xB0, 0x02, 0x01}, 0)
	if len(packets) != 1 {
		t.Fatal("packet delivered after Stop")
	}
}

func TestSelectDeviceErrors(t *testing.T) {
	c := newTestClient(t, "")
	if _, err := c.ListDevices(); !errors.Is(err, ErrNoMIDIDevices) {
		t.Fatalf("ListDevices = %v", err)
	}
	if err := c.SelectDevice(0); !errors.Is(err, ErrNoMIDIDevices) {
		t.Fatalf("SelectDevice on empty driver = %v", err)
	}

	c = newTestClient(t, "missing", &fakeIn{name: "Keys"})
	if err := c.SelectDevice(3); !errors.Is(err, ErrInvalidMIDIDevice) {
		t.Fatalf("SelectDevice(3) = %v", err)
	}
	if err := c.SelectDevice(-1); !errors.Is(err, ErrInvalidMIDIDevice) {
		t.Fatalf("SelectDevice(-1) without a match = %v", err)
	}
}

func TestCaptureBeforeSelect(t *testing.T) {
	in := &fakeIn{name: "Keys"}
	c := newTestClient(t, "", in)
	packets := make(chan contracts.Packet, 4)
	c.StartCapture(packets)
	if in.onMsg != nil {
		t.Fatal("listening before a device was selected")
	}
	if err := c.SelectDevice(0); err != nil {
		t.Fatal(err)
	}
	in.onMsg([]byte{0xF8}, 0)
	if len(packets) != 1 {
		t.Fatal("selecting a device during capture did not start listening")
	}
}
