// Package midiport captures MIDI through the gomidi port drivers. It serves
// every platform without a native client; the program must register a driver,
// for example by importing gitlab.com/gomidi/midi/v2/drivers/rtmididrv.
package midiport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/leandrodaf/midimapper/sdk/contracts"
)

// Error definitions for port selection and capture.
var (
	ErrNoMIDIDevices     = errors.New("no MIDI devices found")
	ErrInvalidMIDIDevice = errors.New("invalid MIDI device")
	ErrOpenPort          = errors.New("error opening MIDI port")
	ErrNotSelected       = errors.New("no MIDI device selected")
)

// Client reads raw bytes from a gomidi input port.
type Client struct {
	logger     contracts.Logger
	ports      func() []drivers.In
	preferName string

	packets atomic.Pointer[chan<- contracts.Packet]

	mu        sync.Mutex
	in        drivers.In
	stopFn    func()
	capturing bool
	stopOnce  sync.Once
}

// NewMIDIClient creates a port client. When the options name a port, SelectDevice
// prefers the first port whose name contains it.
func NewMIDIClient(options *contracts.ClientOptions) (contracts.ClientMIDI, error) {
	return newClient(options, func() []drivers.In { return gomidi.GetInPorts() }), nil
}

func newClient(options *contracts.ClientOptions, ports func() []drivers.In) *Client {
	c := &Client{logger: options.Logger, ports: ports}
	if options.PortConfig != nil {
		c.preferName = options.PortConfig.PortName
	}
	options.Logger.Info("MIDI port client created")
	return c
}

// ListDevices lists the input ports of the registered driver.
func (c *Client) ListDevices() ([]contracts.DeviceInfo, error) {
	ins := c.ports()
	if len(ins) == 0 {
		c.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}
	devices := make([]contracts.DeviceInfo, len(ins))
	for i, in := range ins {
		devices[i] = contracts.DeviceInfo{
			ID:         i,
			Name:       in.String(),
			EntityName: in.String(),
		}
	}
	return devices, nil
}

// SelectDevice opens input port deviceID. A negative ID selects the port named
// in the options.
func (c *Client) SelectDevice(deviceID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ins := c.ports()
	if len(ins) == 0 {
		return ErrNoMIDIDevices
	}
	if deviceID < 0 && c.preferName != "" {
		for i, in := range ins {
			if strings.Contains(in.String(), c.preferName) {
				deviceID = i
				break
			}
		}
	}
	if deviceID < 0 || deviceID >= len(ins) {
		c.logger.Error(ErrInvalidMIDIDevice.Error(), c.logger.Field().Int("deviceID", deviceID))
		return fmt.Errorf("%w: %d", ErrInvalidMIDIDevice, deviceID)
	}

	if err := c.closePort(); err != nil {
		c.logger.Warn("failed to close previous MIDI port", c.logger.Field().Error("error", err))
	}

	in := ins[deviceID]
	if err := in.Open(); err != nil {
		c.logger.Error(ErrOpenPort.Error(), c.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrOpenPort, err)
	}
	c.in = in
	c.logger.Info("MIDI device selected",
		c.logger.Field().Int("deviceID", deviceID),
		c.logger.Field().String("deviceName", in.String()))

	if c.capturing {
		return c.listen()
	}
	return nil
}

// StartCapture starts delivering packets. Sends never block: packets that do
// not fit in the channel are dropped with a warning.
func (c *Client) StartCapture(packets chan<- contracts.Packet) {
	if packets == nil {
		c.logger.Error("StartCapture called with nil packet channel")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packets.Store(&packets)
	if c.capturing {
		c.logger.Warn("capture already started; packet channel replaced")
		return
	}
	c.capturing = true
	if c.in == nil {
		c.logger.Warn(ErrNotSelected.Error())
		return
	}
	if err := c.listen(); err != nil {
		c.logger.Error("failed to start MIDI capture", c.logger.Field().Error("error", err))
	}
}

// listen attaches to the open port. The caller holds mu.
func (c *Client) listen() error {
	stop, err := c.in.Listen(c.handle, drivers.ListenConfig{
		OnErr: func(err error) {
			c.logger.Warn("MIDI listener error", c.logger.Field().Error("error", err))
		},
	})
	if err != nil {
		return err
	}
	c.stopFn = stop
	c.logger.Info("MIDI capture started", c.logger.Field().String("port", c.in.String()))
	return nil
}

func (c *Client) handle(msg []byte, _ int32) {
	ch := c.packets.Load()
	if ch == nil || len(msg) == 0 {
		return
	}
	p := contracts.Packet{Timestamp: contracts.Now(), Data: append([]byte(nil), msg...)}
	select {
	case *ch <- p:
	default:
		c.logger.Warn("packet buffer full; dropping MIDI packet",
			c.logger.Field().Int("bytes", len(msg)))
	}
}

// closePort stops listening and closes the port. The caller holds mu.
func (c *Client) closePort() error {
	if c.stopFn != nil {
		c.stopFn()
		c.stopFn = nil
	}
	if c.in == nil {
		return nil
	}
	err := c.in.Close()
	c.in = nil
	return err
}

// Stop ends capture and closes the port. Only the first call has an effect.
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.capturing = false
		c.packets.Store(nil)
		err = c.closePort()
		c.logger.Info("MIDI capture stopped")
	})
	return err
}
