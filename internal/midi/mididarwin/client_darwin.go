//go:build darwin
// +build darwin

package mididarwin

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/youpy/go-coremidi"
)

// Error definitions for MIDI connection and handling issues.
var (
	ErrNoMIDIDevices       = errors.New("no MIDI devices found")
	ErrInvalidMIDIDevice   = errors.New("invalid MIDI device")
	ErrMIDIConnectionError = errors.New("error connecting to MIDI device")
	ErrCreateInputPort     = errors.New("error creating input port")
)

type portConnection interface {
	Disconnect()
}

// ClientMid captures raw MIDI bytes from a CoreMIDI source. CoreMIDI delivers
// packets on its own thread; they are handed on without blocking.
type ClientMid struct {
	logger    contracts.Logger
	packets   atomic.Pointer[chan<- contracts.Packet]
	client    coremidi.Client
	inputPort coremidi.InputPort
	portConn  portConnection
	mu        sync.Mutex
	capturing bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewMIDIClient creates the CoreMIDI client named in the options.
func NewMIDIClient(options *contracts.ClientOptions) (contracts.ClientMIDI, error) {
	client, err := coremidi.NewClient(options.CoreMIDIConfig.ClientName)
	if err != nil {
		return nil, err
	}
	options.Logger.Info("MIDI client successfully created",
		options.Logger.Field().String("client", options.CoreMIDIConfig.ClientName))

	return &ClientMid{
		logger: options.Logger,
		client: client,
	}, nil
}

// ListDevices lists the CoreMIDI sources.
func (m *ClientMid) ListDevices() ([]contracts.DeviceInfo, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI sources: %w", err)
	}
	if len(sources) == 0 {
		m.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, len(sources))
	for i, source := range sources {
		entity := source.Entity()
		devices[i] = contracts.DeviceInfo{
			ID:           i,
			Name:         source.Name(),
			EntityName:   entity.Name(),
			Manufacturer: entity.Manufacturer(),
		}
	}
	return devices, nil
}

// SelectDevice connects to source deviceID, dropping any previous connection.
func (m *ClientMid) SelectDevice(deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sources, err := coremidi.AllSources()
	if err != nil {
		return fmt.Errorf("error retrieving MIDI sources: %w", err)
	}
	if deviceID < 0 || deviceID >= len(sources) {
		m.logger.Error(ErrInvalidMIDIDevice.Error(), m.logger.Field().Int("deviceID", deviceID))
		return fmt.Errorf("%w: %d", ErrInvalidMIDIDevice, deviceID)
	}

	if m.portConn != nil {
		m.portConn.Disconnect()
		m.portConn = nil
	}

	source := sources[deviceID]
	m.logger.Info("MIDI device selected",
		m.logger.Field().Int("deviceID", deviceID),
		m.logger.Field().String("deviceName", source.Name()))

	m.inputPort, err = coremidi.NewInputPort(m.client, "Input Port", m.handlePacket)
	if err != nil {
		m.logger.Error(ErrCreateInputPort.Error(), m.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrCreateInputPort, err)
	}

	m.portConn, err = m.inputPort.Connect(source)
	if err != nil {
		m.logger.Error(ErrMIDIConnectionError.Error(), m.logger.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrMIDIConnectionError, err)
	}

	m.logger.Info("MIDI device successfully connected")
	return nil
}

// handlePacket forwards one CoreMIDI packet. The bytes are copied because
// CoreMIDI reuses its packet buffers.
func (m *ClientMid) handlePacket(_ coremidi.Source, packet coremidi.Packet) {
	m.wg.Add(1)
	defer m.wg.Done()

	ch := m.packets.Load()
	if ch == nil || len(packet.Data) == 0 {
		return
	}

	p := contracts.Packet{Timestamp: contracts.Now(), Data: append([]byte(nil), packet.Data...)}
	select {
	case *ch <- p:
	default:
		m.logger.Warn("packet buffer full; dropping MIDI packet",
			m.logger.Field().Int("bytes", len(packet.Data)))
	}
}

// StartCapture starts delivering packets to the channel. Calling it again
// replaces the channel.
func (m *ClientMid) StartCapture(packets chan<- contracts.Packet) {
	if packets == nil {
		m.logger.Error("StartCapture called with nil packet channel")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capturing {
		m.logger.Warn("capture already started; packet channel replaced")
	}
	m.logger.Info("Starting MIDI capture")
	m.packets.Store(&packets)
	m.capturing = true
}

// Stop disconnects the source and waits for in-flight packets. Only the
// first call has an effect.
func (m *ClientMid) Stop() error {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping MIDI capture")
		m.mu.Lock()
		defer m.mu.Unlock()

		m.capturing = false
		m.packets.Store(nil)
		if m.portConn != nil {
			m.portConn.Disconnect()
			m.portConn = nil
		}
		m.wg.Wait()
		m.logger.Info("MIDI capture stopped")
	})
	return nil
}
