//go:build windows
// +build windows

package midiwindows

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"golang.org/x/sys/windows"
)

// HMIDIIN is a winmm MIDI input handle.
type HMIDIIN windows.Handle

// Callback flags for midiInOpen.
const (
	CALLBACK_FUNCTION = 0x00030000
	MIDI_IO_STATUS    = 0x00000020
)

// Messages passed to the input callback.
const (
	MIM_OPEN      = 0x3C1
	MIM_CLOSE     = 0x3C2
	MIM_DATA      = 0x3C3
	MIM_LONGDATA  = 0x3C4
	MIM_ERROR     = 0x3C5
	MIM_LONGERROR = 0x3C6
	MIM_MOREDATA  = 0x3CC
)

// Error definitions for device handling.
var (
	ErrNoMIDIDevices     = errors.New("no MIDI devices found")
	ErrInvalidMIDIDevice = errors.New("invalid MIDI device")
	ErrInvalidHandle     = errors.New("invalid MIDI device handle")
)

type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

// ClientMid captures short MIDI messages through winmm.
type ClientMid struct {
	logger   contracts.Logger
	packets  atomic.Pointer[chan<- contracts.Packet]
	handle   HMIDIIN
	portConn bool
	started  bool
	mu       sync.Mutex
	callback uintptr
}

var (
	winmm                = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen       = winmm.NewProc("midiInOpen")
	procMidiInStart      = winmm.NewProc("midiInStart")
	procMidiInStop       = winmm.NewProc("midiInStop")
	procMidiInClose      = winmm.NewProc("midiInClose")
)

// NewMIDIClient creates a winmm client.
func NewMIDIClient(options *contracts.ClientOptions) (contracts.ClientMIDI, error) {
	options.Logger.Info("MIDI client created for Windows")
	return &ClientMid{logger: options.Logger}, nil
}

// ListDevices lists the winmm input devices.
func (m *ClientMid) ListDevices() ([]contracts.DeviceInfo, error) {
	r0, _, _ := procMidiInGetNumDevs.Call()
	numDevices := uint32(r0)
	if numDevices == 0 {
		m.logger.Warn(ErrNoMIDIDevices.Error())
		return nil, ErrNoMIDIDevices
	}

	devices := make([]contracts.DeviceInfo, 0, numDevices)
	for i := uint32(0); i < numDevices; i++ {
		var caps midiInCaps
		r1, _, _ := procMidiInGetDevCaps.Call(
			uintptr(i),
			uintptr(unsafe.Pointer(&caps)),
			unsafe.Sizeof(caps),
		)
		if r1 != 0 {
			m.logger.Warn("failed to read MIDI device capabilities", m.logger.Field().Int("deviceID", int(i)))
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		devices = append(devices, contracts.DeviceInfo{
			ID:           int(i),
			Name:         name,
			EntityName:   name,
			Manufacturer: fmt.Sprintf("MID: %d PID: %d", caps.wMid, caps.wPid),
		})
	}
	return devices, nil
}

// SelectDevice opens input device deviceID, closing any device already open.
func (m *ClientMid) SelectDevice(deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if deviceID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMIDIDevice, deviceID)
	}
	if m.portConn {
		if err := m.closeDevice(); err != nil {
			return fmt.Errorf("failed to close previous MIDI device: %w", err)
		}
	}

	m.callback = windows.NewCallback(midiInCallback)
	r1, _, err := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&m.handle)),
		uintptr(deviceID),
		m.callback,
		uintptr(unsafe.Pointer(m)),
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if r1 != 0 {
		m.logger.Error("failed to open MIDI device",
			m.logger.Field().Int("deviceID", deviceID),
			m.logger.Field().Error("error", err))
		return fmt.Errorf("%w: open device %d: %v", ErrInvalidMIDIDevice, deviceID, err)
	}

	m.portConn = true
	m.logger.Info("MIDI device connected", m.logger.Field().Int("deviceID", deviceID))
	if m.packets.Load() != nil {
		return m.start()
	}
	return nil
}

// StartCapture starts delivering packets to the channel.
func (m *ClientMid) StartCapture(packets chan<- contracts.Packet) {
	if packets == nil {
		m.logger.Error("StartCapture called with nil packet channel")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packets.Store(&packets)
	if !m.portConn {
		m.logger.Warn("capture armed; no MIDI device selected yet")
		return
	}
	if err := m.start(); err != nil {
		m.logger.Error("failed to start MIDI capture", m.logger.Field().Error("error", err))
	}
}

// start begins input on the open device. The caller holds mu.
func (m *ClientMid) start() error {
	if m.started {
		return nil
	}
	if m.handle == 0 {
		return ErrInvalidHandle
	}
	if r1, _, err := procMidiInStart.Call(uintptr(m.handle)); r1 != 0 {
		return fmt.Errorf("midiInStart: %v", err)
	}
	m.started = true
	m.logger.Info("MIDI capture started")
	return nil
}

// shortMessageLen returns the length of the short message starting with status.
func shortMessageLen(status byte) int {
	switch {
	case status < 0x80:
		return 0
	case status >= 0xF8, status == 0xF6:
		return 1
	case status&0xF0 == 0xC0, status&0xF0 == 0xD0, status == 0xF1, status == 0xF3:
		return 2
	}
	return 3
}

func midiInCallback(hMidiIn uintptr, wMsg uint32, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	m := (*ClientMid)(unsafe.Pointer(dwInstance))

	switch wMsg {
	case MIM_OPEN:
		m.logger.Debug("MIDI device opened")
	case MIM_CLOSE:
		m.logger.Debug("MIDI device closed")
	case MIM_DATA:
		raw := [3]byte{byte(dwParam1), byte(dwParam1 >> 8), byte(dwParam1 >> 16)}
		n := shortMessageLen(raw[0])
		if n == 0 {
			return 0
		}
		ch := m.packets.Load()
		if ch == nil {
			return 0
		}
		p := contracts.Packet{Timestamp: contracts.Now(), Data: append([]byte(nil), raw[:n]...)}
		select {
		case *ch <- p:
		default:
			m.logger.Warn("packet buffer full; dropping MIDI packet", m.logger.Field().Int("bytes", n))
		}
	case MIM_LONGDATA:
		m.logger.Debug("system exclusive buffer ignored")
	case MIM_ERROR, MIM_LONGERROR:
		m.logger.Warn("invalid MIDI message reported by driver", m.logger.Field().Uint64("msg", uint64(wMsg)))
	case MIM_MOREDATA:
		m.logger.Debug("received MIM_MOREDATA; ignored")
	default:
		m.logger.Warn("unknown MIDI callback message", m.logger.Field().Uint64("msg", uint64(wMsg)))
	}
	return 0
}

// Stop ends capture and closes the device.
func (m *ClientMid) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packets.Store(nil)
	if !m.portConn {
		return nil
	}
	if err := m.closeDevice(); err != nil {
		return fmt.Errorf("failed to stop MIDI capture: %w", err)
	}
	m.logger.Info("MIDI capture stopped and device closed")
	return nil
}

// closeDevice stops input and closes the handle. The caller holds mu.
func (m *ClientMid) closeDevice() error {
	if m.handle == 0 {
		return ErrInvalidHandle
	}
	if m.started {
		if r1, _, err := procMidiInStop.Call(uintptr(m.handle)); r1 != 0 {
			return fmt.Errorf("midiInStop: %v", err)
		}
		m.started = false
	}
	if r1, _, err := procMidiInClose.Call(uintptr(m.handle)); r1 != 0 {
		return fmt.Errorf("midiInClose: %v", err)
	}
	m.portConn = false
	m.handle = 0
	return nil
}
