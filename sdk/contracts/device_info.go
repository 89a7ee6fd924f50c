package contracts

// DeviceInfo contains information about a MIDI input device.
type DeviceInfo struct {
	ID           int    // Index accepted by ClientMIDI.SelectDevice.
	Name         string // Device name.
	Manufacturer string // Device manufacturer, when the platform reports one.
	EntityName   string // Name of the entity to which the device belongs.
}
