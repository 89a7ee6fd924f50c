//go:build cgo

package main

// Registers the RtMidi port driver used by the gomidi port client.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
