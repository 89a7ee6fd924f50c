package midi

import (
	"errors"
	"testing"

	"github.com/leandrodaf/midimapper/internal/logger/loggertest"
	"github.com/leandrodaf/midimapper/internal/midi/midiport"
	"github.com/leandrodaf/midimapper/sdk/contracts"
)

func TestApplyDefaultOptions(t *testing.T) {
	log, logs := loggertest.New()
	options, err := applyDefaultOptions(contracts.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	if options.LogLevel != contracts.InfoLevel {
		t.Errorf("LogLevel = %v", options.LogLevel)
	}
	if options.CoreMIDIConfig.ClientName != DefaultClientName {
		t.Errorf("ClientName = %q", options.CoreMIDIConfig.ClientName)
	}
	if options.PortConfig == nil {
		t.Error("PortConfig not defaulted")
	}

	log.Debug("hidden")
	if logs.FilterMessage("hidden").Len() != 0 {
		t.Error("debug entry logged at the default level")
	}
}

func TestApplyDefaultOptionsKeepsExplicitValues(t *testing.T) {
	log, logs := loggertest.New()
	options, _ := applyDefaultOptions(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.DebugLevel),
		contracts.WithCoreMIDIConfig(contracts.CoreMIDIConfig{ClientName: "rig"}),
		contracts.WithPortConfig(contracts.PortConfig{PortName: "LPD8"}),
	)
	if options.LogLevel != contracts.DebugLevel || options.CoreMIDIConfig.ClientName != "rig" || options.PortConfig.PortName != "LPD8" {
		t.Fatalf("options = %+v", options)
	}
	log.Debug("shown")
	if logs.FilterMessage("shown").Len() != 1 {
		t.Error("explicit debug level not applied")
	}
}

func TestNewClientFor(t *testing.T) {
	log, _ := loggertest.New()
	options, _ := applyDefaultOptions(contracts.WithLogger(log))

	if _, err := newClientFor("js", &options); !errors.Is(err, ErrUnsupportedOS) {
		t.Fatalf("js: err = %v", err)
	}

	c, err := newClientFor("linux", &options)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*midiport.Client); !ok {
		t.Fatalf("linux client = %T", c)
	}

	options.PortConfig.PortName = "LPD8"
	c, err = newClientFor("windows", &options)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*midiport.Client); !ok {
		t.Fatalf("named port on windows = %T", c)
	}
}
