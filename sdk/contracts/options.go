package contracts

// KindFilter limits which message kinds are passed on.
type KindFilter struct {
	Kinds []Kind // Kinds to keep. An empty filter keeps everything.
}

// Allows reports whether k passes the filter.
func (f *KindFilter) Allows(k Kind) bool {
	if f == nil || len(f.Kinds) == 0 {
		return true
	}
	for _, allowed := range f.Kinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// CoreMIDIConfig holds configuration for CoreMIDI.
type CoreMIDIConfig struct {
	ClientName string // Name of the MIDI client.
}

// PortConfig holds configuration for the gomidi port client.
type PortConfig struct {
	PortName string // Exact or partial input port name used by SelectDevice when non-empty.
}

// ClientOptions defines the configuration options for the MIDI client.
type ClientOptions struct {
	Logger         Logger          // Logger for logging events and errors.
	LogLevel       LogLevel        // Level of logging to use.
	LogFilePath    string          // File path for logging if file logging is enabled.
	CoreMIDIConfig *CoreMIDIConfig // Configuration specific to CoreMIDI.
	PortConfig     *PortConfig     // Configuration specific to gomidi ports.

	logLevelSet bool
}

// LogLevelSet reports whether WithLogLevel was applied.
func (o *ClientOptions) LogLevelSet() bool { return o.logLevelSet }

// Option is a function that modifies ClientOptions.
type Option func(*ClientOptions)

// WithLogger sets the logger for the MIDI client.
func WithLogger(l Logger) Option {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the MIDI client.
func WithLogLevel(level LogLevel) Option {
	return func(opts *ClientOptions) {
		opts.LogLevel = level
		opts.logLevelSet = true
	}
}

// WithLogFile sends the client logs to a file.
func WithLogFile(path string) Option {
	return func(opts *ClientOptions) {
		opts.LogFilePath = path
	}
}

// WithCoreMIDIConfig sets the CoreMIDI configuration for the MIDI client.
func WithCoreMIDIConfig(config CoreMIDIConfig) Option {
	return func(opts *ClientOptions) {
		opts.CoreMIDIConfig = &config
	}
}

// WithPortConfig sets the gomidi port configuration for the MIDI client.
func WithPortConfig(config PortConfig) Option {
	return func(opts *ClientOptions) {
		opts.PortConfig = &config
	}
}
