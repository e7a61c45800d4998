package config

// ConfigDiff describes what changed between two configs. Hot-applicable
// changes (log level, filter parameters) are applied in place; device or
// engine changes require a stream restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FilterChanged is set when the boot filter section differs. The new
	// parameters can be applied through the engine without touching the stream.
	FilterChanged bool

	// DevicesChanged is set when the configured device pair differs and a
	// stream restart is needed to take effect.
	DevicesChanged bool

	// EngineChanged is set when sample rate, block size, or backend differ.
	// These cannot be hot-applied; the change takes effect on the next boot.
	EngineChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Filter != new.Filter {
		d.FilterChanged = true
	}

	if old.Audio.InputDevice != new.Audio.InputDevice ||
		old.Audio.OutputDevice != new.Audio.OutputDevice {
		d.DevicesChanged = true
	}

	if old.Audio.Backend != new.Audio.Backend ||
		old.Audio.SampleRate != new.Audio.SampleRate ||
		old.Audio.BlockSize != new.Audio.BlockSize {
		d.EngineChanged = true
	}

	return d
}
