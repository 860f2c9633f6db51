package config

// ConfigDiff describes what changed between two configs.
// Only fields the server can act on at runtime are tracked.
type ConfigDiff struct {
	// LogLevelChanged is safe to hot-apply.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssistantChanged means the persona, voice, or session tuning changed.
	// New sessions pick this up; sessions already running keep the old values.
	AssistantChanged bool

	// UpstreamChanged means the provider endpoint or model changed. This
	// cannot be hot-applied; it is surfaced so operators know a restart is
	// needed.
	UpstreamChanged bool

	// TryOnChanged means the try-on service endpoint or breaker tuning
	// changed. Like UpstreamChanged, it requires a restart.
	TryOnChanged bool
}

// Empty reports whether the diff records no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AssistantChanged && !d.UpstreamChanged && !d.TryOnChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Assistant != new.Assistant {
		d.AssistantChanged = true
	}

	if old.Upstream != new.Upstream {
		d.UpstreamChanged = true
	}

	if old.TryOn != new.TryOn {
		d.TryOnChanged = true
	}

	return d
}
