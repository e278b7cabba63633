package config

import "slices"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes (log level, stop phrases) are applied in place by the watcher's
// callback; session changes take effect on the next session start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StopPhrasesChanged is true when the stop phrase list differs. The
	// running detector can be swapped without reconnecting.
	StopPhrasesChanged bool
	NewStopPhrases     []string

	// SessionChanged is true when provider, model, voice, instructions, or
	// transcription settings differ. These only apply to a newly started
	// session.
	SessionChanged bool

	// ReconnectChanged is true when the reconnect policy differs.
	ReconnectChanged bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.StopPhrasesChanged || d.SessionChanged || d.ReconnectChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Session.StopPhrases, new.Session.StopPhrases) {
		d.StopPhrasesChanged = true
		d.NewStopPhrases = slices.Clone(new.Session.StopPhrases)
	}

	if old.Provider != new.Provider {
		d.SessionChanged = true
	}
	if old.Session.ConnectTimeout != new.Session.ConnectTimeout {
		d.SessionChanged = true
	}

	if old.Session.Reconnect != new.Session.Reconnect {
		d.ReconnectChanged = true
	}

	return d
}
