package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that can
// be safely hot-reloaded on a running pipeline are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	KeywordsChanged   bool
	NewKeywords       []string
	ThresholdsChanged bool
	LogLevelChanged   bool
	NewLogLevel       LogLevel
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Keywords.Watch, new.Keywords.Watch) {
		d.KeywordsChanged = true
		d.NewKeywords = slices.Clone(new.Keywords.Watch)
	}

	if old.Keywords.FuzzyThreshold != new.Keywords.FuzzyThreshold ||
		old.Keywords.PhoneticThreshold != new.Keywords.PhoneticThreshold {
		d.ThresholdsChanged = true
	}

	return d
}
