package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names every other changed section. These take effect
	// only after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("server.trace_sample_ratio", old.Server.TraceSampleRatio != new.Server.TraceSampleRatio)
	restart("providers.llm", !entryEqual(old.Providers.LLM, new.Providers.LLM))
	restart("providers.llm_fallbacks", !slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, entryEqual))
	restart("providers.stt", !entryEqual(old.Providers.STT, new.Providers.STT))
	restart("providers.tts", !entryEqual(old.Providers.TTS, new.Providers.TTS))
	restart("storage", old.Storage != new.Storage)
	restart("chat", old.Chat != new.Chat)
	restart("characters", !slices.Equal(old.Characters, new.Characters))
	restart("resilience", old.Resilience != new.Resilience)
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual compares provider entries. Options are compared by key set and
// formatted value, which is enough to notice an edit.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
