package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anyllm", "mock"},
	"stt": {"deepgram", "mock"},
	"tts": {"elevenlabs", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands "${VAR}" references
// in provider keys and the Postgres DSN, applies defaults and validates the
// result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets replaces environment references in credential fields.
func expandSecrets(cfg *Config) {
	p := &cfg.Providers
	for _, e := range []*ProviderEntry{&p.LLM, &p.STT, &p.TTS} {
		e.APIKey = os.ExpandEnv(e.APIKey)
	}
	for i := range p.LLMFallbacks {
		p.LLMFallbacks[i].APIKey = os.ExpandEnv(p.LLMFallbacks[i].APIKey)
	}
	cfg.Storage.PostgresDSN = os.ExpandEnv(cfg.Storage.PostgresDSN)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be within [0, 1]", r))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks is set but providers.llm is not configured"))
		} else {
			slog.Warn("no LLM provider configured; replies, suggestions and reports will fail with a configuration error")
		}
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StorageFile && cfg.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required when backend is file"))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
	}

	// Chat
	if cfg.Chat.SpeakDelay < 0 {
		errs = append(errs, fmt.Errorf("chat.speak_delay %s must not be negative", cfg.Chat.SpeakDelay))
	}
	if cfg.Chat.PreviewLength < 0 {
		errs = append(errs, fmt.Errorf("chat.preview_length %d must not be negative", cfg.Chat.PreviewLength))
	}
	if cfg.Chat.ReportConcurrency < 0 {
		errs = append(errs, fmt.Errorf("chat.report_concurrency %d must not be negative", cfg.Chat.ReportConcurrency))
	}
	if cfg.Chat.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.history_limit %d must not be negative", cfg.Chat.HistoryLimit))
	}

	// Characters
	idsSeen := make(map[string]int, len(cfg.Characters))
	for i, c := range cfg.Characters {
		prefix := fmt.Sprintf("characters[%d]", i)
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[c.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of characters[%d]", prefix, c.ID, prev))
			}
			idsSeen[c.ID] = i
		}
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
