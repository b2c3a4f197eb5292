package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/speakingmate/pkg/provider/llm"
	"github.com/MrWong99/speakingmate/pkg/provider/stt"
	"github.com/MrWong99/speakingmate/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a
// provider no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type P from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is the per-kind half of a [Registry].
type factories[P any] struct {
	kind string
	byID map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, byID: make(map[string]Factory[P])}
}

// create looks the factory up under r's read lock and calls it without the
// lock, so factories may take their time.
func create[P any](r *Registry, f *factories[P], entry ProviderEntry) (P, error) {
	r.mu.RLock()
	build, ok := f.byID[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

// Registry resolves the provider names used in [ProvidersConfig] to
// constructors. main registers the built-in providers at startup; tests
// register mocks. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		stt: newFactories[stt.Provider]("stt"),
		tts: newFactories[tts.Provider]("tts"),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byID[name] = f
	r.mu.Unlock()
}

// RegisterSTT registers a speech-to-text factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byID[name] = f
	r.mu.Unlock()
}

// RegisterTTS registers a text-to-speech factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.byID[name] = f
	r.mu.Unlock()
}

// CreateLLM builds the LLM provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, &r.llm, entry)
}

// CreateSTT builds the speech-to-text provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, &r.stt, entry)
}

// CreateTTS builds the text-to-speech provider entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, &r.tts, entry)
}

// Names returns the sorted provider names registered for kind ("llm", "stt"
// or "tts"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.llm.kind:
		return slices.Sorted(maps.Keys(r.llm.byID))
	case r.stt.kind:
		return slices.Sorted(maps.Keys(r.stt.byID))
	case r.tts.kind:
		return slices.Sorted(maps.Keys(r.tts.byID))
	}
	return nil
}
