package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/speakingmate/internal/config"
	"github.com/MrWong99/speakingmate/pkg/provider/llm"
	llmmock "github.com/MrWong99/speakingmate/pkg/provider/llm/mock"
	"github.com/MrWong99/speakingmate/pkg/provider/stt"
	sttmock "github.com/MrWong99/speakingmate/pkg/provider/stt/mock"
)

func TestRegistry_CreatePassesEntry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return &llmmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "mock", Model: "tiny", APIKey: "k"}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM returned nil provider")
	}
	if got.Model != "tiny" || got.APIKey != "k" {
		t.Errorf("factory saw %+v", got)
	}
}

func TestRegistry_NotRegisteredCrossKind(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	// A name registered for one kind does not leak into another.
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "mock"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad options")
	reg := config.NewRegistry()
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("CreateLLM = %v, want factory error", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, name := range []string{"openai", "anyllm", "mock"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	}

	if got, want := reg.Names("llm"), []string{"anyllm", "mock", "openai"}; !slices.Equal(got, want) {
		t.Errorf("Names(llm) = %v, want %v", got, want)
	}
	if got := reg.Names("tts"); len(got) != 0 {
		t.Errorf("Names(tts) = %v, want empty", got)
	}
	if got := reg.Names("vad"); got != nil {
		t.Errorf("Names(vad) = %v, want nil", got)
	}
}
