package contact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/speakingmate/internal/store"
)

func newLoaded(t *testing.T, seed map[string]string) (*Registry, *store.MemStore) {
	t.Helper()
	ms := store.NewMemStore(seed)
	r := NewRegistry(ms, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r, ms
}

func TestRegistry_LoadMergesCustomAfterBuiltins(t *testing.T) {
	t.Parallel()

	r, _ := newLoaded(t, map[string]string{
		store.KeyCustomContacts: `[{"id":"c1","name":"Chef","avatar":"x","color":"#fff","personality":"cooks"},
			{"id":"mike","name":"Impostor"}]`,
		store.KeyFavorites: `["c1","c1","gone"]`,
	})

	all := r.All()
	if len(all) != len(Builtins())+1 {
		t.Fatalf("All = %d contacts, want builtins + 1", len(all))
	}
	if all[len(all)-1].ID != "c1" {
		t.Errorf("last contact = %q, want c1", all[len(all)-1].ID)
	}
	if c, _ := r.Get("mike"); c.Name != "mike" {
		t.Errorf("builtin mike overridden by persisted entry: %+v", c)
	}
	if !r.IsFavorite("c1") || !r.IsFavorite("gone") {
		t.Error("favorites not loaded")
	}
}

func TestRegistry_LoadIdempotent(t *testing.T) {
	t.Parallel()

	r, ms := newLoaded(t, map[string]string{
		store.KeyCustomContacts: `[{"id":"c1","name":"Chef"}]`,
	})
	_ = ms.Write(context.Background(), store.KeyCustomContacts, `[]`)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := r.Get("c1"); !ok {
		t.Error("second Load re-read the store")
	}
}

func TestRegistry_CorruptBlobsUseDefaults(t *testing.T) {
	t.Parallel()

	r, _ := newLoaded(t, map[string]string{
		store.KeyCustomContacts: `{not json`,
		store.KeyFavorites:      `42`,
	})
	if len(r.All()) != len(Builtins()) {
		t.Errorf("All = %d, want only builtins", len(r.All()))
	}
}

func TestRegistry_CreatePersistsOnlyCustom(t *testing.T) {
	t.Parallel()

	r, ms := newLoaded(t, nil)
	ctx := context.Background()

	c, err := r.Create(ctx, Contact{ID: "chef", Name: "  Gordon  "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Name != "Gordon" {
		t.Errorf("name = %q, want trimmed", c.Name)
	}

	saved, ok, err := store.Get[[]Contact](ctx, ms, store.KeyCustomContacts)
	if err != nil || !ok {
		t.Fatalf("Get custom: ok=%v err=%v", ok, err)
	}
	if len(saved) != 1 || saved[0].ID != "chef" {
		t.Errorf("persisted custom = %+v, want only chef", saved)
	}
	if r.IsBuiltin("chef") {
		t.Error("created contact reported as builtin")
	}
}

func TestRegistry_CreateRejects(t *testing.T) {
	t.Parallel()

	r, ms := newLoaded(t, nil)
	ctx := context.Background()

	if _, err := r.Create(ctx, Contact{Name: "   "}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty name: err = %v", err)
	}
	if _, err := r.Create(ctx, Contact{ID: "harvey", Name: "Harvey 2"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate: err = %v", err)
	}
	if ms.Writes() != 0 {
		t.Errorf("writes = %d, want 0 for rejected creates", ms.Writes())
	}
}

func TestRegistry_CreateGeneratesID(t *testing.T) {
	t.Parallel()

	r, _ := newLoaded(t, nil)
	c, err := r.Create(context.Background(), Contact{Name: "Nova"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(c.ID, "custom_") {
		t.Errorf("id = %q", c.ID)
	}
}

func TestRegistry_ToggleFavorite(t *testing.T) {
	t.Parallel()

	r, ms := newLoaded(t, nil)
	ctx := context.Background()

	if !r.ToggleFavorite(ctx, "donna") {
		t.Fatal("first toggle should favorite")
	}
	favs, _, _ := store.Get[[]string](ctx, ms, store.KeyFavorites)
	if len(favs) != 1 || favs[0] != "donna" {
		t.Errorf("persisted favorites = %v", favs)
	}
	if r.ToggleFavorite(ctx, "donna") {
		t.Fatal("second toggle should unfavorite")
	}
	if r.IsFavorite("donna") {
		t.Error("donna still favorite")
	}
}

func TestRegistry_GroupForDisplayIsPartition(t *testing.T) {
	t.Parallel()

	r, _ := newLoaded(t, map[string]string{
		store.KeyCustomContacts: `[{"id":"c1","name":"One"},{"id":"c2","name":"Two"}]`,
	})
	ctx := context.Background()

	favoriteSets := [][]string{
		nil,
		{"mike"},
		{"c2", "harvey"},
		{"removed-id"},
		{"koolkishan", "harvey", "donna", "mike", "robert", "jessica", "c1", "c2"},
	}
	for _, favs := range favoriteSets {
		for _, id := range favs {
			r.ToggleFavorite(ctx, id)
		}

		g := r.GroupForDisplay()
		seen := map[string]int{}
		for _, group := range [][]Contact{g.Favorites, g.Default, g.Custom} {
			for _, c := range group {
				seen[c.ID]++
			}
		}
		all := r.All()
		if len(seen) != len(all) {
			t.Errorf("favorites %v: %d distinct ids grouped, want %d", favs, len(seen), len(all))
		}
		for _, c := range all {
			if seen[c.ID] != 1 {
				t.Errorf("favorites %v: %q appears %d times", favs, c.ID, seen[c.ID])
			}
		}
		for _, c := range g.Custom {
			if r.IsBuiltin(c.ID) {
				t.Errorf("builtin %q in custom group", c.ID)
			}
		}

		for _, id := range favs {
			r.ToggleFavorite(ctx, id)
		}
	}
}

func TestRegistry_FavoritesKeepRegistryOrder(t *testing.T) {
	t.Parallel()

	r, _ := newLoaded(t, nil)
	ctx := context.Background()
	r.ToggleFavorite(ctx, "jessica")
	r.ToggleFavorite(ctx, "harvey")

	g := r.GroupForDisplay()
	if len(g.Favorites) != 2 || g.Favorites[0].ID != "harvey" || g.Favorites[1].ID != "jessica" {
		t.Errorf("favorites = %+v, want harvey then jessica", g.Favorites)
	}
}

func TestPersonality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                       string
		myRole, characterRole, top string
		want                       string
	}{
		{
			name: "defaults",
			want: "You are a helpful assistant. The user's role is: someone learning English. Focus conversations on: general English practice.",
		},
		{
			name:          "all given",
			myRole:        "a job applicant",
			characterRole: "an interviewer",
			top:           "job interviews",
			want: "You are an interviewer. The user's role is: a job applicant. Focus conversations on: job interviews." +
				" Stay in character as an interviewer and draw from relevant knowledge and experiences." +
				" Guide conversations toward topics related to job interviews.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Personality(tc.myRole, tc.characterRole, tc.top); got != tc.want {
				t.Errorf("Personality =\n%q\nwant\n%q", got, tc.want)
			}
		})
	}
}

func TestNewFromDraft(t *testing.T) {
	t.Parallel()

	c, err := NewFromDraft(Draft{Name: " Ava ", Topic: "travel"})
	if err != nil {
		t.Fatalf("NewFromDraft: %v", err)
	}
	if c.Name != "Ava" || c.Avatar != DefaultAvatar || c.Color != DefaultColor {
		t.Errorf("contact = %+v", c)
	}
	if !strings.HasSuffix(c.Personality, "Guide conversations toward topics related to travel.") {
		t.Errorf("personality = %q", c.Personality)
	}
	if _, err := NewFromDraft(Draft{}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty draft: err = %v", err)
	}
}
