package contact

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/speakingmate/internal/store"
)

// Groups partitions the registry for display. Every contact appears in
// exactly one group.
type Groups struct {
	Favorites []Contact `json:"favorites"`
	Default   []Contact `json:"default"`
	Custom    []Contact `json:"custom"`
}

// Registry merges built-in and custom contacts and tracks favorites. It is
// safe for concurrent use.
type Registry struct {
	store    store.Store
	builtins []Contact

	// writeMu orders persistence so the last mutation is the last write.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	loaded    bool
	all       []Contact
	favorites []ID
}

// NewRegistry returns a Registry over s. When builtins is nil the shipped
// [Builtins] are used. The registry holds only the built-ins until Load.
func NewRegistry(s store.Store, builtins []Contact) *Registry {
	if builtins == nil {
		builtins = Builtins()
	}
	return &Registry{
		store:    s,
		builtins: slices.Clone(builtins),
		all:      slices.Clone(builtins),
	}
}

// Load appends the persisted custom contacts after the built-ins and reads
// the favorites set. Entries colliding with an existing id are dropped. Load
// is idempotent once it has succeeded.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}

	custom, _, err := store.Get[[]Contact](ctx, r.store, store.KeyCustomContacts)
	if err != nil {
		return fmt.Errorf("contact: load custom contacts: %w", err)
	}
	favorites, _, err := store.Get[[]ID](ctx, r.store, store.KeyFavorites)
	if err != nil {
		return fmt.Errorf("contact: load favorites: %w", err)
	}

	all := slices.Clone(r.builtins)
	for _, c := range custom {
		if c.ID == "" || indexOf(all, c.ID) >= 0 {
			slog.Warn("contact: dropping persisted contact with conflicting id", "id", c.ID, "name", c.Name)
			continue
		}
		all = append(all, c)
	}
	r.all = all
	r.favorites = dedupe(favorites)
	r.loaded = true
	return nil
}

// Create validates c, appends it, and persists the custom subset. An empty
// id is filled in with a generated one. The stored contact is returned.
func (r *Registry) Create(ctx context.Context, c Contact) (Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Contact{}, ErrEmptyName
	}
	if c.ID == "" {
		gen, err := NewFromDraft(Draft{Name: c.Name})
		if err != nil {
			return Contact{}, err
		}
		c.ID = gen.ID
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if indexOf(r.all, c.ID) >= 0 {
		r.mu.Unlock()
		return Contact{}, fmt.Errorf("%w: %q", ErrDuplicateID, c.ID)
	}
	r.all = append(r.all, c)
	custom := r.customLocked()
	r.mu.Unlock()

	if err := store.Put(ctx, r.store, store.KeyCustomContacts, custom); err != nil {
		slog.Warn("contact: persist custom contacts", "err", err)
	}
	return c, nil
}

// ToggleFavorite adds id to the favorites set or removes it, persists the
// set, and returns whether id is now a favorite.
func (r *Registry) ToggleFavorite(ctx context.Context, id ID) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	var now bool
	if i := slices.Index(r.favorites, id); i >= 0 {
		r.favorites = slices.Delete(r.favorites, i, i+1)
	} else {
		r.favorites = append(r.favorites, id)
		now = true
	}
	favs := slices.Clone(r.favorites)
	r.mu.Unlock()

	if err := store.Put(ctx, r.store, store.KeyFavorites, favs); err != nil {
		slog.Warn("contact: persist favorites", "err", err)
	}
	return now
}

// IsFavorite reports whether id is in the favorites set.
func (r *Registry) IsFavorite(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.favorites, id)
}

// Get returns the contact with id.
func (r *Registry) Get(id ID) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := indexOf(r.all, id); i >= 0 {
		return r.all[i], true
	}
	return Contact{}, false
}

// All returns every contact, built-ins first, in registry order.
func (r *Registry) All() []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.all)
}

// Custom returns the contacts that are not built-ins.
func (r *Registry) Custom() []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.customLocked()
}

// IsBuiltin reports whether id names a shipped character.
func (r *Registry) IsBuiltin(id ID) bool {
	return indexOf(r.builtins, id) >= 0
}

// GroupForDisplay partitions the registry: favorites in registry order, then
// the remaining built-ins, then the remaining custom contacts.
func (r *Registry) GroupForDisplay() Groups {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := Groups{Favorites: []Contact{}, Default: []Contact{}, Custom: []Contact{}}
	for _, c := range r.all {
		switch {
		case slices.Contains(r.favorites, c.ID):
			g.Favorites = append(g.Favorites, c)
		case indexOf(r.builtins, c.ID) >= 0:
			g.Default = append(g.Default, c)
		default:
			g.Custom = append(g.Custom, c)
		}
	}
	return g
}

func (r *Registry) customLocked() []Contact {
	out := make([]Contact, 0, len(r.all))
	for _, c := range r.all {
		if indexOf(r.builtins, c.ID) < 0 {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(cs []Contact, id ID) int {
	return slices.IndexFunc(cs, func(c Contact) bool { return c.ID == id })
}

func dedupe(ids []ID) []ID {
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
