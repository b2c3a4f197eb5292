// Package report keeps the list of grammar reports and generates new ones by
// analysing every stored conversation.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/speakingmate/internal/completion"
	"github.com/MrWong99/speakingmate/internal/store"
)

// DefaultPerPage is the page size used when none is given.
const DefaultPerPage = 5

// ID identifies a report. Reports written by older clients carry numeric
// ids; those decode to their decimal string.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := sonic.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n float64
	if err := sonic.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("report: id must be a string or number: %w", err)
	}
	*id = ID(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// Report is one saved analysis. Reports are immutable once saved.
type Report struct {
	ID               ID                          `json:"id"`
	Timestamp        string                      `json:"timestamp"`
	ConversationInfo completion.ConversationInfo `json:"conversationInfo"`
	Errors           []completion.LanguageError  `json:"errors"`
	Summary          string                      `json:"summary"`
}

// Page is one page of the report list.
type Page struct {
	Reports     []Report `json:"reports"`
	CurrentPage int      `json:"currentPage"`
	TotalPages  int      `json:"totalPages"`
	TotalItems  int      `json:"totalItems"`
	PerPage     int      `json:"itemsPerPage"`
}

// Store holds the report list, newest first, persisted under
// [store.KeyReports]. It is safe for concurrent use.
type Store struct {
	store store.Store

	writeMu sync.Mutex
	mu      sync.RWMutex
	loaded  bool
	reports []Report
}

// NewStore returns an empty report Store over s.
func NewStore(s store.Store) *Store {
	return &Store{store: s}
}

// Load reads the persisted list once.
func (s *Store) Load(ctx context.Context) error {
	reports, _, err := store.Get[[]Report](ctx, s.store, store.KeyReports)
	if err != nil {
		return fmt.Errorf("report: load: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	s.loaded = true
	s.reports = append(s.reports, reports...)
	return nil
}

// List returns every report, newest first.
func (s *Store) List() []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.reports)
}

// Get returns the report with id.
func (s *Store) Get(id ID) (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.reports[i], true
	}
	return Report{}, false
}

// Save prepends r.
func (s *Store) Save(ctx context.Context, r Report) {
	s.SaveAll(ctx, []Report{r})
}

// SaveAll prepends rs, which must already be newest first, in one write.
func (s *Store) SaveAll(ctx context.Context, rs []Report) {
	if len(rs) == 0 {
		return
	}
	s.update(ctx, func(cur []Report) []Report {
		return append(slices.Clone(rs), cur...)
	})
}

// Delete removes the report with id and reports whether it existed. An
// unknown id writes nothing.
func (s *Store) Delete(ctx context.Context, id ID) bool {
	s.mu.RLock()
	found := s.indexLocked(id) >= 0
	s.mu.RUnlock()
	if !found {
		return false
	}
	removed := false
	s.update(ctx, func(cur []Report) []Report {
		return slices.DeleteFunc(cur, func(r Report) bool {
			if r.ID == id {
				removed = true
				return true
			}
			return false
		})
	})
	return removed
}

// Clear removes every report.
func (s *Store) Clear(ctx context.Context) {
	s.update(ctx, func([]Report) []Report { return nil })
}

// Page returns page (1-based) of the list with perPage items per page. The
// page number is clamped into range; perPage <= 0 uses [DefaultPerPage].
func (s *Store) Page(page, perPage int) Page {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.reports)
	pages := (total + perPage - 1) / perPage
	page = min(max(page, 1), max(pages, 1))
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	return Page{
		Reports:     slices.Clone(s.reports[start:end]),
		CurrentPage: page,
		TotalPages:  pages,
		TotalItems:  total,
		PerPage:     perPage,
	}
}

// update applies fn to the list and persists the result. The write is not
// cancelled with ctx once the list has changed in memory.
func (s *Store) update(ctx context.Context, fn func([]Report) []Report) {
	ctx = context.WithoutCancel(ctx)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.reports = fn(s.reports)
	if s.reports == nil {
		s.reports = []Report{}
	}
	snap := slices.Clone(s.reports)
	s.mu.Unlock()

	if err := store.Put(ctx, s.store, store.KeyReports, snap); err != nil {
		slog.Warn("report: persist reports", "err", err)
	}
}

func (s *Store) indexLocked(id ID) int {
	return slices.IndexFunc(s.reports, func(r Report) bool { return r.ID == id })
}
