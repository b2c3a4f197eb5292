package report

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakingmate/internal/chat"
	"github.com/MrWong99/speakingmate/internal/completion"
	"github.com/MrWong99/speakingmate/internal/contact"
	"github.com/MrWong99/speakingmate/internal/observe"
)

// UnknownContact names a conversation whose contact no longer exists.
const UnknownContact = "Unknown Contact"

const defaultConcurrency = 3

// Conversations is the read side of the conversation store.
type Conversations interface {
	Snapshot() map[string][]chat.Message
}

// Contacts resolves contact ids to display names.
type Contacts interface {
	Get(id contact.ID) (contact.Contact, bool)
}

// GeneratorOption configures a [Generator].
type GeneratorOption func(*Generator)

// WithConcurrency bounds how many analyses run at once. Default: 3.
func WithConcurrency(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithClock sets the clock used for report timestamps.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// Generator scans every stored conversation and saves a report for each one
// whose analysis found at least one error.
type Generator struct {
	chats       Conversations
	contacts    Contacts
	completion  completion.Service
	reports     *Store
	concurrency int
	now         func() time.Time
	metrics     *observe.Metrics
}

// NewGenerator returns a Generator saving into reports.
func NewGenerator(chats Conversations, contacts Contacts, svc completion.Service, reports *Store, opts ...GeneratorOption) *Generator {
	g := &Generator{
		chats:       chats,
		contacts:    contacts,
		completion:  svc,
		reports:     reports,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

type job struct {
	contactID string
	name      string
	date      string
	texts     []string
}

// Generate analyses every non-empty conversation and prepends a report for
// each analysis with errors. A failed analysis is logged and skipped; it
// never aborts the batch. The saved reports are returned newest first.
//
// Analyses are not cancelled with ctx: a batch that has started runs to
// completion and is saved even if the caller goes away.
func (g *Generator) Generate(ctx context.Context) ([]Report, error) {
	ctx = context.WithoutCancel(ctx)
	snap := g.chats.Snapshot()
	ids := make([]string, 0, len(snap))
	for id, msgs := range snap {
		if len(msgs) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	jobs := make([]job, len(ids))
	for i, id := range ids {
		msgs := snap[id]
		name := UnknownContact
		if c, ok := g.contacts.Get(id); ok {
			name = c.Name
		}
		jobs[i] = job{contactID: id, name: name, date: msgs[0].Timestamp, texts: chat.UserTexts(msgs)}
	}

	results := make([]*completion.Analysis, len(jobs))
	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, j := range jobs {
		eg.Go(func() error {
			jctx := observe.WithContact(ctx, j.contactID)
			a, err := g.completion.Analyze(jctx, j.texts, j.name, j.date)
			if err != nil {
				observe.Logger(jctx).Warn("report: analysis failed, skipping conversation", "err", err)
				return nil
			}
			results[i] = &a
			return nil
		})
	}
	_ = eg.Wait()

	// Each report is prepended as it is found, so the last conversation
	// scanned ends up first.
	var saved []Report
	for _, a := range results {
		if a == nil || len(a.Errors) == 0 {
			continue
		}
		saved = append([]Report{{
			ID:               ID(uuid.NewString()),
			Timestamp:        g.now().UTC().Format(chat.TimestampLayout),
			ConversationInfo: a.ConversationInfo,
			Errors:           a.Errors,
			Summary:          a.Summary,
		}}, saved...)
	}
	g.reports.SaveAll(ctx, saved)
	g.metrics.ReportsGenerated.Add(ctx, int64(len(saved)))
	return saved, nil
}
