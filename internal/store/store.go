// Package store is the persistent key-value layer behind every durable piece
// of application state. Values are opaque string blobs addressed by a small
// set of fixed logical keys; owners decode them with [Get] and encode them
// with [Put].
//
// Three backends are provided: [MemStore] for tests and ephemeral runs,
// [FileStore] for a single-user desktop install, and [PostgresStore] for a
// hosted deployment.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
)

// Logical keys under which application state is persisted.
const (
	KeyConversations  = "allChatMessages"
	KeyCustomContacts = "customContacts"
	KeyFavorites      = "favorites"
	KeyReports        = "english_app_reports"
)

// Store reads and writes string blobs by key.
//
// Absence of a key is reported as ok == false with a nil error. Implementations
// must be safe for concurrent use.
type Store interface {
	Read(ctx context.Context, key string) (value string, ok bool, err error)
	Write(ctx context.Context, key, value string) error
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Get reads key from s and decodes it as JSON into a T. A missing key yields
// the zero T and ok == false. A blob that fails to decode is logged and
// treated as missing, so a corrupt entry never blocks startup.
func Get[T any](ctx context.Context, s Store, key string) (v T, ok bool, err error) {
	raw, ok, err := s.Read(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := sonic.UnmarshalString(raw, &v); err != nil {
		slog.Warn("store: discarding undecodable value", "key", key, "err", err)
		var zero T
		return zero, false, nil
	}
	return v, true, nil
}

// Put encodes v as JSON and writes it under key.
func Put[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.Write(ctx, key, raw)
}
