// Package store provides the local key-value store: named collections of JSON
// records with secondary indexes, backed by SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Collection names a record collection.
type Collection string

const (
	Bots     Collection = "bots"
	Memories Collection = "memories"
	Secrets  Collection = "secrets"
)

// Index names a secondary index on a collection.
type Index string

const (
	// ByUpdatedAt indexes bots by their updatedAt timestamp.
	ByUpdatedAt Index = "updatedAt"
	// ByBotType indexes memories by the composite (botId, type).
	ByBotType Index = "botId_type"
)

var (
	// ErrClosed is returned by operations on a store that is not open.
	ErrClosed = errors.New("store is closed")
	// ErrUnavailable marks storage conditions such as a full disk, a
	// read-only file or a lock held by another process.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrUnknownCollection is returned for a collection with no schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex is returned for an index the collection does not define.
	ErrUnknownIndex = errors.New("unknown index")
	// ErrInvalidRecord is returned when a record has no key or a value that
	// is not a JSON object.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is one stored value with its primary key.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// KeyRange selects index entries. The zero value matches everything.
type KeyRange struct {
	only      []any
	lower     []any
	upper     []any
	lowerOpen bool
	upperOpen bool
}

// Only matches entries whose leading index columns equal vals.
// Passing fewer values than the index has columns matches on the prefix.
func Only(vals ...any) KeyRange {
	return KeyRange{only: vals}
}

// Bound matches entries between lower and upper.
func Bound(lower, upper []any, lowerOpen, upperOpen bool) KeyRange {
	return KeyRange{lower: lower, upper: upper, lowerOpen: lowerOpen, upperOpen: upperOpen}
}

// LowerBound matches entries at or above lower (strictly above when open).
func LowerBound(lower []any, open bool) KeyRange {
	return KeyRange{lower: lower, lowerOpen: open}
}

// UpperBound matches entries at or below upper (strictly below when open).
func UpperBound(upper []any, open bool) KeyRange {
	return KeyRange{upper: upper, upperOpen: open}
}

// KV is the record-level API shared by the store and its transactions.
type KV interface {
	// Put inserts or replaces a record by primary key.
	Put(ctx context.Context, c Collection, rec Record) error

	// Get returns the record for key. A missing key is found=false, not an error.
	Get(ctx context.Context, c Collection, key string) (rec Record, found bool, err error)

	// QueryByIndex returns matching records in index order, then insertion
	// order. No match yields an empty slice.
	QueryByIndex(ctx context.Context, c Collection, idx Index, r KeyRange) ([]Record, error)

	// DeleteMany removes the given keys. Missing keys are ignored.
	DeleteMany(ctx context.Context, c Collection, keys []string) error
}

// Store is the full local store API.
type Store interface {
	KV

	// Update runs fn in a single transaction. fn's writes commit together or
	// not at all.
	Update(ctx context.Context, fn func(tx KV) error) error

	// GetMeta reads a flag or setting kept outside the record collections.
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// SetMeta writes a flag or setting.
	SetMeta(ctx context.Context, key, value string) error

	// Close closes the store.
	Close() error
}

// TimeKey formats t for use as an index value. It sorts lexically in time order.
func TimeKey(t time.Time) string {
	return t.UTC().Format(timeKeyLayout)
}

const timeKeyLayout = "2006-01-02T15:04:05.000000000Z"
