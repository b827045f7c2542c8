// Package memlog implements the per-bot memory log: typed, append-only
// entries with an overwrite operation that replaces every entry of a type.
//
// Overwrite is read, delete, append. Only the delete step is atomic, so two
// concurrent overwrites of the same (bot, type) can interleave; the last
// append wins and a delete may remove an entry the other caller just wrote.
// The log assumes a single writer per bot.
package memlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/model"
	"github.com/memorykeep/memorykeep/internal/store"
)

var (
	// ErrInvalidType is returned for a memory type outside the closed set.
	ErrInvalidType = errors.New("invalid memory type")
	// ErrInvalidBot is returned when no bot id is given.
	ErrInvalidBot = errors.New("bot id is required")
)

// Mirror receives successful local writes. Calls run on their own goroutine
// and are never awaited.
type Mirror interface {
	Append(ctx context.Context, e model.MemoryEntry)
	Overwrite(ctx context.Context, e model.MemoryEntry)
}

// Log is the memory log over a store.
type Log struct {
	kv     store.Store
	mirror Mirror
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entropy io.Reader

	inflight sync.WaitGroup
}

// Option configures a Log.
type Option func(*Log)

// WithMirror attaches a best-effort remote mirror.
func WithMirror(m Mirror) Option {
	return func(l *Log) { l.mirror = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log.
func New(kv store.Store, logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		kv:      kv,
		logger:  logger.With(zap.String("component", "memlog")),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// newID derives an entry id from bot, type and time. The ULID suffix keeps
// ids unique and ordered for appends within the same millisecond.
func (l *Log) newID(botID string, typ model.MemoryType, at time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("%s_%s_%s", botID, typ, ulid.MustNew(ulid.Timestamp(at), l.entropy))
}

func validate(botID string, typ model.MemoryType) error {
	if botID == "" {
		return ErrInvalidBot
	}
	if !model.ValidMemoryTypes[typ] {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return nil
}

// Append stores a new entry.
func (l *Log) Append(ctx context.Context, botID string, typ model.MemoryType, content any) (*model.MemoryEntry, error) {
	e, err := l.append(ctx, botID, typ, content)
	if err != nil {
		return nil, err
	}
	l.mirrorAsync(func() { l.mirror.Append(context.WithoutCancel(ctx), *e) })
	return e, nil
}

func (l *Log) append(ctx context.Context, botID string, typ model.MemoryType, content any) (*model.MemoryEntry, error) {
	if err := validate(botID, typ); err != nil {
		return nil, err
	}
	raw, err := model.EncodeContent(content)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	e := &model.MemoryEntry{
		ID:        l.newID(botID, typ, now),
		BotID:     botID,
		Type:      typ,
		Content:   raw,
		Timestamp: now,
	}
	if err := put(ctx, l.kv, *e); err != nil {
		return nil, fmt.Errorf("append %s/%s: %w", botID, typ, err)
	}
	return e, nil
}

func (l *Log) mirrorAsync(fn func()) {
	if l.mirror == nil {
		return
	}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		fn()
	}()
}

// Wait blocks until in-flight mirror calls return. Short-lived processes
// call it before exiting.
func (l *Log) Wait() {
	l.inflight.Wait()
}

// Insert stores an entry as given, keeping its id and timestamp. Missing ids
// and timestamps are filled in. It is used to import existing records.
func (l *Log) Insert(ctx context.Context, e model.MemoryEntry) (*model.MemoryEntry, error) {
	if err := validate(e.BotID, e.Type); err != nil {
		return nil, err
	}
	if len(e.Content) == 0 || !json.Valid(e.Content) {
		return nil, fmt.Errorf("insert %s/%s: content is not valid JSON", e.BotID, e.Type)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.ID == "" {
		e.ID = l.newID(e.BotID, e.Type, e.Timestamp)
	}
	if err := put(ctx, l.kv, e); err != nil {
		return nil, fmt.Errorf("insert %s: %w", e.ID, err)
	}
	return &e, nil
}

// ListByType returns every entry of one type for a bot, oldest first.
func (l *Log) ListByType(ctx context.Context, botID string, typ model.MemoryType) ([]model.MemoryEntry, error) {
	if err := validate(botID, typ); err != nil {
		return nil, err
	}
	recs, err := l.kv.QueryByIndex(ctx, store.Memories, store.ByBotType, store.Only(botID, string(typ)))
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", botID, typ, err)
	}
	return l.decode(recs), nil
}

// ListAllTypes returns entries for every memory type. Types with no entries
// map to an empty slice.
func (l *Log) ListAllTypes(ctx context.Context, botID string) (map[model.MemoryType][]model.MemoryEntry, error) {
	if botID == "" {
		return nil, ErrInvalidBot
	}
	out := make(map[model.MemoryType][]model.MemoryEntry, len(model.AllMemoryTypes))
	for _, t := range model.AllMemoryTypes {
		out[t] = []model.MemoryEntry{}
	}

	recs, err := l.kv.QueryByIndex(ctx, store.Memories, store.ByBotType, store.Only(botID))
	if err != nil {
		return out, fmt.Errorf("list %s: %w", botID, err)
	}
	for _, e := range l.decode(recs) {
		if _, ok := out[e.Type]; ok {
			out[e.Type] = append(out[e.Type], e)
		}
	}
	return out, nil
}

// Overwrite replaces all entries of a type with one new entry.
func (l *Log) Overwrite(ctx context.Context, botID string, typ model.MemoryType, content any) (*model.MemoryEntry, error) {
	if err := validate(botID, typ); err != nil {
		return nil, err
	}
	if _, err := model.EncodeContent(content); err != nil {
		return nil, err
	}

	existing, err := l.ListByType(ctx, botID, typ)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(existing))
	for i, e := range existing {
		ids[i] = e.ID
	}
	if err := l.kv.DeleteMany(ctx, store.Memories, ids); err != nil {
		return nil, fmt.Errorf("overwrite %s/%s: %w", botID, typ, err)
	}

	e, err := l.append(ctx, botID, typ, content)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("memory overwritten",
		zap.String("bot_id", botID), zap.String("type", string(typ)), zap.Int("replaced", len(ids)))

	l.mirrorAsync(func() { l.mirror.Overwrite(context.WithoutCancel(ctx), *e) })
	return e, nil
}

// DeleteAllForBot removes every entry of every type for a bot.
func (l *Log) DeleteAllForBot(ctx context.Context, botID string) (int, error) {
	if botID == "" {
		return 0, ErrInvalidBot
	}
	var n int
	err := l.kv.Update(ctx, func(tx store.KV) error {
		var err error
		n, err = DeleteAllForBotIn(ctx, tx, botID)
		return err
	})
	return n, err
}

// DeleteAllForBotIn deletes a bot's entries through kv, which may be an open
// transaction.
func DeleteAllForBotIn(ctx context.Context, kv store.KV, botID string) (int, error) {
	recs, err := kv.QueryByIndex(ctx, store.Memories, store.ByBotType, store.Only(botID))
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", botID, err)
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.Key
	}
	if err := kv.DeleteMany(ctx, store.Memories, ids); err != nil {
		return 0, fmt.Errorf("delete all %s: %w", botID, err)
	}
	return len(ids), nil
}

func put(ctx context.Context, kv store.KV, e model.MemoryEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return kv.Put(ctx, store.Memories, store.Record{Key: e.ID, Value: b})
}

func (l *Log) decode(recs []store.Record) []model.MemoryEntry {
	out := make([]model.MemoryEntry, 0, len(recs))
	for _, r := range recs {
		var e model.MemoryEntry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			l.logger.Warn("skipping unreadable memory entry", zap.String("id", r.Key), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out
}
