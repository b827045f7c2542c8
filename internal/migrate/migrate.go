// Package migrate moves records from the legacy flat-key format into the
// store. It runs once per store, guarded by a flag in the store's meta table.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/bots"
	"github.com/memorykeep/memorykeep/internal/memlog"
	"github.com/memorykeep/memorykeep/internal/model"
	"github.com/memorykeep/memorykeep/internal/normalize"
	"github.com/memorykeep/memorykeep/internal/store"
)

const (
	// LegacyBotsKey holds a JSON array of bots.
	LegacyBotsKey = "chatbot_factory_bots"
	// LegacyMemoryPrefix starts every key holding a JSON array of memory
	// entries. The rest of the key is the bot id.
	LegacyMemoryPrefix = "chatbot_memory_"
	// FlagKey is the meta key set once migration has run.
	FlagKey = "legacy_migration_complete"
)

// Report summarizes one run.
type Report struct {
	AlreadyComplete bool     `json:"alreadyComplete"`
	Bots            int      `json:"bots"`
	MemoryKeys      int      `json:"memoryKeys"`
	Memories        int      `json:"memories"`
	Skipped         []string `json:"skipped"`
	Errors          []string `json:"errors"`
}

func (r *Report) skip(format string, args ...any) {
	r.Skipped = append(r.Skipped, fmt.Sprintf(format, args...))
}

func (r *Report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Migrator copies legacy records into the store.
type Migrator struct {
	kv     store.Store
	log    *memlog.Log
	src    Source
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Migrator reading from src.
func New(kv store.Store, log *memlog.Log, src Source, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		kv:     kv,
		log:    log,
		src:    src,
		logger: logger.With(zap.String("component", "migrate")),
		now:    time.Now,
	}
}

// Done reports whether migration has already run against kv.
func Done(ctx context.Context, kv store.Store) (bool, error) {
	v, found, err := kv.GetMeta(ctx, FlagKey)
	if err != nil {
		return false, err
	}
	return found && v == "true", nil
}

// Run migrates bots, then memories, then sets the completion flag. Bad items
// are logged and skipped; the flag is set even when some steps failed. An
// error is returned only when the flag cannot be read or written.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	rep := &Report{Skipped: []string{}, Errors: []string{}}

	done, err := Done(ctx, m.kv)
	if err != nil {
		return nil, fmt.Errorf("read migration flag: %w", err)
	}
	if done {
		rep.AlreadyComplete = true
		return rep, nil
	}

	m.migrateBots(ctx, rep)
	m.migrateMemories(ctx, rep)

	if err := m.kv.SetMeta(ctx, FlagKey, "true"); err != nil {
		return rep, fmt.Errorf("set migration flag: %w", err)
	}
	m.logger.Info("legacy migration complete",
		zap.Int("bots", rep.Bots),
		zap.Int("memories", rep.Memories),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("errors", len(rep.Errors)))
	return rep, nil
}

type legacyBot struct {
	bot     *model.Bot
	secrets model.BotSecrets
}

func (m *Migrator) migrateBots(ctx context.Context, rep *Report) {
	raw, found, err := m.src.Get(ctx, LegacyBotsKey)
	if err != nil {
		m.logger.Error("read legacy bots", zap.Error(err))
		rep.fail("%s: %v", LegacyBotsKey, err)
		return
	}
	if !found {
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		m.logger.Warn("legacy bot list is malformed", zap.Error(err))
		rep.skip("%s: not a JSON array", LegacyBotsKey)
		return
	}

	now := m.now().UTC()
	var batch []legacyBot
	for i, item := range items {
		var partial map[string]any
		if err := json.Unmarshal(item, &partial); err != nil || partial == nil {
			m.logger.Warn("skipping malformed legacy bot", zap.Int("index", i))
			rep.skip("%s[%d]: not an object", LegacyBotsKey, i)
			continue
		}
		secrets := normalize.ExtractSecrets(partial)
		b, err := normalize.Bot(partial)
		if err != nil {
			m.logger.Warn("skipping malformed legacy bot", zap.Int("index", i), zap.Error(err))
			rep.skip("%s[%d]: %v", LegacyBotsKey, i, err)
			continue
		}
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = b.CreatedAt
		}
		batch = append(batch, legacyBot{bot: b, secrets: secrets})
	}

	err = m.kv.Update(ctx, func(tx store.KV) error {
		for _, lb := range batch {
			if err := bots.PutIn(ctx, tx, *lb.bot); err != nil {
				return err
			}
			if lb.secrets.Empty() {
				continue
			}
			lb.secrets.BotID = lb.bot.ID
			if err := bots.MergeSecretsIn(ctx, tx, lb.secrets); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("insert legacy bots", zap.Error(err))
		rep.fail("%s: %v", LegacyBotsKey, err)
		return
	}
	rep.Bots = len(batch)

	if err := m.src.Remove(ctx, LegacyBotsKey); err != nil {
		m.logger.Warn("remove legacy bots key", zap.Error(err))
		rep.fail("%s: remove: %v", LegacyBotsKey, err)
	}
}

type legacyEntry struct {
	ID        string          `json:"id"`
	BotID     string          `json:"botId"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (m *Migrator) migrateMemories(ctx context.Context, rep *Report) {
	keys, err := m.src.Keys(ctx, LegacyMemoryPrefix)
	if err != nil {
		m.logger.Error("list legacy memory keys", zap.Error(err))
		rep.fail("%s*: %v", LegacyMemoryPrefix, err)
		return
	}
	for _, key := range keys {
		m.migrateMemoryKey(ctx, key, rep)
	}
}

func (m *Migrator) migrateMemoryKey(ctx context.Context, key string, rep *Report) {
	raw, found, err := m.src.Get(ctx, key)
	if err != nil {
		m.logger.Error("read legacy memory key", zap.String("key", key), zap.Error(err))
		rep.fail("%s: %v", key, err)
		return
	}
	if !found {
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		m.logger.Warn("legacy memory key is malformed", zap.String("key", key), zap.Error(err))
		rep.skip("%s: not a JSON array", key)
		return
	}

	keyBot := strings.TrimPrefix(key, LegacyMemoryPrefix)
	for i, item := range items {
		e, err := decodeEntry(item, keyBot)
		if err != nil {
			m.logger.Warn("skipping malformed legacy memory", zap.String("key", key), zap.Int("index", i), zap.Error(err))
			rep.skip("%s[%d]: %v", key, i, err)
			continue
		}
		if _, err := m.log.Insert(ctx, e); err != nil {
			if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrClosed) {
				// Keep the key so a later run can retry it.
				m.logger.Error("insert legacy memory", zap.String("key", key), zap.Error(err))
				rep.fail("%s: %v", key, err)
				return
			}
			m.logger.Warn("skipping legacy memory", zap.String("key", key), zap.Int("index", i), zap.Error(err))
			rep.skip("%s[%d]: %v", key, i, err)
			continue
		}
		rep.Memories++
	}
	rep.MemoryKeys++

	if err := m.src.Remove(ctx, key); err != nil {
		m.logger.Warn("remove legacy memory key", zap.String("key", key), zap.Error(err))
		rep.fail("%s: remove: %v", key, err)
	}
}

func decodeEntry(item json.RawMessage, keyBot string) (model.MemoryEntry, error) {
	var le legacyEntry
	if err := json.Unmarshal(item, &le); err != nil {
		return model.MemoryEntry{}, fmt.Errorf("not an object")
	}
	e := model.MemoryEntry{
		ID:      le.ID,
		BotID:   le.BotID,
		Type:    model.MemoryType(le.Type),
		Content: le.Content,
	}
	if e.BotID == "" {
		e.BotID = keyBot
	}
	if e.Type == "" {
		e.Type = model.MemoryExperience
	}
	if len(e.Content) == 0 || string(e.Content) == "null" {
		return model.MemoryEntry{}, fmt.Errorf("missing content")
	}
	ts, err := parseTimestamp(le.Timestamp)
	if err != nil {
		return model.MemoryEntry{}, err
	}
	e.Timestamp = ts
	return e, nil
}

// parseTimestamp accepts an RFC 3339 string or Unix milliseconds. A missing
// timestamp yields the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err == nil {
		return t.UTC(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad timestamp %s", raw)
}
