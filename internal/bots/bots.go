// Package bots persists bot definitions. Records are normalized on every
// write and every read, and credentials are kept in their own collection.
package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/memlog"
	"github.com/memorykeep/memorykeep/internal/model"
	"github.com/memorykeep/memorykeep/internal/normalize"
	"github.com/memorykeep/memorykeep/internal/store"
)

// ErrNotFound is returned by operations that need an existing bot.
var ErrNotFound = errors.New("bot not found")

// ExportVersion is the current export envelope version.
const ExportVersion = 1

// Repository reads and writes bots.
type Repository struct {
	kv     store.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Repository.
func New(kv store.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{kv: kv, logger: logger.With(zap.String("component", "bots")), now: time.Now}
}

// Save normalizes a partial record and stores it. A record without an id is
// created with a new one. Credentials found under settings are moved to the
// secrets collection.
func (r *Repository) Save(ctx context.Context, partial map[string]any) (*model.Bot, error) {
	secrets := normalize.ExtractSecrets(partial)
	b, err := normalize.Bot(partial)
	if err != nil {
		return nil, err
	}
	return r.save(ctx, b, secrets)
}

// SaveBot stores a decoded bot after re-normalizing it.
func (r *Repository) SaveBot(ctx context.Context, b model.Bot) (*model.Bot, error) {
	nb, err := normalize.Full(b)
	if err != nil {
		return nil, err
	}
	return r.save(ctx, nb, model.BotSecrets{})
}

func (r *Repository) save(ctx context.Context, b *model.Bot, secrets model.BotSecrets) (*model.Bot, error) {
	now := r.now().UTC()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	err := r.kv.Update(ctx, func(tx store.KV) error {
		rec, found, err := tx.Get(ctx, store.Bots, b.ID)
		if err != nil {
			return err
		}
		if found {
			var prev struct {
				CreatedAt time.Time `json:"createdAt"`
			}
			if json.Unmarshal(rec.Value, &prev) == nil && !prev.CreatedAt.IsZero() {
				b.CreatedAt = prev.CreatedAt
			}
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		b.UpdatedAt = now

		if err := PutIn(ctx, tx, *b); err != nil {
			return err
		}
		if !secrets.Empty() {
			secrets.BotID = b.ID
			return mergeSecretsIn(ctx, tx, secrets, now)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save bot %s: %w", b.ID, err)
	}
	return b, nil
}

// PutIn writes an already normalized bot through kv as is, timestamps
// included.
func PutIn(ctx context.Context, kv store.KV, b model.Bot) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return kv.Put(ctx, store.Bots, store.Record{Key: b.ID, Value: data})
}

// Get returns the normalized bot with the given id.
func (r *Repository) Get(ctx context.Context, id string) (*model.Bot, bool, error) {
	rec, found, err := r.kv.Get(ctx, store.Bots, id)
	if err != nil || !found {
		return nil, false, err
	}
	b, err := normalize.JSON(rec.Value)
	if err != nil {
		return nil, false, fmt.Errorf("read bot %s: %w", id, err)
	}
	return b, true, nil
}

// List returns all bots, most recently updated first. Unreadable records are
// skipped.
func (r *Repository) List(ctx context.Context) ([]model.Bot, error) {
	recs, err := r.kv.QueryByIndex(ctx, store.Bots, store.ByUpdatedAt, store.KeyRange{})
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}

	out := make([]model.Bot, 0, len(recs))
	for _, rec := range recs {
		b, err := normalize.JSON(rec.Value)
		if err != nil {
			r.logger.Warn("skipping unreadable bot", zap.String("id", rec.Key), zap.Error(err))
			continue
		}
		out = append(out, *b)
	}
	slices.Reverse(out)
	return out, nil
}

// Delete removes a bot with its memories and secrets in one transaction.
// Deleting a missing bot is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	var removed int
	err := r.kv.Update(ctx, func(tx store.KV) error {
		if err := tx.DeleteMany(ctx, store.Bots, []string{id}); err != nil {
			return err
		}
		n, err := memlog.DeleteAllForBotIn(ctx, tx, id)
		if err != nil {
			return err
		}
		removed = n
		return tx.DeleteMany(ctx, store.Secrets, []string{id})
	})
	if err != nil {
		return fmt.Errorf("delete bot %s: %w", id, err)
	}
	r.logger.Info("bot deleted", zap.String("id", id), zap.Int("memories", removed))
	return nil
}

// SetSecrets stores credentials for an existing bot. Empty fields keep their
// stored value.
func (r *Repository) SetSecrets(ctx context.Context, s model.BotSecrets) error {
	err := r.kv.Update(ctx, func(tx store.KV) error {
		_, found, err := tx.Get(ctx, store.Bots, s.BotID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return mergeSecretsIn(ctx, tx, s, r.now().UTC())
	})
	if err != nil {
		return fmt.Errorf("set secrets %s: %w", s.BotID, err)
	}
	return nil
}

// GetSecrets returns the stored credentials for a bot.
func (r *Repository) GetSecrets(ctx context.Context, id string) (model.BotSecrets, bool, error) {
	return getSecrets(ctx, r.kv, id)
}

// MergeSecretsIn writes credentials through kv, keeping stored values for
// fields s leaves empty.
func MergeSecretsIn(ctx context.Context, kv store.KV, s model.BotSecrets) error {
	return mergeSecretsIn(ctx, kv, s, time.Now().UTC())
}

func mergeSecretsIn(ctx context.Context, kv store.KV, s model.BotSecrets, now time.Time) error {
	cur, _, err := getSecrets(ctx, kv, s.BotID)
	if err != nil {
		return err
	}
	cur.BotID = s.BotID
	if s.GeminiAPIKey != "" {
		cur.GeminiAPIKey = s.GeminiAPIKey
	}
	if s.OpenRouterAPIKey != "" {
		cur.OpenRouterAPIKey = s.OpenRouterAPIKey
	}
	if s.MemoryAPIKey != "" {
		cur.MemoryAPIKey = s.MemoryAPIKey
	}
	cur.UpdatedAt = now

	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	return kv.Put(ctx, store.Secrets, store.Record{Key: s.BotID, Value: data})
}

func getSecrets(ctx context.Context, kv store.KV, id string) (model.BotSecrets, bool, error) {
	rec, found, err := kv.Get(ctx, store.Secrets, id)
	if err != nil || !found {
		return model.BotSecrets{BotID: id}, false, err
	}
	var s model.BotSecrets
	if err := json.Unmarshal(rec.Value, &s); err != nil {
		return model.BotSecrets{BotID: id}, false, fmt.Errorf("read secrets %s: %w", id, err)
	}
	return s, true, nil
}

// Export returns the standalone widget configuration for a bot. The
// envelope holds a model.Bot, which has no credential fields.
func (r *Repository) Export(ctx context.Context, id string) (*model.ExportedBot, error) {
	b, found, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	return &model.ExportedBot{
		Format:     model.ExportFormat,
		Version:    ExportVersion,
		ExportedAt: r.now().UTC(),
		Bot:        *b,
	}, nil
}
