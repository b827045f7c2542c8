package mirror

import (
	"context"

	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/model"
)

// KeySource finds the memory API key for a bot.
type KeySource interface {
	GetSecrets(ctx context.Context, botID string) (model.BotSecrets, bool, error)
}

// Mirror forwards local memory writes to the remote API using each bot's
// memory API key. Bots without a key are not mirrored.
type Mirror struct {
	client *Client
	keys   KeySource
	logger *zap.Logger
}

// New creates a Mirror.
func New(client *Client, keys KeySource, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{client: client, keys: keys, logger: logger.With(zap.String("component", "mirror"))}
}

func (m *Mirror) apiKey(ctx context.Context, botID string) (string, bool) {
	s, found, err := m.keys.GetSecrets(ctx, botID)
	if err != nil {
		m.logger.Debug("mirror key lookup failed", zap.String("bot_id", botID), zap.Error(err))
		return "", false
	}
	if !found || s.MemoryAPIKey == "" {
		return "", false
	}
	return s.MemoryAPIKey, true
}

// Append mirrors a new entry.
func (m *Mirror) Append(ctx context.Context, e model.MemoryEntry) {
	key, ok := m.apiKey(ctx, e.BotID)
	if !ok {
		return
	}
	if res := m.client.LogMemory(ctx, key, e.Type, e.Content); !res.Success {
		m.logger.Debug("mirror append failed", zap.String("id", e.ID), zap.String("error", res.Error))
	}
}

// Overwrite mirrors an overwrite.
func (m *Mirror) Overwrite(ctx context.Context, e model.MemoryEntry) {
	key, ok := m.apiKey(ctx, e.BotID)
	if !ok {
		return
	}
	if res := m.client.OverwriteMemory(ctx, key, e.Type, e.Content); !res.Success {
		m.logger.Debug("mirror overwrite failed", zap.String("id", e.ID), zap.String("error", res.Error))
	}
}
