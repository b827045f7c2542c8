// Package worker runs automation modules. Each pass reloads the whitelist,
// reads every bot's memories through the memory API and hands matching
// module records to registered handlers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/mirror"
	"github.com/memorykeep/memorykeep/internal/model"
	"github.com/memorykeep/memorykeep/internal/whitelist"
)

// DefaultInterval is the pause between passes.
const DefaultInterval = 60 * time.Second

// ScannedTypes are the memory types searched for module records.
var ScannedTypes = []model.MemoryType{model.MemoryCore, model.MemoryNotebook, model.MemoryExperience}

// MemoryAPI is the part of the memory API the worker uses.
type MemoryAPI interface {
	GetMemory(ctx context.Context, apiKey string, typ model.MemoryType) mirror.Result
	LogMemory(ctx context.Context, apiKey string, typ model.MemoryType, entry json.RawMessage) mirror.Result
}

// Job is one module record found in a bot's memory.
type Job struct {
	Bot        string
	APIKey     string
	MemType    model.MemoryType
	ModuleType string
	Module     map[string]any
	AllMemory  map[model.MemoryType][]map[string]any
}

// Handler runs one module.
type Handler func(ctx context.Context, api MemoryAPI, job Job) error

// PassStats summarizes one pass.
type PassStats struct {
	Bots       int `json:"bots"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// Worker polls bots and dispatches module handlers.
type Worker struct {
	api       MemoryAPI
	whitelist string
	interval  time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a worker with the built-in handlers registered.
func New(api MemoryAPI, whitelistPath string, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		api:       api,
		whitelist: whitelistPath,
		interval:  interval,
		logger:    logger.With(zap.String("component", "worker")),
		handlers:  map[string]Handler{},
	}
	w.Register("scheduled-message", w.scheduledMessage)
	w.Register("email-monitor", w.emailMonitor)
	return w
}

// Register adds or replaces the handler for a module type.
func (w *Worker) Register(moduleType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[moduleType] = h
}

func (w *Worker) handler(moduleType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[moduleType]
	return h, ok
}

// Run executes passes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("automation worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		stats := w.RunOnce(ctx)
		w.logger.Info("pass complete",
			zap.Int("bots", stats.Bots),
			zap.Int("dispatched", stats.Dispatched),
			zap.Int("failed", stats.Failed))

		select {
		case <-ctx.Done():
			w.logger.Info("automation worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pass over every whitelisted bot.
func (w *Worker) RunOnce(ctx context.Context) PassStats {
	var stats PassStats

	list, err := whitelist.Load(w.whitelist)
	if err != nil {
		w.logger.Warn("could not load whitelist", zap.Error(err))
	}
	for _, e := range list.Entries() {
		if ctx.Err() != nil {
			break
		}
		stats.Bots++
		w.runBot(ctx, e, &stats)
	}
	return stats
}

func (w *Worker) runBot(ctx context.Context, e whitelist.Entry, stats *PassStats) {
	defer func() {
		if r := recover(); r != nil {
			stats.Failed++
			w.logger.Error("panic in bot pass", zap.String("bot", e.Name), zap.Any("panic", r))
		}
	}()

	all := make(map[model.MemoryType][]map[string]any, len(ScannedTypes))
	for _, typ := range ScannedTypes {
		res := w.api.GetMemory(ctx, e.Key, typ)
		if !res.Success {
			if res.Status != 404 {
				w.logger.Debug("get memory failed", zap.String("bot", e.Name), zap.String("type", string(typ)), zap.String("error", res.Error))
			}
			continue
		}
		all[typ] = modules(res.Memory)
	}

	for _, typ := range ScannedTypes {
		for _, mod := range all[typ] {
			moduleType := moduleTypeOf(mod)
			h, ok := w.handler(moduleType)
			if !ok {
				continue
			}
			job := Job{Bot: e.Name, APIKey: e.Key, MemType: typ, ModuleType: moduleType, Module: mod, AllMemory: all}
			w.logger.Debug("running handler", zap.String("bot", e.Name), zap.String("module", moduleType), zap.String("type", string(typ)))
			stats.Dispatched++
			if err := h(ctx, w.api, job); err != nil {
				stats.Failed++
				w.logger.Warn("handler failed", zap.String("bot", e.Name), zap.String("module", moduleType), zap.Error(err))
			}
		}
	}
}

// modules extracts object records from a memory payload, which is either a
// list of records or a single record.
func modules(raw json.RawMessage) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		list = []json.RawMessage{raw}
	}
	var out []map[string]any
	for _, item := range list {
		var m map[string]any
		if json.Unmarshal(item, &m) == nil && m != nil {
			out = append(out, m)
		}
	}
	return out
}

func moduleTypeOf(m map[string]any) string {
	if t, ok := m["type"].(string); ok && t != "" {
		return t
	}
	t, _ := m["module_type"].(string)
	return t
}

// scheduledMessage records the dispatch as a job entry.
func (w *Worker) scheduledMessage(ctx context.Context, api MemoryAPI, job Job) error {
	entry, err := json.Marshal(map[string]any{
		"module":     job.ModuleType,
		"status":     "dispatched",
		"sourceType": job.MemType,
		"config":     job.Module,
		"at":         time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	res := api.LogMemory(ctx, job.APIKey, model.MemoryJob, entry)
	if !res.Success {
		return fmt.Errorf("log job: %s", res.Error)
	}
	return nil
}

// emailMonitor only reports the configured module; mailbox access is done
// by an external service.
func (w *Worker) emailMonitor(_ context.Context, _ MemoryAPI, job Job) error {
	w.logger.Info("email monitor configured", zap.String("bot", job.Bot), zap.Any("config", job.Module))
	return nil
}
