// Package model defines the bot and memory data types.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemoryType tags a memory entry. The set is closed.
type MemoryType string

const (
	MemoryCore       MemoryType = "core"
	MemoryExperience MemoryType = "experience"
	MemoryNotebook   MemoryType = "notebook"
	MemoryJob        MemoryType = "job"
)

// AllMemoryTypes lists every memory type in display order.
var AllMemoryTypes = []MemoryType{MemoryCore, MemoryExperience, MemoryNotebook, MemoryJob}

// ValidMemoryTypes are the allowed memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	MemoryCore:       true,
	MemoryExperience: true,
	MemoryNotebook:   true,
	MemoryJob:        true,
}

// ParseMemoryType validates s against the closed set of memory types.
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(s)
	if !ValidMemoryTypes[t] {
		return "", fmt.Errorf("invalid memory type %q (valid: core, experience, notebook, job)", s)
	}
	return t, nil
}

// MemoryEntry is an immutable log record owned by a bot.
// Content is either a JSON string or a JSON object/array.
type MemoryEntry struct {
	ID        string          `json:"id"`
	BotID     string          `json:"botId"`
	Type      MemoryType      `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// ContentString returns the content when it is a JSON string.
func (e MemoryEntry) ContentString() (string, bool) {
	var s string
	if err := json.Unmarshal(e.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// ContentObject returns the content when it is a JSON object.
func (e MemoryEntry) ContentObject() (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(e.Content, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// EncodeContent turns a Go value into entry content. Raw JSON is kept as is.
func EncodeContent(v any) (json.RawMessage, error) {
	switch c := v.(type) {
	case json.RawMessage:
		if !json.Valid(c) {
			return nil, fmt.Errorf("content is not valid JSON")
		}
		return c, nil
	case nil:
		return nil, fmt.Errorf("content is required")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return b, nil
}
