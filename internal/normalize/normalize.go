// Package normalize fills partially specified bot records with defaults.
//
// Merging happens on generic maps so that an absent field can be told apart
// from a zero value. Each nested configuration section is merged on its own:
// supplying only widget.header.title keeps every default of widget.bubble.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/memorykeep/memorykeep/internal/model"
)

// ErrMalformed is returned when a record cannot be decoded into a bot.
var ErrMalformed = errors.New("malformed bot record")

// Sections merged independently, one level deep.
var (
	widgetSections   = map[string]bool{"header": true, "greeting": true, "bubble": true, "theme": true, "avatars": true}
	settingsSections = map[string]bool{"rateLimiting": true, "analytics": true}
)

// Secret keys that older records kept inside settings.
const (
	keyGemini     = "geminiApiKey"
	keyOpenRouter = "openRouterApiKey"
	keyMemory     = "memoryApiKey"
)

// Defaults returns the template every bot is merged over.
func Defaults() model.Bot {
	return model.Bot{
		Name:        "New Chatbot",
		Description: "",
		Modules:     []model.ModuleInstance{},
		Widget: model.Widget{
			Header: model.WidgetHeader{
				Title:           "Chat with us",
				Subtitle:        "We typically reply in a few minutes",
				ShowAvatar:      true,
				BackgroundColor: "#3b82f6",
			},
			Greeting: model.WidgetGreeting{
				Enabled: true,
				Message: "Hi there! How can I help you today?",
				DelayMS: 1000,
			},
			Bubble: model.WidgetBubble{
				Color:    "#3b82f6",
				Icon:     "chat",
				Position: "bottom-right",
				Size:     60,
			},
			Theme: model.WidgetTheme{
				PrimaryColor:    "#3b82f6",
				SecondaryColor:  "#e5e7eb",
				BackgroundColor: "#ffffff",
				TextColor:       "#111827",
				FontFamily:      "Inter, system-ui, sans-serif",
				BorderRadius:    12,
				Mode:            "light",
			},
			Avatars: model.WidgetAvatars{
				Bot:  "",
				User: "",
			},
		},
		Settings: model.Settings{
			Provider:       model.ProviderGemini,
			Model:          "gemini-1.5-flash",
			SystemPrompt:   "You are a helpful assistant.",
			Temperature:    0.7,
			MaxTokens:      1024,
			MemoryEnabled:  false,
			AllowedOrigins: []string{},
			RateLimiting: model.RateLimiting{
				Enabled:       false,
				MaxMessages:   20,
				WindowSeconds: 60,
			},
			Analytics: model.Analytics{
				Enabled:            true,
				TrackConversations: true,
				TrackLeads:         true,
			},
		},
	}
}

// JSON normalizes a stored or caller-supplied JSON bot record.
func JSON(data []byte) (*model.Bot, error) {
	var partial map[string]any
	if err := json.Unmarshal(data, &partial); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if partial == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	return Bot(partial)
}

// Bot merges partial over Defaults and decodes the result.
func Bot(partial map[string]any) (*model.Bot, error) {
	base := defaultMap()
	out := copyMap(base)

	for k, v := range partial {
		if v == nil {
			continue
		}
		switch k {
		case "widget":
			out[k] = mergeSections(base[k], v, widgetSections)
		case "settings":
			out[k] = mergeSections(base[k], v, settingsSections)
		case "modules":
			out[k] = normalizeModules(v)
		case "id":
			if id, ok := idString(v); ok {
				out[k] = id
			}
		case "createdAt", "updatedAt":
			if ts, ok := timestamp(v); ok {
				out[k] = ts
			}
		default:
			if fits(base[k], v) {
				out[k] = v
			}
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var bot model.Bot
	if err := json.Unmarshal(b, &bot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if bot.Modules == nil {
		bot.Modules = []model.ModuleInstance{}
	}
	if bot.Settings.AllowedOrigins == nil {
		bot.Settings.AllowedOrigins = []string{}
	}
	return &bot, nil
}

// Full re-normalizes an already decoded bot, e.g. before a write.
func Full(b model.Bot) (*model.Bot, error) {
	m, err := toMap(b)
	if err != nil {
		return nil, err
	}
	return Bot(m)
}

// ExtractSecrets pulls credentials out of settings in a partial record.
// Decoding through Bot drops them, so callers that accept legacy or
// user-supplied records must split them off first.
func ExtractSecrets(partial map[string]any) model.BotSecrets {
	var s model.BotSecrets
	if id, ok := partial["id"].(string); ok {
		s.BotID = id
	}
	settings, ok := partial["settings"].(map[string]any)
	if !ok {
		return s
	}
	s.GeminiAPIKey, _ = settings[keyGemini].(string)
	s.OpenRouterAPIKey, _ = settings[keyOpenRouter].(string)
	s.MemoryAPIKey, _ = settings[keyMemory].(string)
	return s
}

func mergeSections(def, in any, sections map[string]bool) map[string]any {
	defMap, _ := def.(map[string]any)
	out := copyMap(defMap)
	inMap, ok := in.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range inMap {
		if v == nil {
			continue
		}
		if sections[k] {
			out[k] = mergeShallow(defMap[k], v)
			continue
		}
		if k == "allowedOrigins" {
			v = stringsOnly(v)
		}
		if fits(defMap[k], v) {
			out[k] = v
		}
	}
	return out
}

func mergeShallow(def, in any) map[string]any {
	defMap, _ := def.(map[string]any)
	out := copyMap(defMap)
	inMap, ok := in.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range inMap {
		if v != nil && fits(defMap[k], v) {
			out[k] = v
		}
	}
	return out
}

func normalizeModules(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return []any{}
	}
	out := make([]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		mod := map[string]any{
			"config":   map[string]any{},
			"enabled":  true,
			"position": i,
		}
		for k, val := range m {
			if val == nil {
				continue
			}
			if k == "id" {
				if id, ok := idString(val); ok {
					mod[k] = id
				}
				continue
			}
			if fits(moduleDefaults[k], val) {
				mod[k] = val
			}
		}
		if id, _ := mod["id"].(string); id == "" {
			typ, _ := mod["type"].(string)
			mod["id"] = fmt.Sprintf("%s-%d", typ, i)
		}
		out = append(out, mod)
	}
	return out
}

// moduleDefaults gives the JSON kind of each module field.
var moduleDefaults = map[string]any{
	"type":     "",
	"config":   map[string]any{},
	"position": float64(0),
	"enabled":  true,
}

// fits reports whether v may replace def: both must have the same JSON kind.
// Fields with no default accept anything. Whole-number defaults mark integer
// fields, which reject fractions.
func fits(def, v any) bool {
	switch d := def.(type) {
	case nil:
		return true
	case string:
		_, ok := v.(string)
		return ok
	case bool:
		_, ok := v.(bool)
		return ok
	case float64:
		n, ok := v.(float64)
		if !ok {
			return false
		}
		if d == math.Trunc(d) {
			return n == math.Trunc(n) && math.Abs(n) <= math.MaxInt32
		}
		return true
	case map[string]any:
		_, ok := v.(map[string]any)
		return ok
	case []any:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// stringsOnly keeps the string elements of a list.
func stringsOnly(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// idString accepts string ids and numeric ids from older records.
func idString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return "", false
}

// maxUnixMilli is the last millisecond of year 9999.
const maxUnixMilli = 253402300799999

// timestamp accepts an RFC 3339 string or Unix milliseconds and returns the
// RFC 3339 form. Anything else is dropped.
func timestamp(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if _, err := time.Parse(time.RFC3339Nano, t); err != nil {
			return "", false
		}
		return t, true
	case float64:
		if t < 0 || t > maxUnixMilli {
			return "", false
		}
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano), true
	}
	return "", false
}

var defaultsJSON = func() []byte {
	b, err := json.Marshal(Defaults())
	if err != nil {
		panic(err)
	}
	return b
}()

func defaultMap() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(defaultsJSON, &m)
	// Timestamps are set by the repository, never defaulted.
	delete(m, "createdAt")
	delete(m, "updatedAt")
	delete(m, "id")
	return m
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
