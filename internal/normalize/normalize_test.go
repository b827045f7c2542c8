package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorykeep/memorykeep/internal/model"
)

func TestBot_IDOnly(t *testing.T) {
	bot, err := Bot(map[string]any{"id": "b1"})
	require.NoError(t, err)

	assert.Equal(t, "b1", bot.ID)
	assert.Equal(t, "#3b82f6", bot.Widget.Theme.PrimaryColor)
	assert.Equal(t, Defaults().Widget, bot.Widget)
	assert.Equal(t, Defaults().Settings.RateLimiting, bot.Settings.RateLimiting)
	assert.NotNil(t, bot.Modules)
	assert.Empty(t, bot.Modules)
}

func TestBot_MissingBubbleColorKeepsOtherDefaults(t *testing.T) {
	bot, err := JSON([]byte(`{
		"id": "b2",
		"name": "Support",
		"widget": {
			"header": {"title": "Hello"},
			"bubble": {"icon": "message", "position": "bottom-left"}
		},
		"settings": {"provider": "openrouter", "analytics": {"trackLeads": false}}
	}`))
	require.NoError(t, err)

	def := Defaults()
	assert.Equal(t, "Support", bot.Name)
	assert.Equal(t, "Hello", bot.Widget.Header.Title)
	assert.Equal(t, def.Widget.Header.Subtitle, bot.Widget.Header.Subtitle)
	assert.Equal(t, def.Widget.Bubble.Color, bot.Widget.Bubble.Color)
	assert.Equal(t, "message", bot.Widget.Bubble.Icon)
	assert.Equal(t, "bottom-left", bot.Widget.Bubble.Position)
	assert.Equal(t, def.Widget.Bubble.Size, bot.Widget.Bubble.Size)
	assert.Equal(t, def.Widget.Theme, bot.Widget.Theme)
	assert.Equal(t, def.Widget.Greeting, bot.Widget.Greeting)

	assert.Equal(t, "openrouter", bot.Settings.Provider)
	assert.Equal(t, def.Settings.Model, bot.Settings.Model)
	assert.False(t, bot.Settings.Analytics.TrackLeads)
	assert.True(t, bot.Settings.Analytics.Enabled)
	assert.Equal(t, def.Settings.RateLimiting, bot.Settings.RateLimiting)
}

func TestBot_NullFieldsFallBackToDefaults(t *testing.T) {
	bot, err := JSON([]byte(`{"id":"b3","name":null,"widget":{"theme":null,"bubble":{"color":null}}}`))
	require.NoError(t, err)

	assert.Equal(t, Defaults().Name, bot.Name)
	assert.Equal(t, "#3b82f6", bot.Widget.Theme.PrimaryColor)
	assert.Equal(t, Defaults().Widget.Bubble.Color, bot.Widget.Bubble.Color)
}

func TestBot_Modules(t *testing.T) {
	bot, err := JSON([]byte(`{
		"id": "b4",
		"modules": [
			{"id": "m1", "type": "faq", "config": {"items": []}},
			{"type": "lead-capture", "enabled": false, "position": 5},
			"garbage"
		]
	}`))
	require.NoError(t, err)
	require.Len(t, bot.Modules, 2)

	assert.Equal(t, "m1", bot.Modules[0].ID)
	assert.True(t, bot.Modules[0].Enabled)
	assert.Equal(t, 0, bot.Modules[0].Position)

	assert.Equal(t, "lead-capture-1", bot.Modules[1].ID)
	assert.False(t, bot.Modules[1].Enabled)
	assert.Equal(t, 5, bot.Modules[1].Position)
	assert.NotNil(t, bot.Modules[1].Config)
}

func TestBot_IsPure(t *testing.T) {
	partial := map[string]any{"widget": map[string]any{"theme": map[string]any{"primaryColor": "#000000"}}}
	_, err := Bot(partial)
	require.NoError(t, err)

	other, err := Bot(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "#3b82f6", other.Widget.Theme.PrimaryColor)
	assert.Equal(t, "#000000", partial["widget"].(map[string]any)["theme"].(map[string]any)["primaryColor"])
}

func TestFull_RoundTrip(t *testing.T) {
	first, err := Bot(map[string]any{"id": "b5", "name": "Sales"})
	require.NoError(t, err)
	first.Widget.Bubble.Color = "#ff0000"

	again, err := Full(*first)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestJSON_Malformed(t *testing.T) {
	_, err := JSON([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = JSON([]byte(`null`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestJSON_WrongTypesFallBackToDefaults(t *testing.T) {
	def := Defaults()
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, bot *model.Bot)
	}{
		{
			name:  "bubble size as string",
			input: `{"id":"w1","widget":{"bubble":{"size":"60px","color":"#ff0000"}}}`,
			check: func(t *testing.T, bot *model.Bot) {
				assert.Equal(t, def.Widget.Bubble.Size, bot.Widget.Bubble.Size)
				assert.Equal(t, "#ff0000", bot.Widget.Bubble.Color)
			},
		},
		{
			name:  "temperature as string",
			input: `{"id":"w2","settings":{"temperature":"0.7","model":"gpt-4o"}}`,
			check: func(t *testing.T, bot *model.Bot) {
				assert.Equal(t, def.Settings.Temperature, bot.Settings.Temperature)
				assert.Equal(t, "gpt-4o", bot.Settings.Model)
			},
		},
		{
			name:  "fractional max tokens",
			input: `{"id":"w3","settings":{"maxTokens":10.5,"temperature":1}}`,
			check: func(t *testing.T, bot *model.Bot) {
				assert.Equal(t, def.Settings.MaxTokens, bot.Settings.MaxTokens)
				assert.Equal(t, 1.0, bot.Settings.Temperature)
			},
		},
		{
			name:  "module config as string",
			input: `{"id":"w4","modules":[{"id":"m1","type":"faq","config":"x","enabled":"yes"}]}`,
			check: func(t *testing.T, bot *model.Bot) {
				require.Len(t, bot.Modules, 1)
				assert.Equal(t, "faq", bot.Modules[0].Type)
				assert.NotNil(t, bot.Modules[0].Config)
				assert.Empty(t, bot.Modules[0].Config)
				assert.True(t, bot.Modules[0].Enabled)
			},
		},
		{
			name:  "created at in unix milliseconds",
			input: `{"id":"w5","createdAt":1714557600000,"updatedAt":"2024-05-01T10:00:00Z"}`,
			check: func(t *testing.T, bot *model.Bot) {
				want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
				assert.True(t, want.Equal(bot.CreatedAt), "createdAt = %v", bot.CreatedAt)
				assert.True(t, want.Equal(bot.UpdatedAt), "updatedAt = %v", bot.UpdatedAt)
			},
		},
		{
			name:  "unparseable timestamp is dropped",
			input: `{"id":"w6","createdAt":"yesterday","updatedAt":true}`,
			check: func(t *testing.T, bot *model.Bot) {
				assert.True(t, bot.CreatedAt.IsZero())
				assert.True(t, bot.UpdatedAt.IsZero())
			},
		},
		{
			name:  "numeric id and name",
			input: `{"id":42,"name":7,"widget":"blue"}`,
			check: func(t *testing.T, bot *model.Bot) {
				assert.Equal(t, "42", bot.ID)
				assert.Equal(t, def.Name, bot.Name)
				assert.Equal(t, def.Widget, bot.Widget)
			},
		},
		{
			name:  "allowed origins with mixed elements",
			input: `{"id":"w7","settings":{"allowedOrigins":["https://a.example",3,null],"rateLimiting":{"maxMessages":"many"}}}`,
			check: func(t *testing.T, bot *model.Bot) {
				assert.Equal(t, []string{"https://a.example"}, bot.Settings.AllowedOrigins)
				assert.Equal(t, def.Settings.RateLimiting, bot.Settings.RateLimiting)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, err := JSON([]byte(tt.input))
			require.NoError(t, err)
			tt.check(t, bot)
		})
	}
}

func TestExtractSecrets(t *testing.T) {
	s := ExtractSecrets(map[string]any{
		"id": "b6",
		"settings": map[string]any{
			"geminiApiKey": "g-key",
			"memoryApiKey": "m-key",
			"provider":     "gemini",
		},
	})
	assert.Equal(t, "b6", s.BotID)
	assert.Equal(t, "g-key", s.GeminiAPIKey)
	assert.Equal(t, "m-key", s.MemoryAPIKey)
	assert.Empty(t, s.OpenRouterAPIKey)

	bot, err := Bot(map[string]any{"id": "b6", "settings": map[string]any{"geminiApiKey": "g-key"}})
	require.NoError(t, err)
	assert.Equal(t, Defaults().Settings.Provider, bot.Settings.Provider)
}
