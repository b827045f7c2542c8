package model

import "time"

// Bot is the configuration aggregate for one chat widget.
// It carries no credentials; those live in BotSecrets.
type Bot struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Modules     []ModuleInstance `json:"modules"`
	Widget      Widget           `json:"widget"`
	Settings    Settings         `json:"settings"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ModuleInstance is one module placed on a bot. Slice order is display order.
type ModuleInstance struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config"`
	Position int            `json:"position"`
	Enabled  bool           `json:"enabled"`
}

// Known module types.
const (
	ModuleFAQ           = "faq"
	ModuleLeadCapture   = "lead-capture"
	ModuleKnowledgeBase = "knowledge-base"
)

type Widget struct {
	Header   WidgetHeader   `json:"header"`
	Greeting WidgetGreeting `json:"greeting"`
	Bubble   WidgetBubble   `json:"bubble"`
	Theme    WidgetTheme    `json:"theme"`
	Avatars  WidgetAvatars  `json:"avatars"`
}

type WidgetHeader struct {
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	ShowAvatar      bool   `json:"showAvatar"`
	BackgroundColor string `json:"backgroundColor"`
}

type WidgetGreeting struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
	DelayMS int    `json:"delayMs"`
}

type WidgetBubble struct {
	Color    string `json:"color"`
	Icon     string `json:"icon"`
	Position string `json:"position"`
	Size     int    `json:"size"`
}

type WidgetTheme struct {
	PrimaryColor    string `json:"primaryColor"`
	SecondaryColor  string `json:"secondaryColor"`
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
	FontFamily      string `json:"fontFamily"`
	BorderRadius    int    `json:"borderRadius"`
	Mode            string `json:"mode"`
}

type WidgetAvatars struct {
	Bot  string `json:"bot"`
	User string `json:"user"`
}

// Settings holds provider selection, generation parameters and access flags.
type Settings struct {
	Provider       string       `json:"provider"`
	Model          string       `json:"model"`
	SystemPrompt   string       `json:"systemPrompt"`
	Temperature    float64      `json:"temperature"`
	MaxTokens      int          `json:"maxTokens"`
	MemoryEnabled  bool         `json:"memoryEnabled"`
	MemoryAPIURL   string       `json:"memoryApiUrl"`
	RequireAuth    bool         `json:"requireAuth"`
	AllowedOrigins []string     `json:"allowedOrigins"`
	RateLimiting   RateLimiting `json:"rateLimiting"`
	Analytics      Analytics    `json:"analytics"`
}

type RateLimiting struct {
	Enabled       bool `json:"enabled"`
	MaxMessages   int  `json:"maxMessages"`
	WindowSeconds int  `json:"windowSeconds"`
}

type Analytics struct {
	Enabled            bool `json:"enabled"`
	TrackConversations bool `json:"trackConversations"`
	TrackLeads         bool `json:"trackLeads"`
}

// Provider names accepted in Settings.Provider.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// BotSecrets holds a bot's credentials. It is stored apart from Bot and is
// never part of an export.
type BotSecrets struct {
	BotID            string    `json:"botId"`
	GeminiAPIKey     string    `json:"geminiApiKey,omitempty"`
	OpenRouterAPIKey string    `json:"openRouterApiKey,omitempty"`
	MemoryAPIKey     string    `json:"memoryApiKey,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Empty reports whether no credential is set.
func (s BotSecrets) Empty() bool {
	return s.GeminiAPIKey == "" && s.OpenRouterAPIKey == "" && s.MemoryAPIKey == ""
}

// ExportFormat identifies the standalone widget export envelope.
const ExportFormat = "memorykeep-widget"

// ExportedBot is the standalone widget configuration.
type ExportedBot struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	Bot        Bot       `json:"bot"`
}
