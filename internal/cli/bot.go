package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memorykeep/memorykeep/internal/model"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Manage bot definitions",
}

func init() {
	secrets := &cobra.Command{
		Use:   "secrets",
		Short: "Show or set a bot's API credentials",
		Long:  "Without credential flags, shows which credentials are set. Values are never printed.",
		Run:   runBotSecrets,
	}
	secrets.Flags().String("id", "", "Bot id (required)")
	secrets.Flags().String("gemini", "", "Gemini API key")
	secrets.Flags().String("openrouter", "", "OpenRouter API key")
	secrets.Flags().String("memory-key", "", "Memory API key used for mirroring")
	secrets.MarkFlagRequired("id")

	botCmd.AddCommand(secrets)
	RootCmd.AddCommand(botCmd)
}

func runBotSecrets(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	gemini, _ := cmd.Flags().GetString("gemini")
	openRouter, _ := cmd.Flags().GetString("openrouter")
	memoryKey, _ := cmd.Flags().GetString("memory-key")

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	in := model.BotSecrets{BotID: id, GeminiAPIKey: gemini, OpenRouterAPIKey: openRouter, MemoryAPIKey: memoryKey}
	if !in.Empty() {
		if err := a.bots.SetSecrets(cmd.Context(), in); err != nil {
			exitErr("set secrets", err)
		}
	}

	s, _, err := a.bots.GetSecrets(cmd.Context(), id)
	if err != nil {
		exitErr("get secrets", err)
	}
	printJSON(cmd, map[string]any{
		"botId":      id,
		"gemini":     s.GeminiAPIKey != "",
		"openRouter": s.OpenRouterAPIKey != "",
		"memoryKey":  s.MemoryAPIKey != "",
	})
}

func botNotFound(id string) error {
	return fmt.Errorf("no bot with id %q", id)
}
