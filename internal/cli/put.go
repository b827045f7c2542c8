package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [json]",
		Short: "Create or update a bot",
		Long: "Create or update a bot from a JSON object, given as an argument or piped via stdin. " +
			"Missing fields get defaults; an object without an id creates a new bot. " +
			"API keys under settings are stored separately and never echoed.",
		Run: runPut,
	}

	cmd.Flags().String("name", "", "Set the bot name")

	botCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")

	input, err := readInput(args)
	if err != nil {
		exitErr("read stdin", err)
	}

	partial, err := parseBotInput(input, name)
	if err != nil {
		exitErr("put", err)
	}

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	b, err := a.bots.Save(cmd.Context(), partial)
	if err != nil {
		exitErr("put", err)
	}
	printJSON(cmd, b)
}

// parseBotInput builds the partial bot record from the JSON input and the
// --name flag.
func parseBotInput(input, name string) (map[string]any, error) {
	partial := map[string]any{}
	if strings.TrimSpace(input) != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(input), &m); err != nil {
			return nil, fmt.Errorf("input must be a JSON object: %w", err)
		}
		// A literal null decodes without error into a nil map.
		if m == nil {
			return nil, errors.New("input must be a JSON object, got null")
		}
		partial = m
	}
	if name != "" {
		partial["name"] = name
	}
	if len(partial) == 0 {
		return nil, errors.New("bot JSON or --name is required")
	}
	return partial, nil
}
