package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memorykeep/memorykeep/internal/model"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Read and write a bot's memory log",
}

func init() {
	appendCmd := &cobra.Command{
		Use:   "append [content]",
		Short: "Append a memory entry",
		Long: "Append a memory entry. Content can be a positional arg or piped via stdin; " +
			"a JSON object or array is stored as structured content, anything else as text.",
		Run: runMemoryAppend,
	}
	overwriteCmd := &cobra.Command{
		Use:   "overwrite [content]",
		Short: "Replace every entry of a type with one entry",
		Run:   runMemoryOverwrite,
	}
	for _, c := range []*cobra.Command{appendCmd, overwriteCmd} {
		c.Flags().StringP("bot", "b", "", "Bot id (required)")
		c.Flags().StringP("type", "t", "experience", "Memory type: core, experience, notebook, job")
		c.Flags().Bool("text", false, "Store content as text even if it parses as JSON")
		c.MarkFlagRequired("bot")
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries",
		Long:  "List entries of one type, or of every type grouped by type when --type is omitted.",
		Run:   runMemoryList,
	}
	listCmd.Flags().StringP("bot", "b", "", "Bot id (required)")
	listCmd.Flags().StringP("type", "t", "", "Memory type")
	listCmd.MarkFlagRequired("bot")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every memory entry of a bot",
		Run:   runMemoryClear,
	}
	clearCmd.Flags().StringP("bot", "b", "", "Bot id (required)")
	clearCmd.MarkFlagRequired("bot")

	memoryCmd.AddCommand(appendCmd, overwriteCmd, listCmd, clearCmd)
	RootCmd.AddCommand(memoryCmd)
}

// memoryContent reads content from args or stdin. JSON objects and arrays
// are kept structured unless asText is set.
func memoryContent(args []string, asText bool) (any, error) {
	input, err := readInput(args)
	if err != nil {
		return nil, err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("content is required (positional arg or stdin)")
	}
	if !asText && (strings.HasPrefix(input, "{") || strings.HasPrefix(input, "[")) && json.Valid([]byte(input)) {
		return json.RawMessage(input), nil
	}
	return input, nil
}

func memoryWriteArgs(cmd *cobra.Command, args []string) (string, model.MemoryType, any) {
	botID, _ := cmd.Flags().GetString("bot")
	typeStr, _ := cmd.Flags().GetString("type")
	asText, _ := cmd.Flags().GetBool("text")

	typ, err := model.ParseMemoryType(typeStr)
	if err != nil {
		exitErr("memory", err)
	}
	content, err := memoryContent(args, asText)
	if err != nil {
		exitErr("memory", err)
	}
	return botID, typ, content
}

func runMemoryAppend(cmd *cobra.Command, args []string) {
	botID, typ, content := memoryWriteArgs(cmd, args)

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	e, err := a.memory.Append(cmd.Context(), botID, typ, content)
	if err != nil {
		exitErr("append", err)
	}
	printJSON(cmd, e)
}

func runMemoryOverwrite(cmd *cobra.Command, args []string) {
	botID, typ, content := memoryWriteArgs(cmd, args)

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	e, err := a.memory.Overwrite(cmd.Context(), botID, typ, content)
	if err != nil {
		exitErr("overwrite", err)
	}
	printJSON(cmd, e)
}

func runMemoryList(cmd *cobra.Command, args []string) {
	botID, _ := cmd.Flags().GetString("bot")
	typeStr, _ := cmd.Flags().GetString("type")

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	if typeStr == "" {
		all, err := a.memory.ListAllTypes(cmd.Context(), botID)
		if err != nil {
			exitErr("list", err)
		}
		printJSON(cmd, all)
		return
	}

	typ, err := model.ParseMemoryType(typeStr)
	if err != nil {
		exitErr("list", err)
	}
	entries, err := a.memory.ListByType(cmd.Context(), botID, typ)
	if err != nil {
		exitErr("list", err)
	}
	printJSON(cmd, entries)
}

func runMemoryClear(cmd *cobra.Command, args []string) {
	botID, _ := cmd.Flags().GetString("bot")

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	n, err := a.memory.DeleteAllForBot(cmd.Context(), botID)
	if err != nil {
		exitErr("clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"botId":%q,"deleted":%d}`+"\n", botID, n)
}
