package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/memorykeep/memorykeep/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a bot from an export file",
		Long:  "Import a bot from the JSON produced by export (stdin). The bot keeps its id.",
		Run:   runImport,
	}

	botCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var exp model.ExportedBot
	if err := json.Unmarshal(data, &exp); err != nil {
		exitErr("parse json", err)
	}
	if exp.Format != model.ExportFormat {
		exitErr("import", fmt.Errorf("unexpected format %q", exp.Format))
	}

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	b, err := a.bots.SaveBot(cmd.Context(), exp.Bot)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", b.ID)
}
