package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a bot as a standalone widget configuration",
		Long:  "Export a bot as JSON for embedding. Credentials are never included.",
		Run:   runExport,
	}

	cmd.Flags().String("id", "", "Bot id (required)")
	cmd.MarkFlagRequired("id")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	exp, err := a.bots.Export(cmd.Context(), id)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd, exp)
}
