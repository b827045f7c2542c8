package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a bot",
		Run:   runGet,
	}

	cmd.Flags().String("id", "", "Bot id (required)")
	cmd.MarkFlagRequired("id")

	botCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	b, found, err := a.bots.Get(cmd.Context(), id)
	if err != nil {
		exitErr("get", err)
	}
	if !found {
		exitErr("get", botNotFound(id))
	}
	printJSON(cmd, b)
}
