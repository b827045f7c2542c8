package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bots, most recently updated first",
		Run:   runList,
	}

	cmd.Flags().Bool("ids-only", false, "Only output id and name")

	botCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a, err := openApp(cmd.Context(), false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	list, err := a.bots.List(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, b := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.ID, b.Name)
		}
		return
	}
	printJSON(cmd, list)
}
