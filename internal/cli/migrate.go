package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import legacy flat-key records",
		Long: "Import bots and memories from the legacy flat-key format given by --legacy-file or --redis-url. " +
			"Runs once per database; later runs report that migration is already complete.",
		Run: runMigrate,
	}

	RootCmd.AddCommand(cmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	rep, err := runMigration(cmd.Context(), a)
	if err != nil {
		exitErr("migrate", err)
	}
	if rep == nil {
		exitErr("migrate", fmt.Errorf("no legacy source: set --legacy-file or --redis-url"))
	}
	printJSON(cmd, rep)
}
