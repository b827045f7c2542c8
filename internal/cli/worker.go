package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memorykeep/memorykeep/internal/mirror"
	"github.com/memorykeep/memorykeep/internal/worker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run automation modules for whitelisted bots",
		Long: "Poll every whitelisted bot's core, notebook and experience memories through the memory API " +
			"and run the handler registered for each module record.",
		Run: runWorker,
	}

	cmd.Flags().String("api-url", "http://localhost:5000/api", "Memory API base URL")
	cmd.Flags().Duration("interval", worker.DefaultInterval, "Time between passes")
	cmd.Flags().Bool("once", false, "Run a single pass and print its stats")
	for _, key := range []string{"api-url", "interval"} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	RootCmd.AddCommand(cmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	once, _ := cmd.Flags().GetBool("once")

	client := mirror.NewClient(viper.GetString("api-url"), 0, log)
	w := worker.New(client, viper.GetString("whitelist"), viper.GetDuration("interval"), log)

	if once {
		printJSON(cmd, w.RunOnce(cmd.Context()))
		return
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx); err != nil {
		exitErr("worker", err)
	}
}
