package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/api"
	"github.com/memorykeep/memorykeep/internal/whitelist"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory API",
		Long:  "Serve log-memory, get-memory and overwrite-memory for whitelisted API keys, plus /metrics.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", ":5000", "Listen address")
	if err := viper.BindPFlag("addr", cmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, false)
	if err != nil {
		exitErr("open store", err)
	}
	defer a.Close()

	keys, err := whitelist.Load(viper.GetString("whitelist"))
	if err != nil {
		log.Warn("serving with an empty whitelist", zap.Error(err))
	}
	log.Info("whitelist loaded", zap.Int("keys", keys.Len()))

	h := api.NewHandler(a.memory, keys, api.NewMetrics(), log)
	if err := api.Serve(ctx, viper.GetString("addr"), h.Router(), log); err != nil && err != context.Canceled {
		exitErr("serve", err)
	}
}
