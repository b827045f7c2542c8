// Package cli implements the memorykeep CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/bots"
	"github.com/memorykeep/memorykeep/internal/logger"
	"github.com/memorykeep/memorykeep/internal/memlog"
	"github.com/memorykeep/memorykeep/internal/migrate"
	"github.com/memorykeep/memorykeep/internal/mirror"
	"github.com/memorykeep/memorykeep/internal/store"
)

var log = zap.NewNop()

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memorykeep",
	Short: "Local bot and memory store for the chatbot factory",
	Long: "Stores chatbot definitions and their memory logs in a local SQLite file, " +
		"serves the memory API and runs automation modules.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		l, err := logger.New(viper.GetString("mode"), viper.GetString("log-level"))
		if err != nil {
			return err
		}
		log = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func init() {
	viper.SetDefault("mode", "dev")

	flags := RootCmd.PersistentFlags()
	flags.StringP("db", "d", "", "Database path (default: $MEMORYKEEP_DB or ~/.memorykeep/memorykeep.db)")
	flags.String("mode", "dev", `Log mode: "dev", "prod" or "quiet"`)
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	flags.String("legacy-file", "", "JSON dump of legacy flat keys to migrate on first open")
	flags.String("redis-url", "", "Redis holding legacy flat keys to migrate on first open")
	flags.String("mirror-url", "", "Remote memory API base URL to mirror writes to, e.g. https://host/api")
	flags.String("whitelist", "whitelist.txt", "API key whitelist file")

	for _, key := range []string{"db", "mode", "log-level", "legacy-file", "redis-url", "mirror-url", "whitelist"} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("memorykeep")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func getDBPath() string {
	if p := viper.GetString("db"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memorykeep", "memorykeep.db")
}

// app bundles the opened store with the services built on it.
type app struct {
	store  *store.SQLiteStore
	bots   *bots.Repository
	memory *memlog.Log
}

// Close waits for pending mirror calls, then closes the store.
func (a *app) Close() {
	a.memory.Wait()
	a.store.Close()
}

// openApp opens the store and, unless skipMigration is set, runs the legacy
// migration before anything else touches it.
func openApp(ctx context.Context, skipMigration bool) (*app, error) {
	s, err := store.OpenSQLiteStore(ctx, getDBPath(), log)
	if err != nil {
		return nil, err
	}

	repo := bots.New(s, log)
	var opts []memlog.Option
	if u := viper.GetString("mirror-url"); u != "" {
		opts = append(opts, memlog.WithMirror(mirror.New(mirror.NewClient(u, 0, log), repo, log)))
	}
	a := &app{store: s, bots: repo, memory: memlog.New(s, log, opts...)}

	if !skipMigration {
		_, err := runMigration(ctx, a)
		switch {
		case errors.Is(err, errSourceUnavailable):
			// The store is usable without the legacy data; retry on next start.
			log.Warn("skipping legacy migration", zap.Error(err))
		case err != nil:
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

var errSourceUnavailable = errors.New("legacy source unavailable")

// runMigration migrates from the configured legacy source. Once the
// completion flag is set the source is never contacted. With no source
// configured it does nothing and leaves the flag unset.
func runMigration(ctx context.Context, a *app) (*migrate.Report, error) {
	done, err := migrate.Done(ctx, a.store)
	if err != nil {
		return nil, fmt.Errorf("read migration flag: %w", err)
	}
	if done {
		return &migrate.Report{AlreadyComplete: true, Skipped: []string{}, Errors: []string{}}, nil
	}

	src, closeSrc, err := legacySource(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSourceUnavailable, err)
	}
	if src == nil {
		return nil, nil
	}
	defer closeSrc()

	return migrate.New(a.store, a.memory, src, log).Run(ctx)
}

func legacySource(ctx context.Context) (migrate.Source, func(), error) {
	if u := viper.GetString("redis-url"); u != "" {
		src, err := migrate.NewRedisSource(ctx, u)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	}
	if p := viper.GetString("legacy-file"); p != "" {
		return migrate.NewFileSource(p), func() {}, nil
	}
	return nil, nil, nil
}

// readInput returns the positional args joined, or stdin when it is piped.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", nil
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func exitErr(msg string, err error) {
	log.Debug(msg, zap.Error(err))
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
