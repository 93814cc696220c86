package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/pagestore"
)

func newStoreCommand(ctx *commandContext) *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and manage the persistent page store",
	}

	storeCmd.AddCommand(newStoreStatsCommand(ctx))
	storeCmd.AddCommand(newStorePruneCommand(ctx))
	storeCmd.AddCommand(newStoreClearCommand(ctx))

	return storeCmd
}

func newStoreStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show page store usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, warn, err := pageStore(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if err != nil || store == nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, stats)
			}
			const stampLayout = "2006-01-02 15:04"
			rows := [][]string{
				{"Path", stats.Path},
				{"Pages", fmt.Sprintf("%d", stats.Entries)},
				{"Documents", fmt.Sprintf("%d", stats.Documents)},
				{"Size", fmt.Sprintf("%s / %s", humanBytes(stats.TotalBytes), humanBytes(stats.MaxBytes))},
			}
			if stats.Entries > 0 {
				rows = append(rows,
					[]string{"Oldest access", stats.OldestAccess.Local().Format(stampLayout)},
					[]string{"Newest access", stats.NewestAccess.Local().Format(stampLayout)},
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Page store", ""}, rows, nil))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newStorePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Evict least recently used pages until the store fits its budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, warn, err := pageStore(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if err != nil || store == nil {
				return err
			}
			defer store.Close()

			before, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := store.Prune(cmd.Context())
			if err != nil {
				return err
			}
			after, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if removed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pages pruned")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d pages, %s (now %s / %s)\n",
				removed,
				humanBytes(before.TotalBytes-after.TotalBytes),
				humanBytes(after.TotalBytes),
				humanBytes(after.MaxBytes),
			)
			return nil
		},
	}
}

func newStoreClearCommand(ctx *commandContext) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored page",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, warn, err := pageStore(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if errors.Is(err, pagestore.ErrSchemaMismatch) && reset {
				// The store refuses to open, so start from an empty file.
				cfg, _ := ctx.ensureConfig()
				if err := removeStoreFiles(cfg.PageStore.Path); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed page store with incompatible schema")
				return nil
			}
			if err != nil || store == nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context(), reset); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Page store cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Drop and recreate the schema")
	return cmd
}

func pageStore(ctx *commandContext) (*pagestore.Store, string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg == nil || !cfg.PageStore.Enabled {
		return nil, "Page store is disabled (set page_store.enabled = true in config.toml)", nil
	}
	if strings.TrimSpace(cfg.PageStore.Path) == "" {
		return nil, "Page store path is not configured", nil
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return nil, "", err
	}
	store, err := pagestore.Open(cfg.PageStore.Path, cfg.PageStoreBytes(), pagestore.WithLogger(logger))
	if err != nil {
		if isLocked(err) {
			return nil, "", fmt.Errorf("%w; close the running viewer first", err)
		}
		return nil, "", err
	}
	return store, "", nil
}

func removeStoreFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
