package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the generated message cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached generations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL)
		if err != nil {
			return fail(fmt.Errorf("opening cache: %w", err))
		}
		n, err := c.Clear()
		if err != nil {
			return fail(fmt.Errorf("clearing cache: %w", err))
		}
		ui.Success("Cache cleared (%d entries removed).", n)
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCache(cfg)
		if err != nil {
			return fail(fmt.Errorf("opening cache: %w", err))
		}
		if !c.Enabled() {
			ui.Info("Cache is disabled.")
			return nil
		}
		stats, err := c.Stats()
		if err != nil {
			return fail(fmt.Errorf("reading cache stats: %w", err))
		}
		if cfg.Format == "json" {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return fail(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		table := ui.Table([]string{"Dir", "Entries", "Bytes", "Expired"})
		_ = table.Append([]string{stats.Dir, fmt.Sprint(stats.Entries), fmt.Sprint(stats.TotalBytes), fmt.Sprint(stats.Expired)})
		_ = table.Render()
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheShowCmd)
}
