package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/cache"
	"github.com/jackzampolin/narrator/internal/home"
)

var (
	cacheMaxBytes int64
	cacheYes      bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the synthesis cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and hit counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return api.Output(stats)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cacheYes {
			return fmt.Errorf("refusing to clear the cache without --yes")
		}
		c, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		report, err := c.Clear(cmd.Context())
		if err != nil {
			return err
		}
		return api.Output(report)
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Evict least recently used entries down to the size limit",
	Long: `Evict removes the least recently accessed entries until the cache
fits within cache.max_bytes from the config, or --max-bytes when given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		report, err := c.Evict(cmd.Context())
		if err != nil {
			return err
		}
		return api.Output(report)
	},
}

func init() {
	cacheEvictCmd.Flags().Int64Var(&cacheMaxBytes, "max-bytes", 0, "size limit in bytes (default from config)")
	cacheClearCmd.Flags().BoolVar(&cacheYes, "yes", false, "confirm removal of every entry")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheEvictCmd)
}

// openCache opens only the cache; no provider credentials are needed.
func openCache(cmd *cobra.Command) (*cache.Cache, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	mgr, h, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	maxBytes := cfg.Cache.MaxBytes
	if cacheMaxBytes > 0 {
		maxBytes = cacheMaxBytes
	}
	return cache.Open(cmd.Context(), cache.Config{
		Dir:      home.Resolve(cfg.Cache.Dir, h.CachePath()),
		MaxBytes: maxBytes,
		Logger:   logger,
	})
}
