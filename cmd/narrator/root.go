package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/config"
	"github.com/jackzampolin/narrator/internal/home"
	"github.com/jackzampolin/narrator/internal/svcctx"
	"github.com/jackzampolin/narrator/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "narrator",
	Short: "Convert documents into narrated audiobooks",
	Long: `Narrator converts text documents into audiobooks using a
text-to-speech provider.

The pipeline includes:
  - Text extraction from txt, markdown, pdf and docx
  - Chapter detection and chunking at sentence boundaries
  - Cached, rate-limited speech synthesis with retries
  - Chapter and whole-book audio with a bookmarks file`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.narrator/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "narrator home directory (default: ~/.narrator)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		api.SetWriter(cmd.OutOrStdout())
		return api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(voicesCmd)
}

// newLogger writes text logs to stderr so stdout stays machine readable.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig resolves the home directory and loads configuration from
// --config, the working directory or the home directory.
func loadConfig() (*config.Manager, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, nil, err
	}
	return mgr, h, nil
}

// buildServices wires the full service graph. The caller owns Close.
func buildServices(ctx context.Context) (*svcctx.Services, *config.Manager, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	mgr, h, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if f := mgr.ConfigFile(); f != "" {
		logger.Debug("loaded config", "file", f)
	}

	s, err := svcctx.New(ctx, mgr.Get(), h, logger, svcctx.Options{})
	if err != nil {
		return nil, nil, err
	}
	return s, mgr, nil
}
