package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/narrator/internal/api"
	"github.com/jackzampolin/narrator/internal/home"
	"github.com/jackzampolin/narrator/internal/providers"
	"github.com/jackzampolin/narrator/internal/voices"
)

var voicesRefresh bool

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List voices offered by the configured provider",
	Long: `List voices from the local catalog. The catalog is synced from the
provider on first use or with --refresh.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, h, err := voicesProvider()
		if err != nil {
			return err
		}
		c, err := voices.Load(h.VoicesPath())
		if err != nil {
			return err
		}
		if voicesRefresh || len(c.List(p.Name())) == 0 {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			if _, err := voices.Sync(cmd.Context(), c, voices.SyncConfig{Provider: p, Logger: logger}); err != nil {
				return err
			}
			if err := c.Save(); err != nil {
				return err
			}
		}
		return api.Output(c.List(p.Name()))
	},
}

var voicesDefaultCmd = &cobra.Command{
	Use:   "default <voice-id>",
	Short: "Set the default voice used when convert gets no --voice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, h, err := voicesProvider()
		if err != nil {
			return err
		}
		c, err := voices.Load(h.VoicesPath())
		if err != nil {
			return err
		}
		if err := c.SetDefault(p.Name(), args[0]); err != nil {
			return fmt.Errorf("%w (run 'narrator voices --refresh')", err)
		}
		if err := c.Save(); err != nil {
			return err
		}
		return api.Output(c.Default(p.Name()))
	},
}

func init() {
	voicesCmd.Flags().BoolVar(&voicesRefresh, "refresh", false, "sync the catalog from the provider")
	voicesCmd.AddCommand(voicesDefaultCmd)
}

func voicesProvider() (providers.SpeechProvider, *home.Dir, error) {
	mgr, h, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	p, err := providers.New(mgr.Get().ProviderConfig())
	if err != nil {
		return nil, nil, err
	}
	return p, h, nil
}
