package voices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/narrator/internal/providers"
)

// SyncConfig holds configuration for voice sync.
type SyncConfig struct {
	Provider providers.SpeechProvider
	Logger   *slog.Logger
	Now      func() time.Time
}

// Sync fetches the provider's voices and upserts them by voice ID. Existing
// defaults are kept; voices the provider no longer offers are removed.
func Sync(ctx context.Context, c *Catalog, cfg SyncConfig) (int, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	lister, ok := cfg.Provider.(providers.VoicesLister)
	if !ok {
		return 0, fmt.Errorf("provider %s cannot list voices", cfg.Provider.Name())
	}
	name := cfg.Provider.Name()
	apiVoices, err := lister.ListVoices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s voices: %w", name, err)
	}
	cfg.Logger.Info("syncing voices", "provider", name, "count", len(apiVoices))

	defaults := map[string]bool{}
	kept := c.Voices[:0:0]
	for _, v := range c.Voices {
		if v.Provider == name {
			defaults[v.VoiceID] = v.IsDefault
			continue
		}
		kept = append(kept, v)
	}

	now := cfg.Now().UTC().Format(time.RFC3339)
	for _, v := range apiVoices {
		kept = append(kept, Voice{
			VoiceID:     v.VoiceID,
			Name:        v.Name,
			Description: v.Description,
			Provider:    name,
			IsDefault:   defaults[v.VoiceID],
			SyncedAt:    now,
		})
	}
	c.Voices = kept

	cfg.Logger.Info("voice sync complete", "provider", name, "synced", len(apiVoices))
	return len(apiVoices), nil
}
