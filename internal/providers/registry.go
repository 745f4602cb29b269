package providers

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config selects and configures a speech provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Voice    string
	Timeout  time.Duration
}

type factory func(Config) (SpeechProvider, error)

var factories = map[string]factory{
	OpenAIName: func(cfg Config) (SpeechProvider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: api_key is required")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Voice:   cfg.Voice,
			Timeout: cfg.Timeout,
			BaseURL: cfg.BaseURL,
		}), nil
	},
	ElevenLabsName: func(cfg Config) (SpeechProvider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("elevenlabs: api_key is required")
		}
		return NewElevenLabsClient(ElevenLabsConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Voice:   cfg.Voice,
			Timeout: cfg.Timeout,
			BaseURL: cfg.BaseURL,
		}), nil
	},
	MockName: func(Config) (SpeechProvider, error) {
		return NewMockSpeechProvider(), nil
	},
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (SpeechProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = OpenAIName
	}
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown speech provider %q (available: %s)", cfg.Provider, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// Names lists the registered provider names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
