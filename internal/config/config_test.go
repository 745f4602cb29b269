package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.TTS.APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.Chunking.MinChunkSize != 1000 || cfg.Chunking.MaxChunkSize != 5000 {
		t.Errorf("unexpected chunk bounds %+v", cfg.Chunking)
	}
	if cfg.RetryPolicy().BaseDelay != time.Second || cfg.AttemptTimeout() != 2*time.Minute {
		t.Error("unexpected retry durations")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestProviderConfigResolvesAPIKey(t *testing.T) {
	t.Setenv("TEST_TTS_KEY", "tts-key-123")

	cfg := DefaultConfig()
	cfg.TTS.APIKey = "${TEST_TTS_KEY}"
	cfg.TTS.Timeout = "45s"

	pc := cfg.ProviderConfig()
	if pc.APIKey != "tts-key-123" {
		t.Errorf("expected tts-key-123, got %s", pc.APIKey)
	}
	if pc.Timeout != 45*time.Second {
		t.Errorf("timeout = %s", pc.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"speed too low", func(c *Config) { c.TTS.Speed = 0.1 }, "tts.speed"},
		{"speed too high", func(c *Config) { c.TTS.Speed = 4.5 }, "tts.speed"},
		{"inverted chunk bounds", func(c *Config) { c.Chunking.MaxChunkSize = 500 }, "chunking.max_chunk_size"},
		{"chunk size outside bounds", func(c *Config) { c.Chunking.ChunkSize = 9000 }, "chunking.chunk_size"},
		{"empty pool", func(c *Config) { c.Workers.PoolSize = 0 }, "workers.pool_size"},
		{"bad duration", func(c *Config) { c.Retry.BaseDelay = "soon" }, "retry.base_delay"},
		{"negative duration", func(c *Config) { c.Jobs.Retention = "-1h" }, "jobs.retention"},
		{"unknown format", func(c *Config) { c.TTS.Format = "midi" }, "tts.format"},
		{"no provider", func(c *Config) { c.TTS.Provider = "" }, "tts.provider"},
		{"bad fade", func(c *Config) { c.Audio.FadeOut = "slowly" }, "audio.fade_out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestJobDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTS.Voice = "nova"
	cfg.Audio.Compress = true

	s := cfg.JobDefaults()
	if s.Voice != "nova" || s.Format != "wav" || s.MaxChunkSize != 4000 || !s.CompressEnabled() {
		t.Errorf("unexpected defaults %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("job defaults should validate: %v", err)
	}
}

func TestEnhancementFades(t *testing.T) {
	cfg := DefaultConfig()
	if e := cfg.Enhancement(); e.FadeIn != 0 || e.FadeOut != 0 {
		t.Errorf("fades should default off, got %+v", e)
	}
	cfg.Audio.FadeIn = "250ms"
	cfg.Audio.FadeOut = "2s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	e := cfg.Enhancement()
	if e.FadeIn != 250*time.Millisecond || e.FadeOut != 2*time.Second {
		t.Errorf("fades = %s/%s", e.FadeIn, e.FadeOut)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
tts:
  voice: "echo"
  speed: 1.5
workers:
  pool_size: 8
`)
		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.TTS.Voice != "echo" || cfg.TTS.Speed != 1.5 {
			t.Errorf("unexpected tts section %+v", cfg.TTS)
		}
		if cfg.Workers.PoolSize != 8 {
			t.Errorf("expected pool size 8, got %d", cfg.Workers.PoolSize)
		}
		// Untouched keys keep their defaults.
		if cfg.TTS.Model != "tts-1" || cfg.Retry.MaxAttempts != 3 {
			t.Errorf("defaults not applied: %+v", cfg)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %q", mgr.ConfigFile())
		}
	})

	t.Run("runs on defaults without a file", func(t *testing.T) {
		mgr, err := NewManager("", t.TempDir())
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.Get().TTS.Provider != "openai" {
			t.Errorf("unexpected provider %q", mgr.Get().TTS.Provider)
		}
	})

	t.Run("environment overrides nested keys", func(t *testing.T) {
		t.Setenv("NARRATOR_TTS_VOICE", "shimmer")
		t.Setenv("NARRATOR_WORKERS_MAX_JOBS", "5")

		mgr, err := NewManager(writeConfig(t, "tts:\n  voice: echo\n"))
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.TTS.Voice != "shimmer" {
			t.Errorf("expected env voice, got %s", cfg.TTS.Voice)
		}
		if cfg.Workers.MaxJobs != 5 {
			t.Errorf("expected 5 max jobs, got %d", cfg.Workers.MaxJobs)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		_, err := NewManager(writeConfig(t, "tts:\n  speed: 9\n"))
		if err == nil {
			t.Fatal("expected error for out of range speed")
		}
	})
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written default: %v", err)
	}
	cfg := mgr.Get()
	def := DefaultConfig()
	if cfg.TTS != def.TTS || cfg.Retry != def.Retry || cfg.Jobs != def.Jobs {
		t.Errorf("written config differs from defaults:\n%+v\n%+v", cfg, def)
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "tts:\n  voice: alloy\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "tts:\n  voice: alloy\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().TTS.Voice
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "tts:\n  voice: alloy\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if mgr.Get().TTS.Voice != "alloy" {
		t.Fatalf("initial value mismatch: got %s", mgr.Get().TTS.Voice)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.TTS.Voice)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("tts:\n  voice: nova\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if v, _ := lastValue.Load().(string); v != "nova" {
		t.Errorf("callback saw voice %q, want nova", v)
	}
	if mgr.Get().TTS.Voice != "nova" {
		t.Errorf("Get() voice = %q, want nova", mgr.Get().TTS.Voice)
	}
}
