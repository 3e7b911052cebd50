package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OSC.Host != "127.0.0.1" || cfg.OSC.Port != 9000 {
		t.Fatalf("expected default OSC target 127.0.0.1:9000, got %s:%d", cfg.OSC.Host, cfg.OSC.Port)
	}
	if len(cfg.Keywords.Vocabulary) != 3 {
		t.Fatalf("expected 3 default vocabulary entries, got %d", len(cfg.Keywords.Vocabulary))
	}
	if cfg.Keywords.Vocabulary[0].Name != "love" {
		t.Fatalf("expected first keyword love, got %q", cfg.Keywords.Vocabulary[0].Name)
	}
	if cfg.OSC.PulseResetMS != 0 {
		t.Fatalf("pulse reset must be disabled by default, got %d", cfg.OSC.PulseResetMS)
	}
	if cfg.Keywords.CooldownMS != 0 {
		t.Fatalf("cooldown must be disabled by default, got %d", cfg.Keywords.CooldownMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMPANION_OSC_HOST", "10.0.0.5")
	t.Setenv("COMPANION_OSC_PORT", "9100")
	t.Setenv("COMPANION_OSC_PULSE_RESET_MS", "100")
	t.Setenv("COMPANION_AUDIO_MODE", "mock")
	t.Setenv("COMPANION_AUDIO_VAD_ENERGY_THRESHOLD", "750.5")
	t.Setenv("COMPANION_STT_MODE", "exec")
	t.Setenv("COMPANION_STT_COMMAND", "whisper-cli --json")
	t.Setenv("COMPANION_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("COMPANION_EVENT_STORE_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OSC.Host != "10.0.0.5" || cfg.OSC.Port != 9100 {
		t.Fatalf("expected OSC target override, got %s:%d", cfg.OSC.Host, cfg.OSC.Port)
	}
	if cfg.OSC.PulseResetMS != 100 {
		t.Fatalf("expected pulse reset override, got %d", cfg.OSC.PulseResetMS)
	}
	if cfg.Audio.Mode != "mock" {
		t.Fatalf("expected audio mode override, got %q", cfg.Audio.Mode)
	}
	if cfg.Audio.VAD.EnergyThreshold != 750.5 {
		t.Fatalf("expected vad threshold override, got %v", cfg.Audio.VAD.EnergyThreshold)
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("expected stt override, got %q %q", cfg.STT.Mode, cfg.STT.Command)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 bus servers, got %v", cfg.Bus.Servers)
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override, got %q", cfg.EventStore.RetentionMode)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companion.yaml")
	doc := `
osc:
  host: 192.168.1.20
  port: 7001
keywords:
  cooldown_ms: 2000
  vocabulary:
    - name: light
      synonyms: [bright, shine, glow]
    - name: dark
      address: /keyword/shadow
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OSC.Host != "192.168.1.20" || cfg.OSC.Port != 7001 {
		t.Fatalf("expected file OSC target, got %s:%d", cfg.OSC.Host, cfg.OSC.Port)
	}
	if cfg.Keywords.CooldownMS != 2000 {
		t.Fatalf("expected cooldown 2000, got %d", cfg.Keywords.CooldownMS)
	}
	if len(cfg.Keywords.Vocabulary) != 2 {
		t.Fatalf("expected vocabulary from file, got %v", cfg.Keywords.Vocabulary)
	}
	if cfg.Keywords.Vocabulary[1].Address != "/keyword/shadow" {
		t.Fatalf("expected explicit address, got %q", cfg.Keywords.Vocabulary[1].Address)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad audio mode", func(c *Config) { c.Audio.Mode = "alsa" }},
		{"exec without command", func(c *Config) { c.STT.Mode = "exec"; c.STT.Command = "" }},
		{"empty vocabulary", func(c *Config) { c.Keywords.Vocabulary = nil }},
		{"bad address", func(c *Config) { c.Keywords.Vocabulary[0].Address = "keyword/love" }},
		{"duplicate keyword", func(c *Config) {
			c.Keywords.Vocabulary = append(c.Keywords.Vocabulary, VocabularyEntry{Name: "love"})
		}},
		{"bad osc port", func(c *Config) { c.OSC.Port = 0 }},
		{"negative cooldown", func(c *Config) { c.Keywords.CooldownMS = -1 }},
		{"bad retention mode", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
