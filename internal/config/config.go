package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
	SilenceMS       int     `yaml:"silence_ms"`
}

type AudioConfig struct {
	Enabled         bool      `yaml:"enabled"`
	Mode            string    `yaml:"mode"` // portaudio, mock
	Device          string    `yaml:"device"`
	SampleRate      int       `yaml:"sample_rate"`
	Channels        int       `yaml:"channels"`
	FrameDurationMS int       `yaml:"frame_duration_ms"`
	MaxUtteranceMS  int       `yaml:"max_utterance_ms"`
	VAD             VADConfig `yaml:"vad"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type VocabularyEntry struct {
	Name     string   `yaml:"name"`
	Address  string   `yaml:"address"`
	Synonyms []string `yaml:"synonyms"`
}

type KeywordConfig struct {
	Enabled       bool              `yaml:"enabled"`
	MatchPartial  bool              `yaml:"match_partial"`
	CooldownMS    int               `yaml:"cooldown_ms"`
	AddressPrefix string            `yaml:"address_prefix"`
	Vocabulary    []VocabularyEntry `yaml:"vocabulary"`
}

type OSCConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	PulseResetMS      int    `yaml:"pulse_reset_ms"`
	SendTranscripts   bool   `yaml:"send_transcripts"`
	TranscriptAddress string `yaml:"transcript_address"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUtterances int    `yaml:"max_utterances"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	STT         STTConfig        `yaml:"stt"`
	Keywords    KeywordConfig    `yaml:"keywords"`
	OSC         OSCConfig        `yaml:"osc"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

// DefaultVocabulary is the shipped trigger set: three canonical keywords with
// the synonym groups the installation listens for. Every term maps onto one of
// the three /keyword/* addresses.
func DefaultVocabulary() []VocabularyEntry {
	return []VocabularyEntry{
		{Name: "love", Synonyms: []string{"adore", "cherish", "enjoy", "appreciate", "treasure"}},
		{Name: "hate", Synonyms: []string{"despise", "detest", "loathe", "dislike"}},
		{Name: "stop", Synonyms: []string{"halt", "cease", "end", "quit", "pause"}},
	}
}

func Default() Config {
	return Config{
		RuntimeName: "companiond",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Enabled:         true,
			Mode:            "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			MaxUtteranceMS:  3000,
			VAD: VADConfig{
				EnergyThreshold: 500,
				SilenceMS:       600,
			},
		},
		STT: STTConfig{
			Enabled:        true,
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
		},
		Keywords: KeywordConfig{
			Enabled:       true,
			AddressPrefix: "/keyword/",
			Vocabulary:    DefaultVocabulary(),
		},
		OSC: OSCConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              9000,
			TranscriptAddress: "/transcription/text",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/companion-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxUtterances: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "COMPANION_RUNTIME_NAME")
	overrideString(&cfg.Environment, "COMPANION_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "COMPANION_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "COMPANION_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "COMPANION_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "COMPANION_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "COMPANION_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "COMPANION_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "COMPANION_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "COMPANION_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "COMPANION_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "COMPANION_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "COMPANION_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "COMPANION_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "COMPANION_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "COMPANION_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Audio.Enabled, "COMPANION_AUDIO_ENABLED")
	overrideString(&cfg.Audio.Mode, "COMPANION_AUDIO_MODE")
	overrideString(&cfg.Audio.Device, "COMPANION_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "COMPANION_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "COMPANION_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "COMPANION_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.MaxUtteranceMS, "COMPANION_AUDIO_MAX_UTTERANCE_MS")
	overrideFloat(&cfg.Audio.VAD.EnergyThreshold, "COMPANION_AUDIO_VAD_ENERGY_THRESHOLD")
	overrideInt(&cfg.Audio.VAD.SilenceMS, "COMPANION_AUDIO_VAD_SILENCE_MS")
	overrideBool(&cfg.STT.Enabled, "COMPANION_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "COMPANION_STT_MODE")
	overrideString(&cfg.STT.Command, "COMPANION_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "COMPANION_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "COMPANION_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "COMPANION_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "COMPANION_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "COMPANION_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "COMPANION_STT_PUBLISH_INTERIM")
	overrideBool(&cfg.Keywords.Enabled, "COMPANION_KEYWORDS_ENABLED")
	overrideBool(&cfg.Keywords.MatchPartial, "COMPANION_KEYWORDS_MATCH_PARTIAL")
	overrideInt(&cfg.Keywords.CooldownMS, "COMPANION_KEYWORDS_COOLDOWN_MS")
	overrideString(&cfg.Keywords.AddressPrefix, "COMPANION_KEYWORDS_ADDRESS_PREFIX")
	overrideBool(&cfg.OSC.Enabled, "COMPANION_OSC_ENABLED")
	overrideString(&cfg.OSC.Host, "COMPANION_OSC_HOST")
	overrideInt(&cfg.OSC.Port, "COMPANION_OSC_PORT")
	overrideInt(&cfg.OSC.PulseResetMS, "COMPANION_OSC_PULSE_RESET_MS")
	overrideBool(&cfg.OSC.SendTranscripts, "COMPANION_OSC_SEND_TRANSCRIPTS")
	overrideString(&cfg.OSC.TranscriptAddress, "COMPANION_OSC_TRANSCRIPT_ADDRESS")
	overrideString(&cfg.EventStore.Path, "COMPANION_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "COMPANION_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "COMPANION_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxUtterances, "COMPANION_EVENT_STORE_MAX_UTTERANCES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "COMPANION_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg *Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.Enabled {
		switch cfg.Audio.Mode {
		case "portaudio", "mock":
		default:
			return errors.New("audio.mode must be one of portaudio|mock")
		}
		if cfg.Audio.SampleRate <= 0 {
			return errors.New("audio.sample_rate must be positive")
		}
		if cfg.Audio.Channels <= 0 {
			return errors.New("audio.channels must be positive")
		}
		if cfg.Audio.FrameDurationMS <= 0 {
			return errors.New("audio.frame_duration_ms must be positive")
		}
		if cfg.Audio.MaxUtteranceMS <= 0 {
			return errors.New("audio.max_utterance_ms must be positive")
		}
		if cfg.Audio.VAD.SilenceMS <= 0 {
			return errors.New("audio.vad.silence_ms must be positive")
		}
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
	}
	if cfg.Keywords.Enabled {
		if len(cfg.Keywords.Vocabulary) == 0 {
			return errors.New("keywords.vocabulary must not be empty when keywords are enabled")
		}
		if cfg.Keywords.AddressPrefix == "" {
			cfg.Keywords.AddressPrefix = "/keyword/"
		}
		if !strings.HasPrefix(cfg.Keywords.AddressPrefix, "/") {
			return errors.New("keywords.address_prefix must start with /")
		}
		if cfg.Keywords.CooldownMS < 0 {
			return errors.New("keywords.cooldown_ms must be >= 0")
		}
		seen := make(map[string]struct{})
		for _, entry := range cfg.Keywords.Vocabulary {
			if entry.Name == "" {
				return errors.New("keywords.vocabulary entries must have a name")
			}
			if entry.Address != "" && !strings.HasPrefix(entry.Address, "/") {
				return fmt.Errorf("keywords.vocabulary %q: address must start with /", entry.Name)
			}
			if _, dup := seen[entry.Name]; dup {
				return fmt.Errorf("keywords.vocabulary %q: duplicate name", entry.Name)
			}
			seen[entry.Name] = struct{}{}
		}
	}
	if cfg.OSC.Enabled {
		if cfg.OSC.Host == "" {
			return errors.New("osc.host must not be empty")
		}
		if cfg.OSC.Port <= 0 || cfg.OSC.Port > 65535 {
			return errors.New("osc.port must be between 1 and 65535")
		}
		if cfg.OSC.PulseResetMS < 0 {
			return errors.New("osc.pulse_reset_ms must be >= 0")
		}
		if cfg.OSC.SendTranscripts && cfg.OSC.TranscriptAddress == "" {
			return errors.New("osc.transcript_address must be set when send_transcripts is enabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
