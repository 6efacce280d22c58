package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rexlive/internal/tools"
	"github.com/MrWong99/rexlive/internal/tools/mcptools"
	"github.com/MrWong99/rexlive/internal/voice"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8080"
	DefaultCaptureRate  = 16000
	DefaultPlaybackRate = 24000
	DefaultChunkFrames  = 1024
	DefaultHistoryLimit = 10
	DefaultSQLitePath   = "rexlive.db"
	DefaultPeerRate     = 16000
)

// ValidProviderNames lists the built-in speech-to-speech providers.
var ValidProviderNames = []string{"gemini", "openai"}

// APIKeyEnv maps a provider name to the environment variable holding its
// API key.
var APIKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment keys applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment keys, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Audio.ChunkFrames == 0 {
		cfg.Audio.ChunkFrames = DefaultChunkFrames
	}

	vd := voice.DefaultSettings()
	if cfg.Voice.VADThreshold == 0 {
		cfg.Voice.VADThreshold = vd.VADThreshold
	}
	if cfg.Voice.BargeInThreshold == 0 {
		cfg.Voice.BargeInThreshold = vd.BargeInThreshold
	}
	if cfg.Voice.MuteWindow == 0 {
		cfg.Voice.MuteWindow = vd.MuteWindow
	}
	if cfg.Voice.SilenceDuration == 0 {
		cfg.Voice.SilenceDuration = vd.SilenceDuration
	}
	if cfg.Voice.FinishDelay == 0 {
		cfg.Voice.FinishDelay = voice.DefaultFinishDelay
	}

	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = DefaultHistoryLimit
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemorySQLite
	}
	if cfg.Memory.Backend == MemorySQLite && cfg.Memory.DSN == "" {
		cfg.Memory.DSN = DefaultSQLitePath
	}

	if cfg.Bridge.PeerRate == 0 {
		cfg.Bridge.PeerRate = DefaultPeerRate
	}

	for i := range cfg.Tools.MCPServers {
		if cfg.Tools.MCPServers[i].Transport == "" {
			cfg.Tools.MCPServers[i].Transport = mcptools.TransportStdio
		}
	}
}

// ApplyEnv fills empty API keys from the provider's environment variable.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" {
			return
		}
		if key, ok := APIKeyEnv[e.Name]; ok {
			e.APIKey = getenv(key)
		}
	}
	fill(&cfg.Provider.ProviderEntry)
	for i := range cfg.Provider.Fallbacks {
		fill(&cfg.Provider.Fallbacks[i])
	}
}

// Settings converts the voice section into gate settings.
func (v VoiceConfig) Settings() voice.Settings {
	return voice.Settings{
		VADThreshold:       v.VADThreshold,
		BargeInThreshold:   v.BargeInThreshold,
		BargeInSuppression: v.BargeInEnabled(),
		MuteWindow:         v.MuteWindow,
		SilenceDuration:    v.SilenceDuration,
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	errs = append(errs, validateEntry("provider", cfg.Provider.ProviderEntry)...)
	seen := map[string]bool{cfg.Provider.Name: true}
	for i, fb := range cfg.Provider.Fallbacks {
		prefix := fmt.Sprintf("provider.fallbacks[%d]", i)
		errs = append(errs, validateEntry(prefix, fb)...)
		if seen[fb.Name] {
			slog.Warn("provider fallback repeats an earlier provider", "entry", prefix, "name", fb.Name)
		}
		seen[fb.Name] = true
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 || cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, errors.New("audio rates must be positive"))
	}
	if cfg.Audio.ChunkFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_frames %d must be positive", cfg.Audio.ChunkFrames))
	}

	// Voice
	if cfg.Voice.VADThreshold < 0 {
		errs = append(errs, fmt.Errorf("voice.vad_threshold %.0f must not be negative", cfg.Voice.VADThreshold))
	}
	if cfg.Voice.BargeInThreshold < 0 {
		errs = append(errs, fmt.Errorf("voice.barge_in_threshold %.0f must not be negative", cfg.Voice.BargeInThreshold))
	}
	if cfg.Voice.BargeInThreshold > 0 && cfg.Voice.BargeInThreshold < cfg.Voice.VADThreshold {
		slog.Warn("voice.barge_in_threshold is below voice.vad_threshold; quiet speech will interrupt the agent",
			"barge_in_threshold", cfg.Voice.BargeInThreshold,
			"vad_threshold", cfg.Voice.VADThreshold,
		)
	}
	if cfg.Voice.MuteWindow < 0 || cfg.Voice.SilenceDuration < 0 || cfg.Voice.FinishDelay < 0 {
		errs = append(errs, errors.New("voice durations must not be negative"))
	}

	// Session
	if cfg.Session.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("session.history_limit %d must not be negative", cfg.Session.HistoryLimit))
	}
	if cfg.Session.BackoffMax > 0 && cfg.Session.BackoffMin > cfg.Session.BackoffMax {
		errs = append(errs, fmt.Errorf("session.backoff_min %s exceeds session.backoff_max %s", cfg.Session.BackoffMin, cfg.Session.BackoffMax))
	}

	// Tools
	for name, shape := range cfg.Tools.Shapes {
		if _, err := tools.ParseShape(shape); err != nil {
			errs = append(errs, fmt.Errorf("tools.shapes.%s: %w", name, err))
		}
	}
	names := make(map[string]int, len(cfg.Tools.MCPServers))
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := names[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp_servers[%d]", prefix, srv.Name, prev))
			}
			names[srv.Name] = i
		}
		switch srv.Transport {
		case mcptools.TransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case mcptools.TransportStreamableHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if _, err := tools.ParseShape(srv.Shape); err != nil {
			errs = append(errs, fmt.Errorf("%s.shape: %w", prefix, err))
		}
	}

	// Memory
	if !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: none, sqlite, postgres", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == MemoryPostgres && cfg.Memory.DSN == "" {
		errs = append(errs, errors.New("memory.dsn is required when backend is postgres"))
	}
	if cfg.Memory.Backend == MemoryNone && cfg.Tools.History {
		slog.Warn("tools.history is enabled but memory.backend is none; recall_conversation will always be empty")
	}

	// Bridge
	if cfg.Bridge.PeerRate < 0 || cfg.Bridge.QueueSize < 0 {
		errs = append(errs, errors.New("bridge.peer_rate and bridge.queue_size must not be negative"))
	}
	if cfg.Audio.Disabled && !cfg.Bridge.Enabled {
		slog.Warn("audio is disabled and no peer bridge is enabled; the agent can only be reached through text notifications")
	}

	return errors.Join(errs...)
}

func validateEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	if !slices.Contains(ValidProviderNames, e.Name) {
		errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: gemini, openai", prefix, e.Name))
	}
	if e.APIKey == "" {
		env := APIKeyEnv[e.Name]
		if env == "" {
			env = "the provider's API key variable"
		}
		errs = append(errs, fmt.Errorf("%s.api_key is required (or set %s)", prefix, env))
	}
	return errs
}
