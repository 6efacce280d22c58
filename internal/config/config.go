// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for rexlive.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/rexlive/internal/tools/mcptools"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MemoryBackend selects where chat turns are persisted.
type MemoryBackend string

const (
	MemoryNone     MemoryBackend = "none"
	MemorySQLite   MemoryBackend = "sqlite"
	MemoryPostgres MemoryBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case MemoryNone, MemorySQLite, MemoryPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Audio    AudioConfig    `yaml:"audio"`
	Voice    VoiceConfig    `yaml:"voice"`
	Session  SessionConfig  `yaml:"session"`
	Tools    ToolsConfig    `yaml:"tools"`
	Memory   MemoryConfig   `yaml:"memory"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Video    VideoConfig    `yaml:"video"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP surface (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns accepted for cross-origin
	// WebSocket clients of the event hub.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProviderEntry selects one speech-to-speech backend. Name is looked up in
// the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider ("gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the service. When empty it is read from
	// the provider's environment variable (see [ApplyEnv]).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the service endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model.
	Model string `yaml:"model"`
}

// ProviderConfig is the primary backend plus optional fallbacks tried in
// order when the primary keeps failing to connect.
type ProviderConfig struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the provider-specific voice name.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt.
	Instructions string `yaml:"instructions"`

	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AudioConfig describes the local audio device streams.
type AudioConfig struct {
	// Disabled runs without microphone and speaker, e.g. when a peer
	// bridge carries the conversation.
	Disabled bool `yaml:"disabled"`

	CaptureRate  int `yaml:"capture_rate"`
	PlaybackRate int `yaml:"playback_rate"`

	// ChunkFrames is the number of samples per captured chunk.
	ChunkFrames int `yaml:"chunk_frames"`
}

// VoiceConfig tunes the VAD and barge-in gate. All fields are
// hot-reloadable.
type VoiceConfig struct {
	VADThreshold     float64 `yaml:"vad_threshold"`
	BargeInThreshold float64 `yaml:"barge_in_threshold"`

	// BargeIn enables suppression of the user's audio while the agent
	// speaks. Defaults to true.
	BargeIn *bool `yaml:"barge_in"`

	MuteWindow      time.Duration `yaml:"mute_window"`
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// FinishDelay is how long after its last chunk the agent still counts
	// as speaking.
	FinishDelay time.Duration `yaml:"finish_delay"`
}

// BargeInEnabled reports the effective barge-in setting.
func (v VoiceConfig) BargeInEnabled() bool { return v.BargeIn == nil || *v.BargeIn }

// SessionConfig tunes the session controller.
type SessionConfig struct {
	// StartMessage is sent as a user turn when the first session opens.
	StartMessage string `yaml:"start_message"`

	// HistoryLimit is the number of chat turns replayed after a reconnect.
	HistoryLimit int `yaml:"history_limit"`

	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// ToolsConfig declares the tools offered to the model and how calls are
// confirmed.
type ToolsConfig struct {
	// MasterControl skips every confirmation.
	MasterControl bool `yaml:"master_control"`

	// Permissions maps a tool name to whether it requires confirmation.
	// Tools not listed require confirmation.
	Permissions map[string]bool `yaml:"permissions"`

	// Shapes overrides a tool's execution shape ("inline",
	// "fire_and_forget").
	Shapes map[string]string `yaml:"shapes"`

	// WorkspaceDir enables the built-in file tools rooted at this
	// directory. Empty disables them.
	WorkspaceDir string `yaml:"workspace_dir"`

	// History enables the built-in recall_conversation tool.
	History bool `yaml:"history"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	Name      string             `yaml:"name"`
	Transport mcptools.Transport `yaml:"transport"`

	// Command is the executable plus arguments (stdio).
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`

	// URL is the endpoint (streamable-http).
	URL string `yaml:"url"`

	// Shape applies to every tool of this server.
	Shape string `yaml:"shape"`
}

// MemoryConfig selects chat persistence.
type MemoryConfig struct {
	Backend MemoryBackend `yaml:"backend"`

	// DSN is a PostgreSQL connection string or an SQLite file path.
	DSN string `yaml:"dsn"`
}

// BridgeConfig enables the peer-device audio bridge.
type BridgeConfig struct {
	Enabled bool `yaml:"enabled"`

	// PeerRate is the sample rate the peer streams and expects.
	PeerRate int `yaml:"peer_rate"`

	QueueSize int `yaml:"queue_size"`
}

// VideoConfig enables a polled snapshot file as a frame source.
type VideoConfig struct {
	SnapshotPath string        `yaml:"snapshot_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SlogLevel maps l to its [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
