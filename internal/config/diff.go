package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; the rest are
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true if any gate tunable changed.
	VoiceChanged bool

	// PermissionsChanged is true if the permission map or master control
	// changed.
	PermissionsChanged bool

	// RestartRequired names changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.PermissionsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice.Settings() != new.Voice.Settings() {
		d.VoiceChanged = true
	}

	if old.Tools.MasterControl != new.Tools.MasterControl ||
		!maps.Equal(old.Tools.Permissions, new.Tools.Permissions) {
		d.PermissionsChanged = true
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("provider", !providerEqual(old.Provider, new.Provider))
	restart("audio", old.Audio != new.Audio)
	restart("session", old.Session != new.Session)
	restart("memory", old.Memory != new.Memory)
	restart("bridge", old.Bridge != new.Bridge)
	restart("video", old.Video != new.Video)
	restart("tools.mcp_servers", !slices.EqualFunc(old.Tools.MCPServers, new.Tools.MCPServers, mcpEqual))
	restart("tools.shapes", !maps.Equal(old.Tools.Shapes, new.Tools.Shapes))
	restart("tools.workspace_dir", old.Tools.WorkspaceDir != new.Tools.WorkspaceDir)
	restart("tools.history", old.Tools.History != new.Tools.History)

	return d
}

func providerEqual(a, b ProviderConfig) bool {
	return a.ProviderEntry == b.ProviderEntry &&
		a.Voice == b.Voice &&
		a.Instructions == b.Instructions &&
		slices.Equal(a.Fallbacks, b.Fallbacks)
}

func mcpEqual(a, b MCPServerConfig) bool {
	return a.Name == b.Name &&
		a.Transport == b.Transport &&
		a.Command == b.Command &&
		a.URL == b.URL &&
		a.Shape == b.Shape &&
		maps.Equal(a.Env, b.Env)
}
