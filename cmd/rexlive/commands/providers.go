package commands

import (
	"github.com/MrWong99/rexlive/internal/config"
	"github.com/MrWong99/rexlive/pkg/provider/s2s"
	"github.com/MrWong99/rexlive/pkg/provider/s2s/gemini"
	"github.com/MrWong99/rexlive/pkg/provider/s2s/openai"
)

// registerBuiltinProviders adds a factory for every speech-to-speech backend
// shipped with rexlive.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.Register("openai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, opts...), nil
	})
}
