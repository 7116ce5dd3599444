package classifier

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dvloznov/spendtrack/internal/config"
)

// Model is a text-completion backend.
type Model interface {
	// Name identifies the backend and model for logs.
	Name() string
	// Generate returns the model's reply to prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	DefaultOllamaModel = "gemma2:2b"
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultGeminiModel = "gemini-2.5-flash"
)

// NewModelFromConfig builds the backend selected by cfg.Backend.
func NewModelFromConfig(ctx context.Context, cfg config.ClassifierConfig) (Model, error) {
	switch cfg.Backend {
	case "", "ollama":
		host := cfg.Host
		if host == "" {
			host = DefaultOllamaHost
		}
		model := cfg.Model
		if model == "" {
			model = DefaultOllamaModel
		}
		return NewOllamaModel(host, model, http.DefaultClient)
	case "gemini":
		model := cfg.Model
		// The shared default names a local model.
		if model == "" || model == DefaultOllamaModel {
			model = DefaultGeminiModel
		}
		return NewGeminiModel(ctx, model)
	default:
		return nil, fmt.Errorf("NewModelFromConfig: unknown backend %q", cfg.Backend)
	}
}
