package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaModel calls a local Ollama server's generate endpoint.
type OllamaModel struct {
	client *api.Client
	model  string
}

// NewOllamaModel creates a client for the server at host.
func NewOllamaModel(host, model string, httpClient *http.Client) (*OllamaModel, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("NewOllamaModel: parse host %q: %w", host, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("NewOllamaModel: host %q must be an absolute URL", host)
	}
	return &OllamaModel{
		client: api.NewClient(base, httpClient),
		model:  model,
	}, nil
}

func (m *OllamaModel) Name() string {
	return "ollama/" + m.model
}

// Generate sends a non-streaming request constrained to JSON output.
func (m *OllamaModel) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  m.model,
		Prompt: prompt,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]interface{}{
			"temperature": 0,
		},
	}

	var out strings.Builder
	err := m.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("OllamaModel.Generate: %w", err)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("OllamaModel.Generate: empty response from model")
	}
	return out.String(), nil
}
