package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/r3e-network/agentcustody/internal/domain"
)

// StaticProvider returns a fixed response regardless of prompt; used by
// tests and as a zero-configuration default when no vendor key is set.
type StaticProvider struct {
	ProviderName domain.Provider
	Response     string
	Err          error
}

func (p StaticProvider) Name() domain.Provider { return p.ProviderName }

func (p StaticProvider) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, int64, int64, error) {
	if p.Err != nil {
		return "", 0, 0, p.Err
	}
	select {
	case <-ctx.Done():
		return "", 0, 0, ctx.Err()
	default:
	}
	return p.Response, 0, 0, nil
}

// HTTPProvider calls a vendor's HTTP completion endpoint. It does not assume
// any particular vendor's wire format beyond a flat {prompt, max_tokens} →
// {text, tokens_in, tokens_out} JSON contract; operators front real vendor
// SDKs with a thin adapter matching this shape.
type HTTPProvider struct {
	ProviderName domain.Provider
	Endpoint     string
	APIKey       string
	Client       *http.Client
}

// NewHTTPProvider constructs an HTTPProvider with a sensible client timeout
// matching DefaultRequestTimeout (the broker also applies its own
// context-level deadline, this is a belt-and-suspenders transport timeout).
func NewHTTPProvider(name domain.Provider, endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		ProviderName: name,
		Endpoint:     endpoint,
		APIKey:       apiKey,
		Client:       &http.Client{Timeout: DefaultRequestTimeout},
	}
}

func (p *HTTPProvider) Name() domain.Provider { return p.ProviderName }

type httpCompletionRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type httpCompletionResponse struct {
	Text      string `json:"text"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
}

func (p *HTTPProvider) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, int64, int64, error) {
	body, err := json.Marshal(httpCompletionRequest{Prompt: prompt, MaxTokens: maxOutputTokens})
	if err != nil {
		return "", 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("broker: provider %s returned status %d: %s", p.ProviderName, resp.StatusCode, raw)
	}

	var out httpCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, 0, err
	}
	return out.Text, out.TokensIn, out.TokensOut, nil
}
