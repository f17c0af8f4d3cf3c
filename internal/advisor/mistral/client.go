package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/greenledger/internal/advisor/domain"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/observability/tracing"
)

const (
	defaultBaseURL = "https://api.mistral.ai"
	defaultModel   = "mistral-small-latest"
	chatPath       = "/v1/chat/completions"
	defaultTimeout = 30 * time.Second
	maxBody        = 1 << 20
)

// Client calls the chat completions endpoint and asks for a JSON object.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *chatResponse) firstText() string {
	if r == nil {
		return ""
	}
	for _, choice := range r.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text
		}
	}
	return ""
}

func New(cfg config.Config) *Client {
	return NewClient(cfg.Advisor.APIKey, cfg.Advisor.BaseURL, cfg.Advisor.Model, cfg.Advisor.Timeout)
}

func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if !c.Enabled() {
		return "", domain.ErrUnconfigured
	}
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return "", &domain.StatusError{Code: resp.StatusCode}
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return out.firstText(), nil
}
