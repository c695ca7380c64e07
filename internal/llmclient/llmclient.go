// Package llmclient implements ports.AgentInvoker over plain HTTP,
// dispatching each call to the provider named in the Archon's own
// LLMBinding rather than hard-coding a single backend: one Archon may be
// bound to Claude while another is bound to an OpenAI-compatible
// endpoint (DeepSeek, OpenRouter, Qwen, Zai, Ollama), mirroring the
// multi-provider roster the domain calls for (§6).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/conclave-engine/conclave/internal/concurrency"
	"github.com/conclave-engine/conclave/internal/ports"
)

// APIKeyEnv returns the environment variable an HTTP provider's API key
// is read from, e.g. "anthropic" -> "ANTHROPIC_API_KEY".
func APIKeyEnv(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

// Client is an HTTP-backed ports.AgentInvoker. A single Client instance
// serves every Archon; the per-call provider, model, and base URL come
// from the ArchonProfileRepository.
type Client struct {
	http        *http.Client
	profiles    ports.ArchonProfileRepository
	rateLimiter *concurrency.RateLimiter
}

var _ ports.AgentInvoker = (*Client)(nil)

// New constructs an HTTP AgentInvoker. profiles resolves each Archon's
// LLMBinding; httpClient may be nil to use a default with no timeout
// (per-call timeouts are enforced via context instead). requestsPerSecond
// caps outbound calls across every Archon sharing this Client, including
// the validator's concurrent Phase-1 and Phase-2 calls that run alongside
// debate and vote collection; zero or negative disables the limiter.
func New(profiles ports.ArchonProfileRepository, httpClient *http.Client, requestsPerSecond int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{http: httpClient, profiles: profiles}
	if requestsPerSecond > 0 {
		c.rateLimiter = concurrency.NewRateLimiter(requestsPerSecond)
	}
	return c
}

// Invoke resolves archonID's LLMBinding and completes prompt against it.
// A timeout of zero relies entirely on ctx's own deadline, set by the
// caller (the validator and debate orchestrator already wrap every call
// in their own context.WithTimeout).
func (c *Client) Invoke(ctx context.Context, archonID string, prompt string, timeout time.Duration) (ports.InvokeResult, error) {
	profile, err := c.profiles.Get(ctx, archonID)
	if err != nil {
		return ports.InvokeResult{}, fmt.Errorf("resolve archon %s: %w", archonID, err)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Acquire(callCtx); err != nil {
			return ports.InvokeResult{}, fmt.Errorf("rate limit wait for archon %s: %w", archonID, err)
		}
	}

	started := time.Now()
	content, err := c.complete(callCtx, profile.LLM, prompt)
	latency := time.Since(started)
	if err != nil {
		return ports.InvokeResult{}, fmt.Errorf("complete via %s: %w", profile.LLM.Provider, err)
	}
	return ports.InvokeResult{
		RawContent: content,
		LatencyMs:  latency.Milliseconds(),
		Metadata:   map[string]string{"provider": profile.LLM.Provider, "model": profile.LLM.Model},
	}, nil
}

func (c *Client) complete(ctx context.Context, binding ports.LLMBinding, prompt string) (string, error) {
	switch strings.ToLower(binding.Provider) {
	case "anthropic", "claude":
		return c.completeAnthropic(ctx, binding, prompt)
	default:
		return c.completeOpenAICompatible(ctx, binding, prompt)
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) completeAnthropic(ctx context.Context, binding ports.LLMBinding, prompt string) (string, error) {
	baseURL := binding.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	maxTokens := binding.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	reqBody, err := json.Marshal(anthropicRequest{
		Model:       binding.Model,
		MaxTokens:   maxTokens,
		Temperature: binding.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", os.Getenv(APIKeyEnv("anthropic")))
	req.Header.Set("anthropic-version", "2023-06-01")

	var out anthropicResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("anthropic error: %s", out.Error.Message)
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("anthropic response had no content blocks")
	}
	return out.Content[0].Text, nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// completeOpenAICompatible handles every provider speaking the OpenAI
// chat-completions wire format: DeepSeek, OpenRouter, Qwen, Zai, Ollama,
// and plain OpenAI.
func (c *Client) completeOpenAICompatible(ctx context.Context, binding ports.LLMBinding, prompt string) (string, error) {
	baseURL := binding.BaseURL
	if baseURL == "" {
		return "", fmt.Errorf("no base URL configured for provider %s", binding.Provider)
	}

	reqBody, err := json.Marshal(chatCompletionRequest{
		Model:       binding.Model,
		Temperature: binding.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build chat completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv(APIKeyEnv(binding.Provider)); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	var out chatCompletionResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s error: %s", binding.Provider, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s response had no choices", binding.Provider)
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSONObject(raw string) string {
	return jsonObjectPattern.FindString(raw)
}
