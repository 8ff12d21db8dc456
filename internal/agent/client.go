package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is a chat-completion client speaking either the OpenAI or the
// Anthropic wire format, selected from the base URL.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	apiType    string // "anthropic" or "openai"
	logger     *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
		if strings.Contains(baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		model:   "claude-3-5-sonnet-20241022",
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		apiType:    "anthropic",
		logger:     slog.Default().With("component", "chat_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("chat client initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"model", c.model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

// Chat sends the full conversation log and returns the raw response text.
// Transient failures are retried with linear backoff up to the configured
// maximum; callers above this layer never retry.
func (c *Client) Chat(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	requestID := fmt.Sprintf("chat_%d", time.Now().UnixNano())
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Error("rate limit wait failed",
			"request_id", requestID,
			"error", err)
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	c.logger.Debug("rate limit passed for generation request",
		"request_id", requestID,
		"wait_duration_ms", time.Since(startTime).Milliseconds(),
		"message_count", len(messages),
		"model", c.resolveModel(opts.Model))

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			c.logger.Debug("retry backoff",
				"request_id", requestID,
				"attempt", attempt,
				"backoff_seconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.logger.Warn("request cancelled during backoff",
					"request_id", requestID,
					"attempt", attempt)
				return "", ctx.Err()
			}
		}

		attemptStart := time.Now()
		response, err := c.doRequest(ctx, messages, opts)
		attemptDuration := time.Since(attemptStart)

		if err == nil {
			c.logger.Info("generation request successful",
				"request_id", requestID,
				"attempt", attempt,
				"duration_ms", attemptDuration.Milliseconds(),
				"response_length", len(response),
				"total_duration_ms", time.Since(startTime).Milliseconds())
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.logger.Warn("generation request failed, will retry",
			"request_id", requestID,
			"attempt", attempt,
			"duration_ms", attemptDuration.Milliseconds(),
			"error", err)
	}

	c.logger.Error("generation request failed after max retries",
		"request_id", requestID,
		"max_retries", c.maxRetries,
		"total_duration_ms", time.Since(startTime).Milliseconds(),
		"last_error", lastErr)

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) resolveModel(override string) string {
	if override != "" {
		return override
	}
	return c.model
}

func (c *Client) doRequest(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	if c.apiType == "openai" {
		return c.doOpenAIRequest(ctx, messages, opts)
	}
	return c.doAnthropicRequest(ctx, messages, opts)
}

func (c *Client) doOpenAIRequest(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	requestID := fmt.Sprintf("openai_%d", time.Now().UnixNano())

	wire := make([]map[string]string, 0, len(messages)+1)
	if opts.ForceJSON {
		wire = append(wire, map[string]string{
			"role":    "system",
			"content": "You are a helpful assistant that MUST respond with valid JSON only. Your entire response must be a single JSON object with no additional text, markdown, or explanations.",
		})
	}
	for _, m := range messages {
		wire = append(wire, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	requestBody := map[string]interface{}{
		"model":       c.resolveModel(opts.Model),
		"messages":    wire,
		"max_tokens":  4096,
		"temperature": opts.Temperature,
	}

	if opts.ForceJSON {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("OpenAI request body prepared",
		"request_id", requestID,
		"body_size_bytes", len(body),
		"message_count", len(wire),
		"has_json_mode", opts.ForceJSON)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("OpenAI HTTP response received",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("OpenAI API error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(respBody))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	c.logger.Info("OpenAI request completed",
		"request_id", requestID,
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens,
		"total_tokens", response.Usage.TotalTokens,
		"response_length", len(response.Choices[0].Message.Content))

	return response.Choices[0].Message.Content, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	requestID := fmt.Sprintf("anthropic_%d", time.Now().UnixNano())

	// Anthropic carries system text in a top-level parameter, so system
	// turns (initial instructions, forced-progression directives) are
	// folded together and removed from the message list.
	var systemParts []string
	wire := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		wire = append(wire, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	if opts.ForceJSON {
		systemParts = append(systemParts, "IMPORTANT: You MUST respond with valid JSON only. Your entire response must be a single JSON object with no additional text, markdown, or explanations.")
	}

	requestBody := map[string]interface{}{
		"model":       c.resolveModel(opts.Model),
		"messages":    wire,
		"max_tokens":  4096,
		"temperature": opts.Temperature,
	}
	if len(systemParts) > 0 {
		requestBody["system"] = strings.Join(systemParts, "\n\n")
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("Anthropic request body prepared",
		"request_id", requestID,
		"body_size_bytes", len(body),
		"message_count", len(wire),
		"has_system_prompt", len(systemParts) > 0)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	httpStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Anthropic HTTP response received",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Anthropic API error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(respBody))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	c.logger.Info("Anthropic request completed",
		"request_id", requestID,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"total_tokens", response.Usage.InputTokens+response.Usage.OutputTokens,
		"response_length", len(response.Content[0].Text))

	return response.Content[0].Text, nil
}
