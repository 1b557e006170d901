package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// ErrUnavailable marks quota and rate-limit conditions. Callers defer work
// instead of degrading it.
var ErrUnavailable = errors.New("AI provider unavailable")

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      *string // Optional: if nil, uses OpenRouter account default
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // free models are slow
		},
		model: nil,
	}
}

// SetModel sets a specific model to use (optional)
func (c *Client) SetModel(model string) {
	if model == "" {
		c.model = nil
		return
	}
	c.model = &model
}

// SetBaseURL points the client at a different API root
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Request is a single chat completion call
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the model output plus token usage
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// APIError is a non-success response from the API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Complete runs one chat completion. Quota and rate-limit responses
// wrap ErrUnavailable.
func (c *Client) Complete(ctx context.Context, r Request) (*Completion, error) {
	messages := []map[string]interface{}{}
	if r.System != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": r.System})
	}
	messages = append(messages, map[string]interface{}{"role": "user", "content": r.Prompt})

	reqBody := map[string]interface{}{
		"messages": messages,
	}
	if c.model != nil {
		reqBody["model"] = *c.model
	}
	if r.MaxTokens > 0 {
		reqBody["max_tokens"] = r.MaxTokens
	}
	if r.Temperature > 0 {
		reqBody["temperature"] = r.Temperature
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		if isUnavailableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
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
		// OpenRouter can report upstream failures inside a 200 response.
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	if apiResp.Error != nil {
		apiErr := &APIError{StatusCode: apiResp.Error.Code, Body: apiResp.Error.Message}
		if isUnavailableStatus(apiResp.Error.Code) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, apiErr)
		}
		return nil, apiErr
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from LLM")
	}

	total := apiResp.Usage.TotalTokens
	if total == 0 {
		total = apiResp.Usage.PromptTokens + apiResp.Usage.CompletionTokens
	}

	return &Completion{
		Content:          apiResp.Choices[0].Message.Content,
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:      total,
	}, nil
}

// Ping checks that the API key is accepted
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/key", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: http.StatusText(resp.StatusCode)}
	}
	return nil
}

// 402 is OpenRouter's out-of-credits response.
func isUnavailableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusPaymentRequired
}

// CleanJSONResponse removes markdown code blocks and extra text around the
// JSON object in an LLM response
func CleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	// Find the first { and last } to extract just the JSON object
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")

	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No valid JSON found, return as is and let JSON parser fail with proper error
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}
