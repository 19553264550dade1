package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// MistralEndpoint is the fixed chat completions URL of the Mistral API.
	MistralEndpoint = "https://api.mistral.ai/v1/chat/completions"
	mistralModel    = "mistral-large-latest"
)

// HTTPError is a non-2xx answer from a backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm backend returned status %d: %s", e.StatusCode, e.Body)
}

// MistralClient is a minimal synchronous client for the Mistral chat API.
type MistralClient struct {
	apiKey       string
	systemPrompt string
	endpoint     string
	httpClient   *http.Client
}

type mistralMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type mistralRequest struct {
	Model    string           `json:"model"`
	Messages []mistralMessage `json:"messages"`
}

type mistralResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewMistralClient stores the system prompt, prepended to every call when non-empty.
func NewMistralClient(apiKey, systemPrompt, endpoint string, httpClient *http.Client) *MistralClient {
	if endpoint == "" {
		endpoint = MistralEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &MistralClient{
		apiKey:       apiKey,
		systemPrompt: systemPrompt,
		endpoint:     endpoint,
		httpClient:   httpClient,
	}
}

// Invoke joins the user messages into one user turn and posts it.
func (c *MistralClient) Invoke(ctx context.Context, messages []Message) (Response, error) {
	var user []string
	for _, m := range messages {
		if m.Role == RoleUser {
			user = append(user, m.Content)
		}
	}
	var all []mistralMessage
	if c.systemPrompt != "" {
		all = append(all, mistralMessage{Role: RoleSystem, Content: c.systemPrompt})
	}
	all = append(all, mistralMessage{Role: RoleUser, Content: strings.Join(user, "\n")})

	body, err := json.Marshal(mistralRequest{Model: mistralModel, Messages: all})
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("mistral request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var parsed mistralResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("mistral: no choices returned")
	}
	return Response{Content: parsed.Choices[0].Message.Content}, nil
}
