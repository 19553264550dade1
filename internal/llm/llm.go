// Package llm exposes one calling convention over several chat-completion backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Role tags a message as system guidance or user input.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one role-tagged instruction unit of a completion request.
type Message struct {
	Role    Role
	Content string
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Response is the uniform result of every provider.
type Response struct {
	Content string
}

// Provider is a backend-specific client behind the uniform Invoke contract.
type Provider interface {
	Invoke(ctx context.Context, messages []Message) (Response, error)
}

// Model identifies a configured backend.
type Model string

const (
	ModelLlama3  Model = "llama3"
	ModelGPT4    Model = "gpt4"
	ModelMistral Model = "mistral"
)

// Models lists every accepted model name.
var Models = []Model{ModelLlama3, ModelGPT4, ModelMistral}

// Valid reports whether m names a known backend.
func (m Model) Valid() bool {
	for _, known := range Models {
		if m == known {
			return true
		}
	}
	return false
}

// ErrConfig is the parent of every configuration error. It is raised before any
// network call and should be shown to the user as is.
var ErrConfig = errors.New("llm configuration error")

var (
	ErrMissingAPIKey = fmt.Errorf("%w: API key is required", ErrConfig)
	ErrInvalidModel  = fmt.Errorf("%w: invalid model selected", ErrConfig)
)

// Settings selects and configures a provider.
type Settings struct {
	Model  Model
	APIKey string
	// Rules are newline-joined into one system instruction prepended to every request.
	Rules []string
}

// SystemPrompt returns the joined rules, or "" when there are none.
func (s Settings) SystemPrompt() string {
	return strings.Join(s.Rules, "\n")
}

type options struct {
	httpClient *http.Client
	baseURL    string
}

// Option customizes provider construction.
type Option func(*options)

// WithHTTPClient sets the HTTP client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBaseURL overrides the backend endpoint: the API base for the generic
// client, the full completions URL for the Mistral client.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// Factory builds a provider from settings.
type Factory func(Settings) (Provider, error)

// NewFactory returns a Factory applying opts to every provider it builds.
func NewFactory(opts ...Option) Factory {
	return func(s Settings) (Provider, error) {
		return New(s, opts...)
	}
}

// New validates settings and builds the matching provider. Missing keys and
// unknown models fail with an ErrConfig error without touching the network.
func New(s Settings, opts ...Option) (Provider, error) {
	if s.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var chat Provider
	switch s.Model {
	case ModelLlama3:
		chat = newOpenAIClient(s.APIKey, llama3Model, firstNonEmpty(o.baseURL, groqBaseURL), o.httpClient)
	case ModelGPT4:
		chat = newOpenAIClient(s.APIKey, gpt4Model, o.baseURL, o.httpClient)
	case ModelMistral:
		return NewMistralClient(s.APIKey, s.SystemPrompt(), firstNonEmpty(o.baseURL, MistralEndpoint), o.httpClient), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidModel, s.Model)
	}
	return withSystemPrompt(chat, s.SystemPrompt()), nil
}

// withSystemPrompt prepends prompt as a system message on every call.
func withSystemPrompt(p Provider, prompt string) Provider {
	if prompt == "" {
		return p
	}
	return systemPrompted{inner: p, prompt: prompt}
}

type systemPrompted struct {
	inner  Provider
	prompt string
}

func (s systemPrompted) Invoke(ctx context.Context, messages []Message) (Response, error) {
	all := make([]Message, 0, len(messages)+1)
	all = append(all, System(s.prompt))
	all = append(all, messages...)
	return s.inner.Invoke(ctx, all)
}

// Verify issues one trivial request to confirm the credentials work.
func Verify(ctx context.Context, p Provider) error {
	_, err := p.Invoke(ctx, []Message{User("Say hello!")})
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
