package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   mistralRequest
}

func newMistralServer(t *testing.T, status int, reply string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body mistralRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		captured = append(captured, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

const mistralReply = `{"choices":[{"message":{"role":"assistant","content":"Bonjour"}}]}`

func TestMistralInvokeWithRules(t *testing.T) {
	srv, captured := newMistralServer(t, http.StatusOK, mistralReply)

	p, err := New(Settings{Model: ModelMistral, APIKey: "secret", Rules: []string{"Be concise", "Answer in French"}},
		WithBaseURL(srv.URL+"/v1/chat/completions"))
	require.NoError(t, err)

	resp, err := p.Invoke(context.Background(), []Message{User("What is X?")})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp.Content)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v1/chat/completions", req.Path)
	assert.Equal(t, "Bearer secret", req.Auth)
	assert.Equal(t, "mistral-large-latest", req.Body.Model)
	assert.Equal(t, []mistralMessage{
		{Role: RoleSystem, Content: "Be concise\nAnswer in French"},
		{Role: RoleUser, Content: "What is X?"},
	}, req.Body.Messages)
}

func TestMistralInvokeWithoutRules(t *testing.T) {
	srv, captured := newMistralServer(t, http.StatusOK, mistralReply)

	p, err := New(Settings{Model: ModelMistral, APIKey: "secret"}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), []Message{User("first"), System("ignored"), User("second")})
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	assert.Equal(t, []mistralMessage{{Role: RoleUser, Content: "first\nsecond"}}, (*captured)[0].Body.Messages)
}

func TestMistralInvokeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		check  func(*testing.T, error)
	}{
		{
			name:   "non-2xx status",
			status: http.StatusUnauthorized,
			reply:  `{"message":"Unauthorized"}`,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
				assert.Contains(t, httpErr.Body, "Unauthorized")
			},
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			reply:  `{"choices":[]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "no choices")
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			reply:  `not json`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "decode")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, captured := newMistralServer(t, tt.status, tt.reply)
			p := NewMistralClient("secret", "", srv.URL, nil)

			_, err := p.Invoke(context.Background(), []Message{User("hi")})
			require.Error(t, err)
			tt.check(t, err)
			assert.Len(t, *captured, 1, "errors must not trigger retries")
		})
	}
}

func TestMistralDefaultEndpoint(t *testing.T) {
	c := NewMistralClient("k", "", "", nil)
	assert.Equal(t, "https://api.mistral.ai/v1/chat/completions", c.endpoint)
}

func TestNewConfigErrorsSkipNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		settings Settings
		want     error
	}{
		{"missing key", Settings{Model: ModelMistral}, ErrMissingAPIKey},
		{"unknown model", Settings{Model: "claude", APIKey: "k"}, ErrInvalidModel},
		{"empty model", Settings{APIKey: "k"}, ErrInvalidModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.settings, WithBaseURL(srv.URL))
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
	assert.Zero(t, hits.Load())
}
