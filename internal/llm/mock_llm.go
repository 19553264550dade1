package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of Provider using testify/mock.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Invoke(ctx context.Context, messages []Message) (Response, error) {
	args := m.Called(ctx, messages)
	return args.Get(0).(Response), args.Error(1)
}

// Factory returns a Factory that hands out m regardless of settings.
func (m *MockProvider) Factory() Factory {
	return func(Settings) (Provider, error) { return m, nil }
}
