package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doc-assistant/internal/app"
	"doc-assistant/internal/config"
	"doc-assistant/internal/llm"
	"doc-assistant/internal/logger"
	"doc-assistant/internal/queue"
	"doc-assistant/internal/session"
)

func newTestDeps(t *testing.T, q queue.Queue) (app.Deps, *llm.MockProvider) {
	t.Helper()
	provider := new(llm.MockProvider)
	store := session.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })
	_, err := store.Update(context.Background(), "s1", func(s *session.Session) error {
		s.SetModel("llama3", "key")
		return nil
	})
	require.NoError(t, err)
	return app.New(config.Config{}, logger.Discard(), store, q, provider.Factory()), provider
}

func mustTask(t *testing.T, taskType queue.TaskType, payload any) queue.Task {
	t.Helper()
	task, err := queue.NewTask(taskType, payload)
	require.NoError(t, err)
	return task
}

func TestRegisterLinkHandler(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<p>Hello page</p>`))
	}))
	t.Cleanup(page.Close)

	deps, provider := newTestDeps(t, nil)
	provider.On("Invoke", mock.Anything, []llm.Message{llm.User("Summarize this chunk:\n\nHello page")}).
		Return(llm.Response{Content: "greeting"}, nil).Once()
	handler := registerLinkHandler(deps)
	task := mustTask(t, queue.TaskTypeRegisterLink, queue.RegisterLinkPayload{SessionID: "s1", URL: page.URL})

	require.NoError(t, handler(context.Background(), task))
	require.NoError(t, handler(context.Background(), task), "duplicate delivery is ignored")

	sess, err := deps.Sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{page.URL}, sess.RagLinks)
	provider.AssertExpectations(t)
}

func TestRegisterLinkHandlerErrors(t *testing.T) {
	deps, provider := newTestDeps(t, nil)
	handler := registerLinkHandler(deps)

	err := handler(context.Background(), queue.Task{Type: queue.TaskTypeRegisterLink, Payload: []byte("{")})
	require.Error(t, err)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	err = handler(context.Background(), mustTask(t, queue.TaskTypeRegisterLink, queue.RegisterLinkPayload{SessionID: "s1", URL: closed.URL}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register link")
	provider.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestIngestFileHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("body"), 0o600))

	deps, provider := newTestDeps(t, nil)
	_, err := deps.Sessions.Update(context.Background(), "s1", func(s *session.Session) error {
		s.SetFile("a.txt", "")
		return nil
	})
	require.NoError(t, err)
	provider.On("Invoke", mock.Anything, mock.Anything).Return(llm.Response{Content: "sum"}, nil).Once()

	task := mustTask(t, queue.TaskTypeIngestFile, queue.IngestFilePayload{SessionID: "s1", FileName: "a.txt", Path: path})
	require.NoError(t, ingestFileHandler(deps)(context.Background(), task))

	sess, err := deps.Sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "body", sess.FileText)
	assert.Equal(t, []string{"sum"}, sess.FileSummaries)
}

func TestIngestFileHandlerFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("body"), 0o600))
	deps, provider := newTestDeps(t, nil)
	provider.On("Invoke", mock.Anything, mock.Anything).Return(llm.Response{}, errors.New("down")).Once()

	task := mustTask(t, queue.TaskTypeIngestFile, queue.IngestFilePayload{SessionID: "s1", FileName: "a.txt", Path: path})
	err := ingestFileHandler(deps)(context.Background(), task)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest file a.txt")
}

func TestRunStopsWhenWorkerFails(t *testing.T) {
	q := new(queue.MockQueue)
	boom := errors.New("subscribe failed")
	q.On("Worker", mock.Anything, queue.TaskTypeRegisterLink, mock.Anything).Return(boom)
	q.On("Worker", mock.Anything, queue.TaskTypeIngestFile, mock.Anything).Return(nil)
	deps, _ := newTestDeps(t, q)
	deps.Config.HealthPort = 0

	err := run(context.Background(), deps)

	require.ErrorIs(t, err, boom)
}
