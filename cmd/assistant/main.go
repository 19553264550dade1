package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"doc-assistant/internal/app"
	"doc-assistant/internal/extract"
	"doc-assistant/internal/httputil"
	"doc-assistant/internal/llm"
	"doc-assistant/internal/pipeline"
	"doc-assistant/internal/queue"
	"doc-assistant/internal/session"
)

const sessionCookie = "session_id"

type sessionKey struct{}

type settingsRequest struct {
	ModelName string `json:"model_name" validate:"required,oneof=llama3 gpt4 mistral"`
	APIKey    string `json:"api_key" validate:"required"`
}

type ruleRequest struct {
	Rule string `json:"rule" validate:"required"`
}

type linkRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

type askRequest struct {
	Question     string `json:"question" validate:"required"`
	RefreshLinks bool   `json:"refresh_links"`
}

// sessionView is the client-facing session; the API key never leaves the server.
type sessionView struct {
	ID               string                 `json:"id"`
	ModelName        string                 `json:"model_name,omitempty"`
	HasAPIKey        bool                   `json:"has_api_key"`
	Rules            []string               `json:"rules"`
	RagLinks         []string               `json:"rag_links"`
	FileName         string                 `json:"file_name,omitempty"`
	FilePreprocessed bool                   `json:"file_preprocessed"`
	History          []session.HistoryEntry `json:"history"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Sessions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	deps.Log.Info("assistant starting", "queue", deps.Queue != nil)
	if err := httputil.Serve(ctx, deps.Log, srv); err != nil {
		deps.Log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	r.Route("/api", func(r chi.Router) {
		r.Use(withSession(deps))
		r.Get("/session", sessionHandler(deps))
		r.Post("/settings", settingsHandler(deps))
		r.Post("/rules", addRuleHandler(deps))
		r.Delete("/rules", deleteRuleHandler(deps))
		r.Post("/links", addLinkHandler(deps))
		r.Delete("/links", deleteLinkHandler(deps))
		r.Post("/links/refresh", refreshLinksHandler(deps))
		r.Post("/files", uploadHandler(deps))
		r.Delete("/files/{name}", deleteFileHandler(deps))
		r.Post("/ask", askHandler(deps))
		r.Post("/reset", resetHandler(deps))
	})
	return r
}

// withSession resolves the session ID from its cookie, issuing a new one when
// the cookie is missing or malformed.
func withSession(deps app.Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(sessionCookie); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(deps.Config.SessionTTL.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				deps.Log.Debug("issued session", "session_id", id)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
		})
	}
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionKey{}).(string)
	return id
}

// statusFor maps domain errors to HTTP statuses. Errors it does not know
// about come from a model backend or storage and get fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, llm.ErrConfig), errors.Is(err, session.ErrEmptyRule):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, pipeline.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrDuplicateRule), errors.Is(err, session.ErrDuplicateLink):
		return http.StatusConflict
	case errors.Is(err, session.ErrRuleNotFound), errors.Is(err, session.ErrLinkNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	}
	return fallback
}

// fail reports err, exposing its text to the client only for client errors.
func fail(log *slog.Logger, w http.ResponseWriter, message string, err error, fallback int) {
	status := statusFor(err, fallback)
	if status < http.StatusInternalServerError && err != nil {
		message = err.Error()
	}
	httputil.Fail(log, w, message, err, status)
}

func decode(log *slog.Logger, w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.ValidationError(log, w, err)
		return false
	}
	return true
}

func newSessionView(s *session.Session) sessionView {
	_, cached := s.CachedSummaries()
	v := sessionView{
		ID:               s.ID,
		ModelName:        s.ModelName,
		HasAPIKey:        s.APIKey != "",
		Rules:            s.Rules,
		RagLinks:         s.RagLinks,
		FileName:         s.FileName,
		FilePreprocessed: cached,
		History:          s.History,
	}
	if v.Rules == nil {
		v.Rules = []string{}
	}
	if v.RagLinks == nil {
		v.RagLinks = []string{}
	}
	if v.History == nil {
		v.History = []session.HistoryEntry{}
	}
	return v
}

func sessionHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session.GetOrNew(r.Context(), deps.Sessions, sessionID(r))
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load session", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, newSessionView(sess))
	}
}

// settingsHandler stores the model selection after one verification call
// succeeds with the session's current rules.
func settingsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if !decode(deps.Log, w, r, &req) {
			return
		}
		ctx := r.Context()
		id := sessionID(r)
		log := deps.Log.With("session_id", id)

		snap, err := session.GetOrNew(ctx, deps.Sessions, id)
		if err != nil {
			httputil.Fail(log, w, "failed to load session", err, http.StatusInternalServerError)
			return
		}
		provider, err := deps.LLM(llm.Settings{Model: llm.Model(req.ModelName), APIKey: req.APIKey, Rules: snap.Rules})
		if err != nil {
			fail(log, w, "invalid settings", err, http.StatusBadRequest)
			return
		}
		if err := llm.Verify(ctx, provider); err != nil {
			httputil.Fail(log, w, "invalid API key or model", err, http.StatusBadGateway)
			return
		}

		sess, err := deps.Sessions.Update(ctx, id, func(s *session.Session) error {
			s.SetModel(req.ModelName, req.APIKey)
			return nil
		})
		if err != nil {
			httputil.Fail(log, w, "failed to save settings", err, http.StatusInternalServerError)
			return
		}
		log.Info("model settings saved", "model", req.ModelName)
		httputil.WriteJSON(w, http.StatusOK, newSessionView(sess))
	}
}

func addRuleHandler(deps app.Deps) http.HandlerFunc {
	return updateRules(deps, http.StatusCreated, (*session.Session).AddRule)
}

func deleteRuleHandler(deps app.Deps) http.HandlerFunc {
	return updateRules(deps, http.StatusOK, (*session.Session).DeleteRule)
}

func updateRules(deps app.Deps, status int, op func(*session.Session, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ruleRequest
		if !decode(deps.Log, w, r, &req) {
			return
		}
		sess, err := deps.Sessions.Update(r.Context(), sessionID(r), func(s *session.Session) error {
			return op(s, req.Rule)
		})
		if err != nil {
			fail(deps.Log, w, "failed to update rules", err, http.StatusInternalServerError)
			return
		}
		rules := sess.Rules
		if rules == nil {
			rules = []string{}
		}
		httputil.WriteJSON(w, status, map[string]any{"rules": rules})
	}
}

// addLinkHandler registers a link synchronously, or hands it to the ingest
// worker when a queue is configured.
func addLinkHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkRequest
		if !decode(deps.Log, w, r, &req) {
			return
		}
		ctx := r.Context()
		id := sessionID(r)
		log := deps.Log.With("session_id", id, "url", req.URL)

		if deps.Queue == nil {
			if err := deps.Ingestor.RegisterLink(ctx, deps.Sessions, id, req.URL); err != nil {
				fail(log, w, "failed to add link", err, http.StatusBadGateway)
				return
			}
			log.Info("link registered")
			httputil.WriteJSON(w, http.StatusCreated, map[string]string{"url": req.URL, "status": "registered"})
			return
		}

		snap, err := session.GetOrNew(ctx, deps.Sessions, id)
		if err != nil {
			httputil.Fail(log, w, "failed to load session", err, http.StatusInternalServerError)
			return
		}
		if snap.HasLink(req.URL) {
			fail(log, w, "failed to add link", session.ErrDuplicateLink, http.StatusConflict)
			return
		}
		if !enqueue(ctx, deps, w, log, queue.TaskTypeRegisterLink, queue.RegisterLinkPayload{SessionID: id, URL: req.URL}) {
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"url": req.URL, "status": "queued"})
	}
}

func enqueue(ctx context.Context, deps app.Deps, w http.ResponseWriter, log *slog.Logger, taskType queue.TaskType, payload any) bool {
	task, err := queue.NewTask(taskType, payload)
	if err != nil {
		httputil.Fail(log, w, "failed to build task", err, http.StatusInternalServerError)
		return false
	}
	if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
		httputil.Fail(log, w, "failed to enqueue task; please retry", err, http.StatusServiceUnavailable)
		return false
	}
	log.Info("task enqueued", "task_id", task.ID, "type", taskType)
	return true
}

func deleteLinkHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkRequest
		if !decode(deps.Log, w, r, &req) {
			return
		}
		sess, err := deps.Sessions.Update(r.Context(), sessionID(r), func(s *session.Session) error {
			return s.RemoveLink(req.URL)
		})
		if err != nil {
			fail(deps.Log, w, "failed to remove link", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, newSessionView(sess))
	}
}

func refreshLinksHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, n, err := deps.Ingestor.RefreshSession(r.Context(), deps.Sessions, sessionID(r))
		if err != nil {
			fail(deps.Log, w, "failed to refresh links", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"refreshed": n, "links": len(sess.RagLinks)})
	}
}

func uploadDir(deps app.Deps, id string) string {
	return filepath.Join(deps.Config.UploadDir, id)
}

// cleanFileName reduces a client-supplied file name to a bare base name.
func cleanFileName(name string) (string, bool) {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := sessionID(r)
		log := deps.Log.With("session_id", id)

		if r.ContentLength > maxFileSize {
			httputil.Fail(log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+1<<20)

		file, header, err := r.FormFile("uploaded_file")
		if err != nil {
			httputil.Fail(log, w, "uploaded_file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusRequestEntityTooLarge)
			return
		}
		name, ok := cleanFileName(header.Filename)
		if !ok {
			httputil.Fail(log, w, "invalid file name", nil, http.StatusBadRequest)
			return
		}
		if !extract.Supported(filepath.Ext(name)) {
			fail(log, w, "unsupported file type", pipeline.ErrUnsupportedFile, http.StatusUnsupportedMediaType)
			return
		}

		path, err := saveUpload(uploadDir(deps, id), name, file)
		if err != nil {
			httputil.Fail(log, w, "failed to store file", err, http.StatusInternalServerError)
			return
		}
		if _, err := deps.Sessions.Update(ctx, id, func(s *session.Session) error {
			s.SetFile(name, "")
			return nil
		}); err != nil {
			httputil.Fail(log, w, "failed to save session", err, http.StatusInternalServerError)
			return
		}
		log = log.With("file", name)

		if deps.Queue != nil {
			if !enqueue(ctx, deps, w, log, queue.TaskTypeIngestFile, queue.IngestFilePayload{SessionID: id, FileName: name, Path: path}) {
				return
			}
			httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"file_name": name, "status": "queued"})
			return
		}
		if err := deps.Ingestor.IngestFile(ctx, deps.Sessions, id, name, path); err != nil {
			fail(log, w, "file stored but preprocessing failed", err, http.StatusBadGateway)
			return
		}
		log.Info("file uploaded and preprocessed")
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"file_name": name, "status": "preprocessed"})
	}
}

func saveUpload(dir, name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	return path, dst.Close()
}

func deleteFileHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		name, ok := cleanFileName(chi.URLParam(r, "name"))
		if !ok {
			httputil.Fail(deps.Log, w, "invalid file name", nil, http.StatusBadRequest)
			return
		}
		if err := os.Remove(filepath.Join(uploadDir(deps, id), name)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				httputil.Fail(deps.Log, w, "file not found", err, http.StatusNotFound)
				return
			}
			httputil.Fail(deps.Log, w, "failed to delete file", err, http.StatusInternalServerError)
			return
		}
		sess, err := deps.Sessions.Update(r.Context(), id, func(s *session.Session) error {
			if s.FileName == name {
				s.ClearFile()
			}
			return nil
		})
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to save session", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, newSessionView(sess))
	}
}

// askHandler runs the pipeline on a snapshot of the session and merges the
// file cache and history back once the answer is ready. A failed run still
// merges the file cache.
func askHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decode(deps.Log, w, r, &req) {
			return
		}
		ctx := r.Context()
		id := sessionID(r)
		log := deps.Log.With("session_id", id)

		var (
			snap *session.Session
			err  error
		)
		if req.RefreshLinks {
			snap, _, err = deps.Ingestor.RefreshSession(ctx, deps.Sessions, id)
		} else {
			snap, err = session.GetOrNew(ctx, deps.Sessions, id)
		}
		if err != nil {
			fail(log, w, "failed to prepare context", err, http.StatusInternalServerError)
			return
		}

		filePath := ""
		if snap.FileName != "" {
			filePath = filepath.Join(uploadDir(deps, id), snap.FileName)
		}
		st, err := deps.Pipeline.Run(ctx, snap, req.Question, filePath)
		if err != nil {
			// Chunk summaries computed before the failing stage are still valid.
			if _, mergeErr := deps.Sessions.Update(ctx, id, func(s *session.Session) error {
				s.MergeFileCache(snap)
				return nil
			}); mergeErr != nil {
				log.Warn("failed to keep file cache", "err", mergeErr)
			}
			fail(log, w, "failed to process question", err, http.StatusBadGateway)
			return
		}

		result := st.Result()
		if _, err := deps.Sessions.Update(ctx, id, func(s *session.Session) error {
			s.MergeFileCache(snap)
			s.AppendHistory(req.Question, result, time.Now().UTC())
			return nil
		}); err != nil {
			httputil.Fail(log, w, "failed to save history", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// resetHandler forgets the session and deletes its uploads.
func resetHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if err := os.RemoveAll(uploadDir(deps, id)); err != nil {
			httputil.Fail(deps.Log, w, "failed to remove uploads", err, http.StatusInternalServerError)
			return
		}
		if err := deps.Sessions.Delete(r.Context(), id); err != nil {
			httputil.Fail(deps.Log, w, "failed to reset session", err, http.StatusInternalServerError)
			return
		}
		deps.Log.Info("session reset", "session_id", id)
		httputil.WriteJSON(w, http.StatusOK, newSessionView(session.New(id)))
	}
}
