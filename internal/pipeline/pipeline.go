// Package pipeline runs the fixed retrieve -> summarize -> answer graph over a
// session's summarized file and URL context.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"doc-assistant/internal/chunker"
	"doc-assistant/internal/extract"
	"doc-assistant/internal/llm"
	"doc-assistant/internal/session"
)

const summarySeparator = "\n---\n"

// State is threaded through the stages of one run and discarded afterwards.
// Session is shared by reference; the retrieve stage writes file text and
// cached summaries back into it.
type State struct {
	Question   string
	FilePath   string
	Session    *session.Session
	URLContext string

	RetrievedData  string
	SummarizedData string
	FinalAnswer    string
}

// Result returns the loggable outcome of the run.
func (s State) Result() session.Result {
	return session.Result{
		Question:       s.Question,
		FilePath:       s.FilePath,
		URLContext:     s.URLContext,
		RetrievedData:  s.RetrievedData,
		SummarizedData: s.SummarizedData,
		FinalAnswer:    s.FinalAnswer,
	}
}

// stage takes the current state and returns it with its own outputs merged in.
type stage struct {
	name string
	run  func(ctx context.Context, st State) (State, error)
}

// Pipeline executes the three stages strictly in sequence.
type Pipeline struct {
	newProvider llm.Factory
	extractFile func(path string) (string, error)
	chunkSize   int
	log         *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithChunkSize sets the chunk length used when summarizing raw file text.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) { p.chunkSize = n }
}

// WithExtractor replaces the file extractor used to re-read files from disk.
func WithExtractor(fn func(path string) (string, error)) Option {
	return func(p *Pipeline) { p.extractFile = fn }
}

func New(log *slog.Logger, newProvider llm.Factory, opts ...Option) *Pipeline {
	p := &Pipeline{
		newProvider: newProvider,
		extractFile: extract.File,
		chunkSize:   chunker.DefaultSize,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run answers question against sess. filePath is optional and only consulted
// when the session has neither cached summaries nor file text. Any stage
// failure aborts the run and is returned as is.
func (p *Pipeline) Run(ctx context.Context, sess *session.Session, question, filePath string) (State, error) {
	provider, err := p.newProvider(sess.Settings())
	if err != nil {
		return State{}, err
	}
	r := &runner{Pipeline: p, provider: provider}

	st := State{
		Question:   question,
		FilePath:   filePath,
		Session:    sess,
		URLContext: BuildURLContext(sess),
	}
	for _, s := range []stage{
		{"retrieve", r.retrieve},
		{"summarize", r.summarize},
		{"answer", r.answer},
	} {
		p.log.Debug("pipeline stage starting", "stage", s.name, "session_id", sess.ID)
		if st, err = s.run(ctx, st); err != nil {
			return State{}, fmt.Errorf("%s stage: %w", s.name, err)
		}
	}
	return st, nil
}

type runner struct {
	*Pipeline
	provider llm.Provider
}

func (r *runner) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := r.provider.Invoke(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// retrieve reuses the session's cached summaries when present. The cache is
// keyed by the uploaded file only, so summaries computed while answering an
// earlier question are reused for every later one.
func (r *runner) retrieve(ctx context.Context, st State) (State, error) {
	sess := st.Session
	if summaries, ok := sess.CachedSummaries(); ok {
		r.log.Info("using cached file summaries", "session_id", sess.ID, "count", len(summaries))
		st.RetrievedData = strings.Join(summaries, summarySeparator)
		return st, nil
	}

	text := sess.FileText
	if text == "" && st.FilePath != "" {
		if _, err := os.Stat(st.FilePath); err == nil {
			r.log.Info("re-reading file from disk", "session_id", sess.ID, "path", st.FilePath)
			extracted, err := r.extractFile(st.FilePath)
			if err != nil {
				return st, err
			}
			if extracted == extract.Unsupported {
				r.log.Warn("file type not supported, ignoring file", "path", st.FilePath)
			} else {
				text = extracted
				sess.FileText = extracted
			}
		}
	}

	if text == "" {
		r.log.Info("no file content available, asking model directly", "session_id", sess.ID)
		answer, err := r.ask(ctx, st.Question)
		if err != nil {
			return st, err
		}
		st.RetrievedData = answer
		return st, nil
	}

	total := chunker.Count(text, r.chunkSize)
	summaries := make([]string, 0, total)
	for i, chunk := range chunker.Chunks(text, r.chunkSize) {
		r.log.Info("processing chunk", "session_id", sess.ID, "chunk", i+1, "of", total)
		answer, err := r.ask(ctx, fmt.Sprintf(
			"Context:\n%s\n\nBased on this context, answer or extract information related to: %s", chunk, st.Question))
		if err != nil {
			return st, err
		}
		summaries = append(summaries, answer)
	}
	sess.CacheSummaries(summaries)
	st.RetrievedData = strings.Join(summaries, summarySeparator)
	return st, nil
}

// summarize always runs a second compression pass, even over cached summaries.
func (r *runner) summarize(ctx context.Context, st State) (State, error) {
	answer, err := r.ask(ctx, "Summarize this: "+st.RetrievedData)
	if err != nil {
		return st, err
	}
	st.SummarizedData = answer
	return st, nil
}

func (r *runner) answer(ctx context.Context, st State) (State, error) {
	answer, err := r.ask(ctx, AnswerPrompt(st.Question, st.SummarizedData, st.URLContext))
	if err != nil {
		return st, err
	}
	st.FinalAnswer = answer
	return st, nil
}

// AnswerPrompt builds the final prompt. Without any context the model is told
// to rely on general knowledge; otherwise it must answer from the context.
func AnswerPrompt(question, fileContext, urlContext string) string {
	var parts []string
	if fileContext != "" {
		parts = append(parts, "File Context:\n"+fileContext)
	}
	if u := strings.TrimSpace(urlContext); u != "" {
		parts = append(parts, "URL Context:\n"+u)
	}
	final := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if final == "" {
		return "Answer the following question using only your general knowledge:\n\nQ: " + question
	}
	return "Based on the following context, answer the question accurately:\n\n" + final + "\n\nQ: " + question
}
