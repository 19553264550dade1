package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"doc-assistant/internal/chunker"
	"doc-assistant/internal/extract"
	"doc-assistant/internal/llm"
	"doc-assistant/internal/session"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrNoContent       = errors.New("no usable text")
)

const refreshConcurrency = 4

// Ingestor summarizes uploaded files and registered links chunk by chunk so
// the pipeline can reuse the summaries across questions.
type Ingestor struct {
	newProvider llm.Factory
	fetcher     *extract.Fetcher
	extractFile func(path string) (string, error)
	chunkSize   int
	log         *slog.Logger
}

func NewIngestor(log *slog.Logger, newProvider llm.Factory, fetcher *extract.Fetcher, chunkSize int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultSize
	}
	return &Ingestor{
		newProvider: newProvider,
		fetcher:     fetcher,
		extractFile: extract.File,
		chunkSize:   chunkSize,
		log:         log,
	}
}

// SummarizeFile extracts the file at path and summarizes each chunk. The
// extracted text is returned alongside so it can be stored on the session.
func (in *Ingestor) SummarizeFile(ctx context.Context, settings llm.Settings, path string) (string, []string, error) {
	provider, err := in.newProvider(settings)
	if err != nil {
		return "", nil, err
	}
	text, err := in.extractFile(path)
	if err != nil {
		return "", nil, err
	}
	if text == extract.Unsupported {
		return "", nil, ErrUnsupportedFile
	}
	summaries, err := in.summarizeChunks(ctx, provider, text, "Context:\n%s\n\nSummarize this chunk.")
	if err != nil {
		return "", nil, err
	}
	in.log.Info("file summarized", "path", path, "chunks", len(summaries))
	return text, summaries, nil
}

// SummarizeLink fetches url's visible text and summarizes each chunk.
func (in *Ingestor) SummarizeLink(ctx context.Context, settings llm.Settings, url string) ([]string, error) {
	provider, err := in.newProvider(settings)
	if err != nil {
		return nil, err
	}
	text := in.fetcher.Page(ctx, url)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", url, ErrNoContent)
	}
	summaries, err := in.summarizeChunks(ctx, provider, text, "Summarize this chunk:\n\n%s")
	if err != nil {
		return nil, err
	}
	in.log.Info("link summarized", "url", url, "chunks", len(summaries))
	return summaries, nil
}

// RefreshLinks re-fetches every url as an article and re-summarizes it. URLs
// that yield no text or fail to summarize are logged and left out of the
// result, in which case callers keep their previous summaries. The result
// preserves the order of urls.
func (in *Ingestor) RefreshLinks(ctx context.Context, settings llm.Settings, urls []string) ([]session.URLSummary, error) {
	provider, err := in.newProvider(settings)
	if err != nil {
		return nil, err
	}

	fresh := make([]*session.URLSummary, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			text := in.fetcher.Article(gctx, url)
			if text == "" {
				in.log.Warn("refresh skipped, no text", "url", url)
				return nil
			}
			summaries, err := in.summarizeChunks(gctx, provider, text, "Context:\n%s\n\nSummarize this for knowledge extraction.")
			if err != nil {
				in.log.Error("failed to refresh link", "url", url, "err", err)
				return nil
			}
			fresh[i] = &session.URLSummary{URL: url, Summaries: summaries}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]session.URLSummary, 0, len(urls))
	for _, u := range fresh {
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (in *Ingestor) summarizeChunks(ctx context.Context, provider llm.Provider, text, format string) ([]string, error) {
	total := chunker.Count(text, in.chunkSize)
	summaries := make([]string, 0, total)
	for i, chunk := range chunker.Chunks(text, in.chunkSize) {
		in.log.Debug("summarizing chunk", "chunk", i+1, "of", total)
		resp, err := provider.Invoke(ctx, []llm.Message{llm.User(fmt.Sprintf(format, chunk))})
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, resp.Content)
	}
	return summaries, nil
}
