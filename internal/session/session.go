// Package session holds the per-session context the pipeline reads and mutates.
package session

import (
	"errors"
	"slices"
	"strings"
	"time"

	"doc-assistant/internal/llm"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrEmptyRule     = errors.New("rule is empty")
	ErrDuplicateRule = errors.New("rule already exists")
	ErrRuleNotFound  = errors.New("rule not found")
	ErrDuplicateLink = errors.New("link already added")
	ErrLinkNotFound  = errors.New("link not found")
)

// Session is the context store of one user session. JSON keys are the
// persisted storage keys.
type Session struct {
	ID string `json:"id"`

	ModelName string   `json:"model_name,omitempty"`
	APIKey    string   `json:"api_key,omitempty"`
	Rules     []string `json:"rules,omitempty"`

	FileName string `json:"file_name,omitempty"`
	FileText string `json:"file_text,omitempty"`
	// FileSummaries is derived from chunking FileText at upload time and is
	// only ever replaced wholesale.
	FileSummaries []string `json:"file_summaries,omitempty"`

	URLSummaries []URLSummary `json:"url_summaries,omitempty"`
	RagLinks     []string     `json:"rag_links,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`
}

// URLSummary maps one registered URL to its per-chunk summaries. Sessions keep
// these in registration order.
type URLSummary struct {
	URL       string   `json:"url"`
	Summaries []string `json:"summaries"`
}

// HistoryEntry records one answered question.
type HistoryEntry struct {
	Question string    `json:"question"`
	Result   Result    `json:"result"`
	AskedAt  time.Time `json:"asked_at"`
}

// Result is the outcome of one pipeline run, as logged in history.
type Result struct {
	Question       string `json:"input_text"`
	FilePath       string `json:"file_path,omitempty"`
	URLContext     string `json:"url_context,omitempty"`
	RetrievedData  string `json:"retrieved_data"`
	SummarizedData string `json:"summarized_data"`
	FinalAnswer    string `json:"final_answer"`
}

// New returns an empty session.
func New(id string) *Session {
	return &Session{ID: id}
}

// Settings returns the provider selection input.
func (s *Session) Settings() llm.Settings {
	return llm.Settings{
		Model:  llm.Model(s.ModelName),
		APIKey: s.APIKey,
		Rules:  slices.Clone(s.Rules),
	}
}

// Configured reports whether a model and key have been saved.
func (s *Session) Configured() bool {
	return s.ModelName != "" && s.APIKey != ""
}

// SetModel stores the provider selection.
func (s *Session) SetModel(model, apiKey string) {
	s.ModelName = model
	s.APIKey = apiKey
}

// AddRule appends a rule, keeping rules unique and in insertion order.
func (s *Session) AddRule(rule string) error {
	if strings.TrimSpace(rule) == "" {
		return ErrEmptyRule
	}
	if slices.Contains(s.Rules, rule) {
		return ErrDuplicateRule
	}
	s.Rules = append(s.Rules, rule)
	return nil
}

// DeleteRule removes a rule.
func (s *Session) DeleteRule(rule string) error {
	i := slices.Index(s.Rules, rule)
	if i < 0 {
		return ErrRuleNotFound
	}
	s.Rules = slices.Delete(s.Rules, i, i+1)
	return nil
}

// SetFile records a newly uploaded file. Cached summaries always belong to the
// previous upload, so they are dropped.
func (s *Session) SetFile(name, text string) {
	s.FileName = name
	s.FileText = text
	s.FileSummaries = nil
}

// ClearFile forgets the uploaded file and its summaries.
func (s *Session) ClearFile() {
	s.SetFile("", "")
}

// CachedSummaries returns the memoized per-chunk summaries of the current file.
// The cache is keyed by file identity only, never by question.
func (s *Session) CachedSummaries() ([]string, bool) {
	return s.FileSummaries, len(s.FileSummaries) > 0
}

// CacheSummaries replaces the memoized summaries of the current file.
func (s *Session) CacheSummaries(summaries []string) {
	s.FileSummaries = slices.Clone(summaries)
}

// MergeFileCache copies file text and summaries computed on a snapshot of this
// session, as long as the snapshot still refers to the same upload and no
// fresher summaries exist.
func (s *Session) MergeFileCache(from *Session) {
	if from == nil || from.FileName != s.FileName {
		return
	}
	if s.FileText == "" {
		s.FileText = from.FileText
	}
	if _, ok := s.CachedSummaries(); !ok && len(from.FileSummaries) > 0 && from.FileText == s.FileText {
		s.CacheSummaries(from.FileSummaries)
	}
}

// HasLink reports whether url is registered.
func (s *Session) HasLink(url string) bool {
	return slices.Contains(s.RagLinks, url)
}

// AddLink registers url with its per-chunk summaries.
func (s *Session) AddLink(url string, summaries []string) error {
	if s.HasLink(url) {
		return ErrDuplicateLink
	}
	s.RagLinks = append(s.RagLinks, url)
	s.setURLSummaries(url, summaries)
	return nil
}

// RemoveLink unregisters url and drops its summaries.
func (s *Session) RemoveLink(url string) error {
	i := slices.Index(s.RagLinks, url)
	if i < 0 {
		return ErrLinkNotFound
	}
	s.RagLinks = slices.Delete(s.RagLinks, i, i+1)
	s.URLSummaries = slices.DeleteFunc(s.URLSummaries, func(u URLSummary) bool { return u.URL == url })
	return nil
}

// UpdateURLSummaries overwrites the summaries of each registered URL present
// in fresh. URLs missing from fresh keep their previous summaries and entries
// for URLs no longer registered are ignored.
func (s *Session) UpdateURLSummaries(fresh []URLSummary) {
	for _, u := range fresh {
		if s.HasLink(u.URL) {
			s.setURLSummaries(u.URL, u.Summaries)
		}
	}
}

// Summaries returns the summaries registered for url.
func (s *Session) Summaries(url string) ([]string, bool) {
	for _, u := range s.URLSummaries {
		if u.URL == url {
			return u.Summaries, true
		}
	}
	return nil, false
}

func (s *Session) setURLSummaries(url string, summaries []string) {
	for i := range s.URLSummaries {
		if s.URLSummaries[i].URL == url {
			s.URLSummaries[i].Summaries = slices.Clone(summaries)
			return
		}
	}
	s.URLSummaries = append(s.URLSummaries, URLSummary{URL: url, Summaries: slices.Clone(summaries)})
}

// AppendHistory logs an answered question.
func (s *Session) AppendHistory(question string, result Result, at time.Time) {
	s.History = append(s.History, HistoryEntry{Question: question, Result: result, AskedAt: at})
}

// Reset clears everything but the ID.
func (s *Session) Reset() {
	*s = Session{ID: s.ID}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := *s
	out.Rules = slices.Clone(s.Rules)
	out.FileSummaries = slices.Clone(s.FileSummaries)
	out.RagLinks = slices.Clone(s.RagLinks)
	out.History = slices.Clone(s.History)
	if s.URLSummaries != nil {
		out.URLSummaries = make([]URLSummary, len(s.URLSummaries))
		for i, u := range s.URLSummaries {
			out.URLSummaries[i] = URLSummary{URL: u.URL, Summaries: slices.Clone(u.Summaries)}
		}
	}
	return &out
}
