package pipeline

import (
	"context"
	"fmt"

	"doc-assistant/internal/session"
)

// The methods below compute on a snapshot of the session and merge the result
// back with a short Update, so no model call ever runs while a session is
// locked.

// RegisterLink summarizes url and registers it on the session.
func (in *Ingestor) RegisterLink(ctx context.Context, st session.Store, sessionID, url string) error {
	snap, err := session.GetOrNew(ctx, st, sessionID)
	if err != nil {
		return err
	}
	if snap.HasLink(url) {
		return session.ErrDuplicateLink
	}
	summaries, err := in.SummarizeLink(ctx, snap.Settings(), url)
	if err != nil {
		return err
	}
	_, err = st.Update(ctx, sessionID, func(s *session.Session) error {
		return s.AddLink(url, summaries)
	})
	return err
}

// IngestFile summarizes the uploaded file at path and caches the result on the
// session, provided name is still the session's current file.
func (in *Ingestor) IngestFile(ctx context.Context, st session.Store, sessionID, name, path string) error {
	snap, err := session.GetOrNew(ctx, st, sessionID)
	if err != nil {
		return err
	}
	text, summaries, err := in.SummarizeFile(ctx, snap.Settings(), path)
	if err != nil {
		return err
	}
	computed := &session.Session{FileName: name, FileText: text, FileSummaries: summaries}
	_, err = st.Update(ctx, sessionID, func(s *session.Session) error {
		if s.FileName != name {
			in.log.Warn("file replaced while ingesting, discarding summaries", "session_id", sessionID, "file", name, "current", s.FileName)
			return nil
		}
		s.MergeFileCache(computed)
		return nil
	})
	return err
}

// RefreshSession re-summarizes every registered link of the session and
// returns the updated session with the number of links refreshed.
func (in *Ingestor) RefreshSession(ctx context.Context, st session.Store, sessionID string) (*session.Session, int, error) {
	snap, err := session.GetOrNew(ctx, st, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if len(snap.RagLinks) == 0 {
		return snap, 0, nil
	}
	fresh, err := in.RefreshLinks(ctx, snap.Settings(), snap.RagLinks)
	if err != nil {
		return nil, 0, err
	}
	updated, err := st.Update(ctx, sessionID, func(s *session.Session) error {
		s.UpdateURLSummaries(fresh)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("save refreshed links: %w", err)
	}
	return updated, len(fresh), nil
}
