package pipeline

import (
	"strings"

	"doc-assistant/internal/session"
)

// BuildURLContext concatenates every registered URL's summaries, in
// registration order, each under a "[From URL: <url>]" header.
func BuildURLContext(sess *session.Session) string {
	var sb strings.Builder
	for _, u := range sess.URLSummaries {
		sb.WriteString("\n[From URL: ")
		sb.WriteString(u.URL)
		sb.WriteString("]\n")
		sb.WriteString(strings.Join(u.Summaries, "\n"))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
