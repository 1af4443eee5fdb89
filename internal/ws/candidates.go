package ws

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/eduplatform/chatcore/internal/logger"
)

// GroupPlaceholder is replaced with the conversation id in candidate URLs.
const GroupPlaceholder = "{group_id}"

// CandidateList is the ordered set of realtime endpoints: primary first, then alternates.
type CandidateList []string

// ParseCandidates splits a comma separated list, dropping blanks.
func ParseCandidates(s string) CandidateList {
	var out CandidateList
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Build returns the dialable URLs for one connect call, in order, with the
// credential attached as the token query parameter. Malformed entries are skipped.
func (c CandidateList) Build(groupID int64, credential string) []string {
	urls := make([]string, 0, len(c))
	gid := strconv.FormatInt(groupID, 10)
	for _, raw := range c {
		u, err := url.Parse(strings.ReplaceAll(raw, GroupPlaceholder, gid))
		if err != nil || u.Host == "" {
			logger.Errorf("ws candidate skipped %q: %v", raw, err)
			continue
		}
		q := u.Query()
		q.Set("token", credential)
		u.RawQuery = q.Encode()
		urls = append(urls, u.String())
	}
	return urls
}

// redact hides the token for logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if tok := q.Get("token"); tok != "" {
		q.Set("token", logger.MaskSecret(tok))
		u.RawQuery = q.Encode()
	}
	return u.String()
}
