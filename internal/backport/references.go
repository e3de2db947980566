package backport

import (
	"net/url"
	"regexp"
	"strings"
)

// JiraReference is a Jira issue key referenced from a pull request body
type JiraReference struct {
	Key string
}

var (
	// keyword, then either a markdown link or the next whitespace-delimited token
	fixesPattern        = regexp.MustCompile(`(?i)\b(?:fixes|closes|resolves?)[ \t]*:[ \t]*(\[[^\]\n]*\]\([^)\s]*\)|\S+)`)
	markdownLinkPattern = regexp.MustCompile(`^\[([^\]]*)\]\(([^)\s]*)\)$`)
	jiraKeyPattern      = regexp.MustCompile(`^[A-Z][A-Z0-9]+-[0-9]+$`)
	githubRefPattern    = regexp.MustCompile(`^(?:https?://github\.com/[^\s/]+/[^\s/]+/(?:issues|pull)/\d+|[\w.-]+/[\w.-]+#\d+|#\d+)`)
)

// ExtractReferences returns the Jira issues referenced by Fixes:, Closes: or
// Resolve(s): lines in body, in order of first occurrence and without
// duplicates. A body without references yields an empty result.
func ExtractReferences(body string) []JiraReference {
	var refs []JiraReference
	seen := make(map[string]bool)
	for _, m := range fixesPattern.FindAllStringSubmatch(body, -1) {
		key, ok := jiraKeyFromToken(m[1])
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, JiraReference{Key: key})
	}
	return refs
}

// ReferenceKeys returns the issue keys of refs
func ReferenceKeys(refs []JiraReference) []string {
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Key)
	}
	return keys
}

// HasFixesReference reports whether body references a Jira issue or a GitHub
// issue or pull request.
func HasFixesReference(body string) bool {
	for _, m := range fixesPattern.FindAllStringSubmatch(body, -1) {
		if _, ok := jiraKeyFromToken(m[1]); ok {
			return true
		}
		if githubRefPattern.MatchString(m[1]) {
			return true
		}
	}
	return false
}

// RewriteFixes replaces the references to Jira issues in body with one
// "Fixes: <key>" line per key, placed after the line of the first such
// reference. Only the reference is removed from lines that carry other text.
// References to GitHub issues are kept. A body without Jira references is
// returned unchanged.
func RewriteFixes(body string, keys []string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines)+len(keys))
	replaced := false
	for _, line := range lines {
		rest, found := stripJiraFixes(line)
		if !found {
			out = append(out, line)
			continue
		}
		cr := ""
		if strings.HasSuffix(line, "\r") {
			cr = "\r"
		}
		if rest = strings.Join(strings.Fields(rest), " "); rest != "" {
			out = append(out, rest+cr)
		}
		if replaced {
			continue
		}
		replaced = true
		for _, key := range keys {
			out = append(out, "Fixes: "+key+cr)
		}
	}
	if !replaced {
		return body
	}
	return strings.Join(out, "\n")
}

// stripJiraFixes removes the Fixes references to Jira issues from line
func stripJiraFixes(line string) (string, bool) {
	found := false
	rest := fixesPattern.ReplaceAllStringFunc(line, func(match string) string {
		m := fixesPattern.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if _, ok := jiraKeyFromToken(m[1]); !ok {
			return match
		}
		found = true
		return ""
	})
	return rest, found
}

func jiraKeyFromToken(token string) (string, bool) {
	if m := markdownLinkPattern.FindStringSubmatch(token); m != nil {
		if key, ok := jiraKeyFromURL(m[2]); ok {
			return key, true
		}
		text := strings.TrimSpace(m[1])
		if jiraKeyPattern.MatchString(text) {
			return text, true
		}
		return "", false
	}

	token = strings.TrimRight(token, ".,;:)")
	if jiraKeyPattern.MatchString(token) {
		return token, true
	}
	if strings.Contains(token, "://") {
		return jiraKeyFromURL(token)
	}
	return "", false
}

func jiraKeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimRight(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	last := path[idx+1:]
	if jiraKeyPattern.MatchString(last) {
		return last, true
	}
	return "", false
}
