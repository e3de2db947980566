package backport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	backportTitlePattern  = regexp.MustCompile(`^\[Backport ((?:manager-)?\d+\.\d+)\]\s*`)
	parentLinkPattern     = regexp.MustCompile(`(?i)backport of PR\s+(\S+)`)
	parentNumberPattern   = regexp.MustCompile(`(?i)Parent PR:\s*#(\d+)`)
	numberInLinkPattern   = regexp.MustCompile(`#(\d+)`)
	backportBodyMarkerOld = "parent pr:"
	backportBodyMarkerNew = "backport of pr"
)

// StripBackportPrefix removes every leading "[Backport X.Y]" marker so titles
// do not stack as a change moves down the chain.
func StripBackportPrefix(title string) string {
	result := title
	for {
		loc := backportTitlePattern.FindStringIndex(result)
		if loc == nil {
			break
		}
		result = result[loc[1]:]
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return title
	}
	return result
}

// BackportTitle returns the title of the backport pull request for v
func BackportTitle(originTitle string, v Version) string {
	return fmt.Sprintf("[Backport %s] %s", v, StripBackportPrefix(originTitle))
}

// TitleVersion returns the version a backport title targets
func TitleVersion(title string) (Version, bool) {
	m := backportTitlePattern.FindStringSubmatch(title)
	if m == nil {
		return Version{}, false
	}
	v, err := ParseVersion(m[1])
	if err != nil {
		return Version{}, false
	}
	return v, true
}

// IsBackportPullRequest reports whether a pull request was opened by the
// backport automation.
func IsBackportPullRequest(title, body string) bool {
	if backportTitlePattern.MatchString(title) {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, backportBodyMarkerNew) || strings.Contains(lower, backportBodyMarkerOld)
}

// BackportBranch returns the head branch name for the backport of origin to v
func BackportBranch(origin int, v Version) string {
	return fmt.Sprintf("backport/%d/to-%s", origin, v)
}

// BackportBody builds the body of a backport pull request: the origin body
// with its Fixes lines pointing at keys, one cherry-pick line per commit and a
// trailing parent reference.
func BackportBody(originBody string, keys []string, commits []string, originNumber int) string {
	var b strings.Builder
	if originBody != "" {
		body := originBody
		if len(keys) > 0 {
			body = RewriteFixes(originBody, keys)
		}
		b.WriteString(body)
		switch {
		case strings.HasSuffix(body, "\n\n"):
		case strings.HasSuffix(body, "\n"):
			b.WriteString("\n")
		default:
			b.WriteString("\n\n")
		}
	}
	for _, commit := range commits {
		fmt.Fprintf(&b, "- (cherry picked from commit %s)\n", commit)
	}
	fmt.Fprintf(&b, "\nParent PR: #%d", originNumber)
	return b.String()
}

// ParentNumber returns the pull request a backport body points back to
func ParentNumber(body string) (int, bool) {
	link := ""
	if m := parentLinkPattern.FindStringSubmatch(body); m != nil {
		link = m[1]
	} else if m := parentNumberPattern.FindStringSubmatch(body); m != nil {
		link = "#" + m[1]
	}
	if link == "" {
		return 0, false
	}
	m := numberInLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
