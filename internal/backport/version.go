package backport

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	labelPrefix   = "backport/"
	pendingSuffix = "-pending"
	doneSuffix    = "-done"
	managerPrefix = "manager-"
)

// ErrMalformedVersionLabel is returned for backport labels whose version is not <major>.<minor>
var ErrMalformedVersionLabel = errors.New("malformed version label")

var versionPattern = regexp.MustCompile(`^(manager-)?(\d+)\.(\d+)$`)

// Version is a backport target release. Manager versions (manager-X.Y) live on
// their own branches and sort below regular releases.
type Version struct {
	Major   int
	Minor   int
	Manager bool
}

// ParseVersion parses "2025.4" or "manager-3.4"
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformedVersionLabel, s)
	}
	major, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrMalformedVersionLabel, s, err)
	}
	minor, err := strconv.Atoi(m[3])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrMalformedVersionLabel, s, err)
	}
	return Version{Major: major, Minor: minor, Manager: m[1] != ""}, nil
}

// ParseLabel parses a requested backport label such as "backport/2025.4".
// Pending and done labels are rejected.
func ParseLabel(label string) (Version, error) {
	if !strings.HasPrefix(label, labelPrefix) {
		return Version{}, fmt.Errorf("%w: %q is not a backport label", ErrMalformedVersionLabel, label)
	}
	if strings.HasSuffix(label, pendingSuffix) || strings.HasSuffix(label, doneSuffix) {
		return Version{}, fmt.Errorf("%w: %q is not a requested backport label", ErrMalformedVersionLabel, label)
	}
	return ParseVersion(strings.TrimPrefix(label, labelPrefix))
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d", v.Major, v.Minor)
	if v.Manager {
		return managerPrefix + s
	}
	return s
}

// Label returns the requested label, e.g. backport/2025.4
func (v Version) Label() string {
	return labelPrefix + v.String()
}

// PendingLabel returns the label of a version queued behind the current chain link
func (v Version) PendingLabel() string {
	return v.Label() + pendingSuffix
}

// DoneLabel returns the label of a completed version
func (v Version) DoneLabel() string {
	return v.Label() + doneSuffix
}

// Less orders manager versions before regular ones, then by major and minor.
func (v Version) Less(o Version) bool {
	if v.Manager != o.Manager {
		return v.Manager
	}
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// OrderTargets returns the requested backport versions found in labels, highest
// first. Labels that look like requested backport labels but do not parse are
// reported in skipped; callers log them and carry on.
func OrderTargets(labels []string) (targets []Version, skipped []error) {
	seen := make(map[Version]bool)
	for _, label := range labels {
		if !isRequestedCandidate(label) {
			continue
		}
		v, err := ParseLabel(label)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		targets = append(targets, v)
	}
	sortDescending(targets)
	return targets, skipped
}

func isRequestedCandidate(label string) bool {
	return strings.HasPrefix(label, labelPrefix) &&
		!strings.HasSuffix(label, pendingSuffix) &&
		!strings.HasSuffix(label, doneSuffix)
}

func sortDescending(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[j].Less(versions[i])
	})
}

func containsVersion(versions []Version, v Version) bool {
	for _, candidate := range versions {
		if candidate == v {
			return true
		}
	}
	return false
}
