package backport

import (
	"fmt"
	"strings"
)

const (
	LabelParallel          = "parallel_backport"
	LabelConflicts         = "conflicts"
	LabelForceOnCloud      = "force_on_cloud"
	LabelJiraFailed        = "jira-sub-issue-creation-failed"
	LabelPromotedToMaster  = "promoted-to-master"
	promotedLabelPrefix    = "promoted-to-"
	priorityLabelPrefix    = "P"
	highestPriorityLabel   = "P0"
	lowestPriorityLabelNum = 4
)

// PromotedLabel returns the label written on pull requests promoted to branch
func PromotedLabel(branch string) string {
	if IsMasterBranch(branch) {
		return LabelPromotedToMaster
	}
	return promotedLabelPrefix + branch
}

// Phase is the chain state of an origin pull request
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseChainActive
	PhaseParallelActive
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseChainActive:
		return "chain_active"
	case PhaseParallelActive:
		return "parallel_active"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ChainState is the backport state of an origin pull request derived from a
// snapshot of its labels. It is never persisted and never mutated by handlers;
// changes are expressed as a LabelDiff.
type ChainState struct {
	Requested []Version
	Pending   []Version
	Done      []Version
	Parallel  bool
	Malformed []error

	// labels that contradict a higher ranked state of the same version
	stray []string
}

// ParseChainState derives the chain state from labels. When a version shows up
// in more than one state the most advanced one wins: done, then requested,
// then pending.
func ParseChainState(labels []string) ChainState {
	var st ChainState
	done := make(map[Version]bool)
	pending := make(map[Version]bool)

	ordered, skipped := OrderTargets(labels)
	st.Malformed = append(st.Malformed, skipped...)
	requested := make(map[Version]bool, len(ordered))
	for _, v := range ordered {
		requested[v] = true
	}

	for _, label := range labels {
		if label == LabelParallel {
			st.Parallel = true
			continue
		}
		if !strings.HasPrefix(label, labelPrefix) || isRequestedCandidate(label) {
			continue
		}
		raw := strings.TrimPrefix(label, labelPrefix)
		target := pending
		if strings.HasSuffix(raw, doneSuffix) {
			raw, target = strings.TrimSuffix(raw, doneSuffix), done
		} else {
			raw = strings.TrimSuffix(raw, pendingSuffix)
		}
		v, err := ParseVersion(raw)
		if err != nil {
			st.Malformed = append(st.Malformed, fmt.Errorf("label %q: %w", label, err))
			continue
		}
		target[v] = true
	}

	for v := range done {
		st.Done = append(st.Done, v)
		if requested[v] {
			st.stray = append(st.stray, v.Label())
		}
		if pending[v] {
			st.stray = append(st.stray, v.PendingLabel())
		}
	}
	// ordered is already highest first
	for _, v := range ordered {
		if done[v] {
			continue
		}
		st.Requested = append(st.Requested, v)
		if pending[v] {
			st.stray = append(st.stray, v.PendingLabel())
		}
	}
	for v := range pending {
		if done[v] || requested[v] {
			continue
		}
		st.Pending = append(st.Pending, v)
	}

	sortDescending(st.Done)
	sortDescending(st.Pending)
	return st
}

// Phase classifies the state. inFlight reports whether a backport pull
// request already exists for a requested version.
func (s ChainState) Phase(inFlight func(Version) bool) Phase {
	if len(s.Requested) == 0 && len(s.Pending) == 0 {
		if len(s.Done) > 0 {
			return PhaseComplete
		}
		return PhaseNotStarted
	}

	started := false
	for _, v := range s.Requested {
		if inFlight(v) {
			started = true
			break
		}
	}

	if s.Parallel {
		if started {
			return PhaseParallelActive
		}
		return PhaseNotStarted
	}
	if started || len(s.Pending) > 0 {
		return PhaseChainActive
	}
	return PhaseNotStarted
}

// Has reports whether v is tracked in any state
func (s ChainState) Has(v Version) bool {
	return containsVersion(s.Requested, v) || containsVersion(s.Pending, v) || containsVersion(s.Done, v)
}

// IsDone reports whether v has completed
func (s ChainState) IsDone(v Version) bool {
	return containsVersion(s.Done, v)
}

// Cleanup returns the removals that restore the one-state-per-version invariant
func (s ChainState) Cleanup() *LabelDiff {
	d := NewLabelDiff()
	for _, label := range s.stray {
		d.Remove(label)
	}
	return d
}

// LabelDiff is an ordered set of label additions and removals. Adding a label
// cancels an earlier removal of it and vice versa.
type LabelDiff struct {
	added   []string
	removed []string
}

func NewLabelDiff() *LabelDiff {
	return &LabelDiff{}
}

func (d *LabelDiff) Add(label string) {
	d.removed = without(d.removed, label)
	if !contains(d.added, label) {
		d.added = append(d.added, label)
	}
}

func (d *LabelDiff) Remove(label string) {
	d.added = without(d.added, label)
	if !contains(d.removed, label) {
		d.removed = append(d.removed, label)
	}
}

// Replace swaps one label for another
func (d *LabelDiff) Replace(from, to string) {
	d.Remove(from)
	d.Add(to)
}

// Merge applies every change of other after the changes already in d
func (d *LabelDiff) Merge(other *LabelDiff) {
	if other == nil {
		return
	}
	for _, label := range other.removed {
		d.Remove(label)
	}
	for _, label := range other.added {
		d.Add(label)
	}
}

func (d *LabelDiff) Added() []string {
	return append([]string(nil), d.added...)
}

func (d *LabelDiff) Removed() []string {
	return append([]string(nil), d.removed...)
}

func (d *LabelDiff) removes(label string) bool {
	return contains(d.removed, label)
}

func (d *LabelDiff) Empty() bool {
	return len(d.added) == 0 && len(d.removed) == 0
}

// Effective drops additions of labels already present and removals of labels
// that are absent.
func (d *LabelDiff) Effective(current []string) *LabelDiff {
	out := NewLabelDiff()
	for _, label := range d.removed {
		if contains(current, label) {
			out.removed = append(out.removed, label)
		}
	}
	for _, label := range d.added {
		if !contains(current, label) {
			out.added = append(out.added, label)
		}
	}
	return out
}

// Apply returns current with the diff applied
func (d *LabelDiff) Apply(current []string) []string {
	out := make([]string, 0, len(current)+len(d.added))
	for _, label := range current {
		if !contains(d.removed, label) && !contains(out, label) {
			out = append(out, label)
		}
	}
	for _, label := range d.added {
		if !contains(out, label) {
			out = append(out, label)
		}
	}
	return out
}

// PriorityLabel returns the highest priority label (P0 highest) in labels
func PriorityLabel(labels []string) (string, bool) {
	for i := 0; i <= lowestPriorityLabelNum; i++ {
		label := fmt.Sprintf("%s%d", priorityLabelPrefix, i)
		if contains(labels, label) {
			return label, true
		}
	}
	return "", false
}

// IsUrgentPriority reports whether label is P0 or P1
func IsUrgentPriority(label string) bool {
	return label == highestPriorityLabel || label == priorityLabelPrefix+"1"
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
