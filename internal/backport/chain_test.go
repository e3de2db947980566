package backport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func never(Version) bool  { return false }
func always(Version) bool { return true }

func TestParseChainState(t *testing.T) {
	st := ParseChainState([]string{
		"backport/2025.4",
		"backport/2025.3-pending",
		"backport/2025.2-pending",
		"backport/2025.1-done",
		"backport/2025.x",
		"promoted-to-master",
		"parallel_backport",
	})
	assert.Equal(t, []string{"2025.4"}, versionStrings(st.Requested))
	assert.Equal(t, []string{"2025.3", "2025.2"}, versionStrings(st.Pending))
	assert.Equal(t, []string{"2025.1"}, versionStrings(st.Done))
	assert.True(t, st.Parallel)
	require.Len(t, st.Malformed, 1)
	assert.ErrorIs(t, st.Malformed[0], ErrMalformedVersionLabel)
	assert.True(t, st.Cleanup().Empty())
}

func TestParseChainStateOrdersRequestedLikeOrderTargets(t *testing.T) {
	labels := []string{
		"backport/manager-3.4",
		"backport/2025.3",
		"backport/2025.4",
		"backport/2025.3",
		"backport/2025.y",
		"backport/2025.1-pending",
	}
	targets, skipped := OrderTargets(labels)
	st := ParseChainState(labels)

	assert.Equal(t, targets, st.Requested)
	assert.Equal(t, []string{"2025.4", "2025.3", "manager-3.4"}, versionStrings(st.Requested))
	require.Len(t, skipped, 1)
	require.Len(t, st.Malformed, 1)
	assert.EqualError(t, st.Malformed[0], skipped[0].Error())
}

func TestParseChainStateKeepsOneStatePerVersion(t *testing.T) {
	st := ParseChainState([]string{
		"backport/2025.4",
		"backport/2025.4-done",
		"backport/2025.3",
		"backport/2025.3-pending",
	})
	assert.Equal(t, []string{"2025.4"}, versionStrings(st.Done))
	assert.Equal(t, []string{"2025.3"}, versionStrings(st.Requested))
	assert.Empty(t, st.Pending)

	cleanup := st.Cleanup()
	assert.ElementsMatch(t, []string{"backport/2025.4", "backport/2025.3-pending"}, cleanup.Removed())
	assert.Empty(t, cleanup.Added())
}

func TestPhase(t *testing.T) {
	tests := []struct {
		name     string
		labels   []string
		inFlight func(Version) bool
		want     Phase
	}{
		{name: "no labels", want: PhaseNotStarted, inFlight: never},
		{name: "requested only", labels: []string{"backport/2025.4"}, inFlight: never, want: PhaseNotStarted},
		{name: "head in flight", labels: []string{"backport/2025.4", "backport/2025.3-pending"}, inFlight: always, want: PhaseChainActive},
		{name: "pending only", labels: []string{"backport/2025.3-pending", "backport/2025.4-done"}, inFlight: never, want: PhaseChainActive},
		{name: "parallel not started", labels: []string{"parallel_backport", "backport/2025.4"}, inFlight: never, want: PhaseNotStarted},
		{name: "parallel in flight", labels: []string{"parallel_backport", "backport/2025.4"}, inFlight: always, want: PhaseParallelActive},
		{name: "all done", labels: []string{"backport/2025.4-done", "backport/2025.3-done"}, inFlight: never, want: PhaseComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseChainState(tt.labels).Phase(tt.inFlight))
		})
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "chain_active", PhaseChainActive.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}

func TestLabelDiff(t *testing.T) {
	d := NewLabelDiff()
	d.Replace("backport/2025.3", "backport/2025.3-pending")
	d.Add("backport/2025.3")
	d.Add("x")
	d.Remove("x")
	assert.Equal(t, []string{"backport/2025.3-pending", "backport/2025.3"}, d.Added())
	assert.Equal(t, []string{"x"}, d.Removed())

	current := []string{"backport/2025.3", "P1"}
	eff := d.Effective(current)
	assert.Equal(t, []string{"backport/2025.3-pending"}, eff.Added())
	assert.Empty(t, eff.Removed())
	assert.Equal(t, []string{"backport/2025.3", "P1", "backport/2025.3-pending"}, d.Apply(current))
}

func TestLabelDiffMerge(t *testing.T) {
	a := NewLabelDiff()
	a.Add("one")
	b := NewLabelDiff()
	b.Remove("one")
	b.Add("two")
	a.Merge(b)
	a.Merge(nil)
	assert.Equal(t, []string{"two"}, a.Added())
	assert.Equal(t, []string{"one"}, a.Removed())
	assert.False(t, a.Empty())
}

func TestPromotedLabel(t *testing.T) {
	assert.Equal(t, "promoted-to-master", PromotedLabel("master"))
	assert.Equal(t, "promoted-to-master", PromotedLabel("next"))
	assert.Equal(t, "promoted-to-branch-2025.4", PromotedLabel("branch-2025.4"))
	assert.Equal(t, "promoted-to-manager-3.4", PromotedLabel("manager-3.4"))
}

func TestPriorityLabel(t *testing.T) {
	p, ok := PriorityLabel([]string{"P3", "bug", "P1"})
	require.True(t, ok)
	assert.Equal(t, "P1", p)
	assert.True(t, IsUrgentPriority(p))
	assert.False(t, IsUrgentPriority("P2"))

	_, ok = PriorityLabel([]string{"bug"})
	assert.False(t, ok)
}
