package backport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/scylladb/github-automation/pkg/types"
)

// VersionFile is the file on the flagship master branch naming the release
// under development
const VersionFile = "SCYLLA-VERSION-GEN"

var masterVersionPattern = regexp.MustCompile(`(?m)^VERSION=(\d+\.\d+\.\d+)-dev\s*$`)

// ReleaseSource reads the release state of the flagship repository
type ReleaseSource interface {
	// ReleaseTags returns every tag name of the flagship repository
	ReleaseTags(ctx context.Context) ([]string, error)
	// FileContent returns the content of path at ref
	FileContent(ctx context.Context, path, ref string) (string, error)
}

// BackportMilestone returns the milestone of a backport to v: the patch
// release after the latest scylla-X.Y.Z tag, or X.Y.Z when the branch only
// has release candidates for Z. Manager versions have no milestone.
func BackportMilestone(v Version, tags []string) (string, bool) {
	if v.Manager {
		return "", false
	}
	prefix := regexp.QuoteMeta(v.String())
	release := regexp.MustCompile(`^scylla-` + prefix + `\.(\d+)(?:-candidate-[\w.-]+)?$`)
	rc := regexp.MustCompile(`^scylla-` + prefix + `\.(\d+)-rc\d+(?:-candidate-[\w.-]+)?$`)

	latestRelease, latestRC := -1, -1
	for _, tag := range tags {
		if m := release.FindStringSubmatch(tag); m != nil {
			if patch, err := strconv.Atoi(m[1]); err == nil && patch > latestRelease {
				latestRelease = patch
			}
			continue
		}
		if m := rc.FindStringSubmatch(tag); m != nil {
			if patch, err := strconv.Atoi(m[1]); err == nil && patch > latestRC {
				latestRC = patch
			}
		}
	}

	switch {
	case latestRelease >= 0:
		return fmt.Sprintf("%s.%d", v, latestRelease+1), true
	case latestRC >= 0:
		return fmt.Sprintf("%s.%d", v, latestRC), true
	}
	return "", false
}

// MasterMilestone returns the release named by a VERSION=X.Y.Z-dev line
func MasterMilestone(versionFile string) (string, bool) {
	m := masterVersionPattern.FindStringSubmatch(versionFile)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Milestones sets release milestones on pull requests of the repositories
// listed in Policy.MilestoneRepos. Failures are logged, never returned.
type Milestones struct {
	prs      PullRequestStore
	releases ReleaseSource
	policy   Policy
	logger   *zap.Logger
}

// NewMilestones creates a milestone setter. It is disabled when releases is nil.
func NewMilestones(prs PullRequestStore, releases ReleaseSource, policy Policy, logger *zap.Logger) *Milestones {
	return &Milestones{
		prs:      prs,
		releases: releases,
		policy:   policy,
		logger:   logger,
	}
}

func (m *Milestones) enabled() bool {
	return m != nil && m.releases != nil && m.policy.SetsMilestones()
}

// SetBackport sets the next patch release of v on a backport pull request
func (m *Milestones) SetBackport(ctx context.Context, pr *types.PullRequest, v Version) {
	if !m.enabled() || v.Manager {
		return
	}
	tags, err := m.releases.ReleaseTags(ctx)
	if err != nil {
		m.logger.Warn("failed to list release tags", zap.Error(err))
		return
	}
	title, ok := BackportMilestone(v, tags)
	if !ok {
		m.logger.Warn("no release tags for version", zap.String("version", v.String()))
		return
	}
	m.set(ctx, pr, title)
}

// SetMaster sets the release under development on a pull request promoted
// to master
func (m *Milestones) SetMaster(ctx context.Context, pr *types.PullRequest) {
	if !m.enabled() {
		return
	}
	content, err := m.releases.FileContent(ctx, VersionFile, m.policy.master())
	if err != nil {
		m.logger.Warn("failed to read version file", zap.String("path", VersionFile), zap.Error(err))
		return
	}
	title, ok := MasterMilestone(content)
	if !ok {
		m.logger.Warn("no development version in version file", zap.String("path", VersionFile))
		return
	}
	m.set(ctx, pr, title)
}

func (m *Milestones) set(ctx context.Context, pr *types.PullRequest, title string) {
	if pr.Milestone == title {
		return
	}
	if err := m.prs.SetMilestone(ctx, pr.Number, title); err != nil {
		m.logger.Warn("failed to set milestone",
			zap.Int("pr_number", pr.Number),
			zap.String("milestone", title),
			zap.Error(err),
		)
		return
	}
	pr.Milestone = title
	m.logger.Info("set milestone", zap.Int("pr_number", pr.Number), zap.String("milestone", title))
}
