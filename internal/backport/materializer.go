package backport

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scylladb/github-automation/pkg/types"
)

const missingFixesWarning = "This backport PR can't be merged without a valid Fixes reference"

// MaterializeRequest describes one backport pull request to produce
type MaterializeRequest struct {
	// Origin is the root pull request the change was first merged through
	Origin       *types.PullRequest
	Version      Version
	SourceBranch string
	Commits      []string
	TargetBranch string
	// Fixes are the issue keys written into the Fixes lines
	Fixes            []string
	JiraFailed       bool
	WarnMissingFixes bool
}

// Materializer cherry-picks commits onto a release branch and opens the
// backport pull request for them.
type Materializer struct {
	prs        PullRequestStore
	source     SourceControl
	advisor    ConflictAdvisor
	milestones *Milestones
	policy     Policy
	logger     *zap.Logger
}

// NewMaterializer creates a new materializer. advisor and milestones may be nil.
func NewMaterializer(prs PullRequestStore, source SourceControl, advisor ConflictAdvisor, milestones *Milestones, policy Policy, logger *zap.Logger) *Materializer {
	return &Materializer{
		prs:        prs,
		source:     source,
		advisor:    advisor,
		milestones: milestones,
		policy:     policy,
		logger:     logger,
	}
}

// Existing returns the backport pull request already opened for origin and
// v, or nil.
func (m *Materializer) Existing(ctx context.Context, origin int, v Version) (*types.PullRequest, error) {
	pr, err := m.prs.FindPullRequestByHead(ctx, m.head(BackportBranch(origin, v)))
	if err != nil {
		return nil, fmt.Errorf("failed to look up backport of #%d to %s: %w", origin, v, err)
	}
	return pr, nil
}

// AlreadyPresent reports whether any of commits already landed on branch.
// Lookup errors are logged and count as absent.
func (m *Materializer) AlreadyPresent(ctx context.Context, commits []string, branch string) bool {
	for _, commit := range commits {
		present, err := m.prs.CommitInBranch(ctx, commit, branch)
		if err != nil {
			m.logger.Warn("failed to check commit in branch",
				zap.String("commit", commit),
				zap.String("branch", branch),
				zap.Error(err),
			)
			continue
		}
		if present {
			m.logger.Info("commit already in branch",
				zap.String("commit", commit),
				zap.String("branch", branch),
			)
			return true
		}
	}
	return false
}

// Materialize produces the backport pull request for req. A pull request that
// already exists for the same head branch is returned as is. Cherry-pick
// conflicts yield a draft pull request, not an error.
func (m *Materializer) Materialize(ctx context.Context, req MaterializeRequest) (*types.BackportLink, error) {
	if req.Origin == nil {
		return nil, fmt.Errorf("failed to materialize backport: missing origin pull request")
	}
	if len(req.Commits) == 0 {
		return nil, fmt.Errorf("failed to materialize backport of #%d to %s: no commits", req.Origin.Number, req.Version)
	}

	link := &types.BackportLink{
		OriginNumber: req.Origin.Number,
		Version:      req.Version.String(),
		TargetBranch: req.TargetBranch,
		SourceBranch: req.SourceBranch,
		Commits:      req.Commits,
		JiraKeys:     req.Fixes,
		JiraFailed:   req.JiraFailed,
	}

	existing, err := m.Existing(ctx, req.Origin.Number, req.Version)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.logger.Info("backport pull request already exists",
			zap.Int("origin", req.Origin.Number),
			zap.String("version", req.Version.String()),
			zap.Int("pr_number", existing.Number),
		)
		link.PullRequest = existing
		link.Existing = true
		link.Conflicted = existing.HasLabel(LabelConflicts)
		m.milestones.SetBackport(ctx, existing, req.Version)
		return link, nil
	}

	branch := BackportBranch(req.Origin.Number, req.Version)
	result, err := m.source.CherryPick(ctx, CherryPickRequest{
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		NewBranch:    branch,
		Commits:      req.Commits,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cherry-pick onto %s: %w", req.TargetBranch, err)
	}
	link.Conflicted = result.Conflicted

	pr, err := m.prs.CreatePullRequest(ctx, types.NewPullRequest{
		Title: BackportTitle(req.Origin.Title, req.Version),
		Body:  BackportBody(req.Origin.Body, req.Fixes, req.Commits, req.Origin.Number),
		Base:  req.TargetBranch,
		Head:  m.head(branch),
		Draft: result.Conflicted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backport pull request: %w", err)
	}
	link.PullRequest = pr

	m.logger.Info("created backport pull request",
		zap.Int("origin", req.Origin.Number),
		zap.String("version", req.Version.String()),
		zap.Int("pr_number", pr.Number),
		zap.String("pr_url", pr.URL),
		zap.Bool("conflicted", result.Conflicted),
	)

	author := req.Origin.Author.Login
	if author != "" {
		if err := m.prs.AddAssignees(ctx, pr.Number, []string{author}); err != nil {
			m.logger.Warn("failed to assign backport pull request", zap.Int("pr_number", pr.Number), zap.Error(err))
		}
	}

	if labels := m.labels(req, result.Conflicted); len(labels) > 0 {
		if err := m.prs.AddLabels(ctx, pr.Number, labels); err != nil {
			m.logger.Warn("failed to label backport pull request",
				zap.Int("pr_number", pr.Number),
				zap.Strings("labels", labels),
				zap.Error(err),
			)
		}
	}

	m.milestones.SetBackport(ctx, pr, req.Version)

	// the author gets one comment per backport pull request
	switch {
	case result.Conflicted:
		m.comment(ctx, pr.Number, m.conflictComment(ctx, req, author, result.ConflictedFiles))
	case req.WarnMissingFixes:
		m.comment(ctx, pr.Number, fmt.Sprintf("@%s %s ", author, missingFixesWarning))
	}

	return link, nil
}

func (m *Materializer) labels(req MaterializeRequest, conflicted bool) []string {
	labels := append([]string(nil), m.policy.CarriedLabels...)
	if priority, ok := PriorityLabel(req.Origin.Labels); ok {
		labels = append(labels, priority)
		if IsUrgentPriority(priority) && !m.policy.IsPackaging() {
			labels = append(labels, LabelForceOnCloud)
		}
	}
	if conflicted {
		labels = append(labels, LabelConflicts)
	}
	if req.JiraFailed {
		labels = append(labels, LabelJiraFailed)
	}
	return labels
}

func (m *Materializer) conflictComment(ctx context.Context, req MaterializeRequest, author string, files []string) string {
	comment := fmt.Sprintf("@%s - This PR has conflicts, therefore it was moved to `draft` \n", author)
	comment += "Please resolve them and mark this PR as ready for review"
	if req.WarnMissingFixes {
		comment += "\n\n" + missingFixesWarning
	}
	if m.advisor == nil {
		return comment
	}
	hint, err := m.advisor.ConflictHint(ctx, ConflictContext{
		Title:        StripBackportPrefix(req.Origin.Title),
		TargetBranch: req.TargetBranch,
		Files:        files,
		Commits:      req.Commits,
	})
	if err != nil {
		m.logger.Warn("failed to get conflict hint", zap.Error(err))
		return comment
	}
	if hint != "" {
		comment += "\n\n" + hint
	}
	return comment
}

func (m *Materializer) comment(ctx context.Context, number int, body string) {
	if err := m.prs.AddComment(ctx, number, body); err != nil {
		m.logger.Warn("failed to comment on pull request", zap.Int("pr_number", number), zap.Error(err))
	}
}

func (m *Materializer) head(branch string) string {
	if m.policy.BotLogin == "" {
		return branch
	}
	return m.policy.BotLogin + ":" + branch
}
