package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/internal/retry"
	"github.com/scylladb/github-automation/pkg/types"
)

// recent commits scanned when matching commits by title
const branchScanDepth = 100

// Client wraps the GitHub API for one repository
type Client struct {
	api    *github.Client
	repo   types.RepositoryInfo
	logger *zap.Logger
	retry  retry.Policy
}

// NewClient creates a new GitHub client
func NewClient(accessToken string, repo types.RepositoryInfo, policy retry.Policy, logger *zap.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: accessToken},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		api:    github.NewClient(tc),
		repo:   repo,
		logger: logger,
		retry:  policy,
	}
}

var (
	_ backport.PullRequestStore = (*Client)(nil)
	_ backport.ReleaseSource    = (*Client)(nil)
)

func (c *Client) do(ctx context.Context, op func() error) error {
	return retry.Do(ctx, c.retry, op)
}

// GetPullRequest retrieves a pull request by number
func (c *Client) GetPullRequest(ctx context.Context, number int) (*types.PullRequest, error) {
	var pr *github.PullRequest
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		pr, resp, err = c.api.PullRequests.Get(ctx, c.repo.Owner, c.repo.Name, number)
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}
	return toPullRequest(pr), nil
}

// PullRequestsForCommits returns the pull requests associated with the
// commits of a base..head range.
func (c *Client) PullRequestsForCommits(ctx context.Context, commitRange string) ([]*types.PullRequest, error) {
	base, head, ok := strings.Cut(commitRange, "..")
	if !ok || base == "" || head == "" {
		return nil, fmt.Errorf("invalid commit range %q", commitRange)
	}

	var comparison *github.CommitsComparison
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		comparison, resp, err = c.api.Repositories.CompareCommits(ctx, c.repo.Owner, c.repo.Name, base, head, nil)
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compare commits: %w", err)
	}

	seen := make(map[int]bool)
	var out []*types.PullRequest
	for _, commit := range comparison.Commits {
		var prs []*github.PullRequest
		err := c.do(ctx, func() error {
			var resp *github.Response
			var err error
			prs, resp, err = c.api.PullRequests.ListPullRequestsWithCommit(ctx, c.repo.Owner, c.repo.Name, commit.GetSHA(), nil)
			return classify(resp, err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests for commit %s: %w", commit.GetSHA(), err)
		}
		for _, pr := range prs {
			if seen[pr.GetNumber()] {
				continue
			}
			seen[pr.GetNumber()] = true
			out = append(out, toPullRequest(pr))
		}
	}

	c.logger.Info("found pull requests for commits",
		zap.String("range", commitRange),
		zap.Int("commits", len(comparison.Commits)),
		zap.Int("pull_requests", len(out)),
	)
	return out, nil
}

// PromotedCommits returns the commits of pr as they landed on branch: the
// merge commit when the pull request was merged with one, the matching
// commits of branch for rebase merges, or the closing commit of pull requests
// closed by a push.
func (c *Client) PromotedCommits(ctx context.Context, pr *types.PullRequest, branch string) ([]string, error) {
	if !pr.Merged {
		if pr.State == "closed" {
			return c.closingCommits(ctx, pr.Number)
		}
		return nil, nil
	}
	if pr.MergeCommitSHA == "" {
		return nil, fmt.Errorf("pull request #%d has no merge commit", pr.Number)
	}

	merge, err := c.getCommit(ctx, pr.MergeCommitSHA)
	if err != nil {
		return nil, err
	}
	if len(merge.Parents) > 1 {
		return []string{pr.MergeCommitSHA}, nil
	}

	var prCommits []*github.RepositoryCommit
	err = c.do(ctx, func() error {
		var resp *github.Response
		var err error
		prCommits, resp, err = c.api.PullRequests.ListCommits(ctx, c.repo.Owner, c.repo.Name, pr.Number, &github.ListOptions{PerPage: 100})
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull request commits: %w", err)
	}

	branchCommits, err := c.branchCommits(ctx, branch)
	if err != nil {
		return nil, err
	}

	var commits []string
	for _, prCommit := range prCommits {
		title := commitTitle(prCommit.GetCommit().GetMessage())
		if title == "" {
			continue
		}
		for _, bc := range branchCommits {
			if strings.HasPrefix(bc.GetCommit().GetMessage(), title) {
				commits = append(commits, bc.GetSHA())
				break
			}
		}
	}
	if len(commits) == 0 {
		c.logger.Warn("no promoted commits matched by title, using merge commit",
			zap.Int("pr_number", pr.Number),
			zap.String("branch", branch),
		)
		return []string{pr.MergeCommitSHA}, nil
	}
	return commits, nil
}

func (c *Client) closingCommits(ctx context.Context, number int) ([]string, error) {
	var events []*github.IssueEvent
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		events, resp, err = c.api.Issues.ListIssueEvents(ctx, c.repo.Owner, c.repo.Name, number, &github.ListOptions{PerPage: 100})
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issue events: %w", err)
	}
	var commits []string
	for _, ev := range events {
		if ev.GetEvent() == "closed" && ev.GetCommitID() != "" {
			commits = append(commits, ev.GetCommitID())
		}
	}
	return commits, nil
}

// FindPullRequestByHead returns the pull request opened from head in any
// state, or nil.
func (c *Client) FindPullRequestByHead(ctx context.Context, head string) (*types.PullRequest, error) {
	var prs []*github.PullRequest
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		prs, resp, err = c.api.PullRequests.List(ctx, c.repo.Owner, c.repo.Name, &github.PullRequestListOptions{
			State:     "all",
			Head:      head,
			Sort:      "created",
			Direction: "desc",
		})
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return toPullRequest(prs[0]), nil
}

// CreatePullRequest creates a pull request
func (c *Client) CreatePullRequest(ctx context.Context, req types.NewPullRequest) (*types.PullRequest, error) {
	newPR := &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.Head),
		Base:  github.String(req.Base),
		Body:  github.String(req.Body),
		Draft: github.Bool(req.Draft),
	}

	var pr *github.PullRequest
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		pr, resp, err = c.api.PullRequests.Create(ctx, c.repo.Owner, c.repo.Name, newPR)
		return classify(resp, err)
	})
	if isAlreadyExists(err) {
		// an earlier attempt may have created it before failing
		existing, findErr := c.FindPullRequestByHead(ctx, req.Head)
		if findErr == nil && existing != nil {
			c.logger.Warn("pull request already exists",
				zap.String("head", req.Head),
				zap.Int("pr_number", existing.Number),
			)
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	c.logger.Info("created pull request",
		zap.String("repository", c.repo.FullName()),
		zap.Int("pr_number", pr.GetNumber()),
		zap.String("pr_url", pr.GetHTMLURL()),
	)
	return toPullRequest(pr), nil
}

// AddLabels adds labels to a pull request
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	err := c.do(ctx, func() error {
		_, resp, err := c.api.Issues.AddLabelsToIssue(ctx, c.repo.Owner, c.repo.Name, number, labels)
		return classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("failed to add labels: %w", err)
	}
	return nil
}

// RemoveLabel removes a label from a pull request. Removing an absent label succeeds.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	err := c.do(ctx, func() error {
		resp, err := c.api.Issues.RemoveLabelForIssue(ctx, c.repo.Owner, c.repo.Name, number, label)
		if isNotFound(resp) {
			return nil
		}
		return classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
	}
	return nil
}

// AddComment comments on a pull request
func (c *Client) AddComment(ctx context.Context, number int, body string) error {
	err := c.do(ctx, func() error {
		_, resp, err := c.api.Issues.CreateComment(ctx, c.repo.Owner, c.repo.Name, number, &github.IssueComment{
			Body: github.String(body),
		})
		return classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// AddAssignees assigns users to a pull request
func (c *Client) AddAssignees(ctx context.Context, number int, logins []string) error {
	err := c.do(ctx, func() error {
		_, resp, err := c.api.Issues.AddAssignees(ctx, c.repo.Owner, c.repo.Name, number, logins)
		return classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("failed to add assignees: %w", err)
	}
	return nil
}

// SetMilestone sets the milestone titled title on a pull request, creating
// the milestone if needed
func (c *Client) SetMilestone(ctx context.Context, number int, title string) error {
	milestone, err := c.findMilestone(ctx, title)
	if err != nil {
		return err
	}
	if milestone == nil {
		err = c.do(ctx, func() error {
			var resp *github.Response
			var err error
			milestone, resp, err = c.api.Issues.CreateMilestone(ctx, c.repo.Owner, c.repo.Name, &github.Milestone{
				Title: github.String(title),
			})
			return classify(resp, err)
		})
		if err != nil {
			return fmt.Errorf("failed to create milestone %s: %w", title, err)
		}
		c.logger.Info("created milestone", zap.String("milestone", title))
	}

	err = c.do(ctx, func() error {
		_, resp, err := c.api.Issues.Edit(ctx, c.repo.Owner, c.repo.Name, number, &github.IssueRequest{
			Milestone: github.Int(milestone.GetNumber()),
		})
		return classify(resp, err)
	})
	if err != nil {
		return fmt.Errorf("failed to set milestone: %w", err)
	}
	return nil
}

func (c *Client) findMilestone(ctx context.Context, title string) (*github.Milestone, error) {
	opts := &github.MilestoneListOptions{State: "all", ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var milestones []*github.Milestone
		var resp *github.Response
		err := c.do(ctx, func() error {
			var err error
			milestones, resp, err = c.api.Issues.ListMilestones(ctx, c.repo.Owner, c.repo.Name, opts)
			return classify(resp, err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list milestones: %w", err)
		}
		for _, m := range milestones {
			if m.GetTitle() == title {
				return m, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// ReleaseTags returns the names of every tag of the repository
func (c *Client) ReleaseTags(ctx context.Context) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}
	var names []string
	for {
		var tags []*github.RepositoryTag
		var resp *github.Response
		err := c.do(ctx, func() error {
			var err error
			tags, resp, err = c.api.Repositories.ListTags(ctx, c.repo.Owner, c.repo.Name, opts)
			return classify(resp, err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list tags: %w", err)
		}
		for _, tag := range tags {
			names = append(names, tag.GetName())
		}
		if resp == nil || resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

// FileContent returns the decoded content of the file at path on ref
func (c *Client) FileContent(ctx context.Context, path, ref string) (string, error) {
	var file *github.RepositoryContent
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		file, _, resp, err = c.api.Repositories.GetContents(ctx, c.repo.Owner, c.repo.Name, path, &github.RepositoryContentGetOptions{Ref: ref})
		return classify(resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", path, err)
	}
	if file == nil {
		return "", fmt.Errorf("failed to get %s: not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return content, nil
}

// UserEmail returns the public email of a user
func (c *Client) UserEmail(ctx context.Context, login string) (string, error) {
	var user *github.User
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		user, resp, err = c.api.Users.Get(ctx, login)
		return classify(resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.GetEmail(), nil
}

// CommitInBranch reports whether commit, or a cherry-pick of it, is among the
// recent commits of branch.
func (c *Client) CommitInBranch(ctx context.Context, commit, branch string) (bool, error) {
	source, err := c.getCommit(ctx, commit)
	if err != nil {
		return false, err
	}
	title := commitTitle(source.GetCommit().GetMessage())

	branchCommits, err := c.branchCommits(ctx, branch)
	if err != nil {
		return false, err
	}
	for _, bc := range branchCommits {
		if bc.GetSHA() == commit {
			return true, nil
		}
		if title == "" {
			continue
		}
		branchTitle := commitTitle(bc.GetCommit().GetMessage())
		if branchTitle == "" {
			continue
		}
		if strings.Contains(branchTitle, title) || strings.Contains(title, branchTitle) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) getCommit(ctx context.Context, sha string) (*github.RepositoryCommit, error) {
	var commit *github.RepositoryCommit
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		commit, resp, err = c.api.Repositories.GetCommit(ctx, c.repo.Owner, c.repo.Name, sha, nil)
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", sha, err)
	}
	return commit, nil
}

func (c *Client) branchCommits(ctx context.Context, branch string) ([]*github.RepositoryCommit, error) {
	var commits []*github.RepositoryCommit
	err := c.do(ctx, func() error {
		var resp *github.Response
		var err error
		commits, resp, err = c.api.Repositories.ListCommits(ctx, c.repo.Owner, c.repo.Name, &github.CommitsListOptions{
			SHA:         branch,
			ListOptions: github.ListOptions{PerPage: branchScanDepth},
		})
		return classify(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits of %s: %w", branch, err)
	}
	return commits, nil
}

func commitTitle(message string) string {
	title, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(title)
}

func toPullRequest(pr *github.PullRequest) *types.PullRequest {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	return &types.PullRequest{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		Labels:         labels,
		BaseBranch:     pr.GetBase().GetRef(),
		HeadBranch:     pr.GetHead().GetRef(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged() || pr.MergedAt != nil,
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		Draft:          pr.GetDraft(),
		Milestone:      pr.GetMilestone().GetTitle(),
		Author: types.Identity{
			Login: pr.GetUser().GetLogin(),
			Email: pr.GetUser().GetEmail(),
		},
		URL: pr.GetHTMLURL(),
	}
}
