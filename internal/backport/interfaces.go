package backport

import (
	"context"

	"github.com/scylladb/github-automation/pkg/types"
)

// PullRequestStore is the GitHub side of the automation
type PullRequestStore interface {
	GetPullRequest(ctx context.Context, number int) (*types.PullRequest, error)
	// PullRequestsForCommits returns the pull requests associated with the
	// commits of a base..head range, each once.
	PullRequestsForCommits(ctx context.Context, commitRange string) ([]*types.PullRequest, error)
	// PromotedCommits returns the commits of pr as they landed on branch.
	// branch may also be a commit of the branch to scan back from.
	PromotedCommits(ctx context.Context, pr *types.PullRequest, branch string) ([]string, error)
	// FindPullRequestByHead returns the pull request opened from the bot's
	// head branch in any state, or nil when there is none.
	FindPullRequestByHead(ctx context.Context, head string) (*types.PullRequest, error)
	CreatePullRequest(ctx context.Context, pr types.NewPullRequest) (*types.PullRequest, error)
	AddLabels(ctx context.Context, number int, labels []string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	AddComment(ctx context.Context, number int, body string) error
	AddAssignees(ctx context.Context, number int, logins []string) error
	// SetMilestone sets the milestone titled title on a pull request,
	// creating the milestone when the repository has none by that title.
	SetMilestone(ctx context.Context, number int, title string) error
	// UserEmail returns the public email of a GitHub user, empty when hidden
	UserEmail(ctx context.Context, login string) (string, error)
	// CommitInBranch reports whether commit, or a cherry-pick of it, is
	// already among the recent commits of branch.
	CommitInBranch(ctx context.Context, commit, branch string) (bool, error)
}

// Issue is the Jira issue data the sub-issue synthesizer needs
type Issue struct {
	Key       string
	Summary   string
	Subtask   bool
	ParentKey string
}

// SubTaskRequest describes a Jira sub-task to create
type SubTaskRequest struct {
	ProjectKey        string
	ParentKey         string
	Summary           string
	Description       string
	AssigneeAccountID string
}

// IssueTracker is the Jira side of the automation
type IssueTracker interface {
	GetIssue(ctx context.Context, key string) (*Issue, error)
	ListSubTasks(ctx context.Context, parentKey string) ([]Issue, error)
	CreateSubTask(ctx context.Context, req SubTaskRequest) (string, error)
	AssignIssue(ctx context.Context, key, accountID string) error
	// FindAccountID returns the account registered with email, empty when none
	FindAccountID(ctx context.Context, email string) (string, error)
	AddComment(ctx context.Context, key, body string) error
	TransitionIssue(ctx context.Context, key, status string) error
}

// CherryPickRequest describes commits to replay onto a new branch
type CherryPickRequest struct {
	SourceBranch string
	TargetBranch string
	NewBranch    string
	Commits      []string
}

// CherryPickResult is the outcome of a cherry-pick. Conflicts are committed
// as-is and reported, not returned as errors.
type CherryPickResult struct {
	Conflicted      bool
	ConflictedFiles []string
	Head            string
}

// SourceControl replays commits onto a branch and publishes it
type SourceControl interface {
	CherryPick(ctx context.Context, req CherryPickRequest) (*CherryPickResult, error)
}

// ConflictContext describes a conflicted backport for a ConflictAdvisor
type ConflictContext struct {
	Title        string
	TargetBranch string
	Files        []string
	Commits      []string
}

// ConflictAdvisor suggests how to resolve a conflicted backport
type ConflictAdvisor interface {
	ConflictHint(ctx context.Context, c ConflictContext) (string, error)
}
