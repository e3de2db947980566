package types

// BackportLink is a pull request created for one version of a backport chain
type BackportLink struct {
	OriginNumber int
	Version      string
	PullRequest  *PullRequest
	TargetBranch string
	SourceBranch string
	Commits      []string
	JiraKeys     []string
	Conflicted   bool
	JiraFailed   bool
	Existing     bool
}
