package types

// Identity is a GitHub user as seen by the automation
type Identity struct {
	Login string
	Email string
}

// PullRequest contains the pull request fields the backport automation reads
type PullRequest struct {
	Number         int
	Title          string
	Body           string
	Labels         []string
	BaseBranch     string
	HeadBranch     string
	State          string
	Merged         bool
	MergeCommitSHA string
	Draft          bool
	Milestone      string
	Author         Identity
	URL            string
}

// HasLabel reports whether the pull request carries label
func (p *PullRequest) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NewPullRequest describes a pull request to open
type NewPullRequest struct {
	Title string
	Body  string
	Base  string
	Head  string
	Draft bool
}
