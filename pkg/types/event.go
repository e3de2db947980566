package types

// EventType is the kind of repository event that triggered the automation
type EventType string

const (
	EventPush    EventType = "push"
	EventLabeled EventType = "labeled"
	EventClosed  EventType = "closed"
)

// Event is a platform-neutral description of a repository event.
// PR snapshot fields are advisory; handlers re-read the pull request.
type Event struct {
	Type        EventType `json:"event_type"`
	Repository  string    `json:"repository"`
	PullRequest int       `json:"origin_pr_number,omitempty"`
	BaseRef     string    `json:"base_branch_ref,omitempty"`
	CommitRange string    `json:"commit_range,omitempty"`
	Label       string    `json:"label_name,omitempty"`
	// HeadCommit is the stable branch head right after the pull request
	// landed. Commits are looked up from there instead of the branch tip.
	HeadCommit  string    `json:"head_commit,omitempty"`
	Body        string    `json:"pr_body,omitempty"`
	Labels      []string  `json:"pr_labels,omitempty"`
	State       string    `json:"pr_state,omitempty"`
	Merged      bool      `json:"pr_merged,omitempty"`
}
