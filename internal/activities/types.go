package activities

import (
	"github.com/scylladb/github-automation/internal/backport"
)

// ErrTypeInvalidEvent is the application error type of events that can never
// be handled
const ErrTypeInvalidEvent = "InvalidEvent"

// LinkResult describes one backport pull request touched by an event
type LinkResult struct {
	Version    string `json:"version"`
	Number     int    `json:"number"`
	URL        string `json:"url,omitempty"`
	Conflicted bool   `json:"conflicted,omitempty"`
	Existing   bool   `json:"existing,omitempty"`
}

// OutcomeResult contains what an event did to one origin pull request
type OutcomeResult struct {
	PullRequest int          `json:"pull_request"`
	Phase       string       `json:"phase"`
	Links       []LinkResult `json:"links,omitempty"`
	Added       []string     `json:"added,omitempty"`
	Removed     []string     `json:"removed,omitempty"`
	Note        string       `json:"note,omitempty"`
}

// EventResult contains the result of handling an event
type EventResult struct {
	Repository string          `json:"repository"`
	EventType  string          `json:"event_type"`
	Outcomes   []OutcomeResult `json:"outcomes,omitempty"`
}

func toOutcomeResult(o backport.Outcome) OutcomeResult {
	out := OutcomeResult{
		PullRequest: o.PullRequest,
		Phase:       o.Phase.String(),
		Added:       o.Added,
		Removed:     o.Removed,
		Note:        o.Note,
	}
	for _, link := range o.Links {
		lr := LinkResult{
			Version:    link.Version,
			Conflicted: link.Conflicted,
			Existing:   link.Existing,
		}
		if link.PullRequest != nil {
			lr.Number = link.PullRequest.Number
			lr.URL = link.PullRequest.URL
		}
		out.Links = append(out.Links, lr)
	}
	return out
}
