package activities

import (
	"context"
	"errors"

	"github.com/scylladb/github-automation/pkg/types"
)

// Activity functions registered with the Temporal worker. They call the
// implementation set at startup.

var backportActivities *BackportActivities

// SetBackportActivities sets the backport activities implementation
func SetBackportActivities(ba *BackportActivities) {
	backportActivities = ba
}

// HandleEventActivity is the activity function for repository events
func HandleEventActivity(ctx context.Context, ev types.Event) (*EventResult, error) {
	if backportActivities == nil {
		return nil, errors.New("backport activities not initialized")
	}
	return backportActivities.HandleEventActivity(ctx, ev)
}
