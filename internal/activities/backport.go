package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/scylladb/github-automation/internal/app"
	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/pkg/types"
)

// BackportActivities runs the backport controller inside Temporal activities
type BackportActivities struct {
	controllers app.ControllerFactory
}

// NewBackportActivities creates a new backport activities handler
func NewBackportActivities(controllers app.ControllerFactory) *BackportActivities {
	return &BackportActivities{controllers: controllers}
}

// HandleEventActivity handles one repository event. Invalid events fail
// without retries.
func (a *BackportActivities) HandleEventActivity(ctx context.Context, ev types.Event) (*EventResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("handling backport event",
		"event_type", string(ev.Type),
		"repository", ev.Repository,
		"pr_number", ev.PullRequest,
		"attempt", activity.GetInfo(ctx).Attempt,
	)

	if err := backport.ValidateEvent(ev); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidEvent, err)
	}

	controller, err := a.controllers(ev.Repository)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidEvent, err)
	}

	outcomes, err := controller.HandleEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, backport.ErrInvalidEvent) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidEvent, err)
		}
		return nil, fmt.Errorf("failed to handle %s event: %w", ev.Type, err)
	}

	result := &EventResult{Repository: ev.Repository, EventType: string(ev.Type)}
	for _, o := range outcomes {
		result.Outcomes = append(result.Outcomes, toOutcomeResult(o))
		logger.Info("backport outcome",
			"pr_number", o.PullRequest,
			"phase", o.Phase.String(),
			"links", len(o.Links),
			"note", o.Note,
		)
	}
	return result, nil
}
