package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/scylladb/github-automation/internal/activities"
	"github.com/scylladb/github-automation/pkg/types"
)

const defaultIdleTimeout = 10 * time.Minute

// BackportEventWorkflow handles the events of one pull request, or one push,
// in arrival order. Events arrive on EventSignal; the workflow completes once
// idle.
func BackportEventWorkflow(ctx workflow.Context, input WorkflowInput) (*WorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("starting backport event workflow",
		"repository", input.Repository,
		"key", input.Key,
	)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{activities.ErrTypeInvalidEvent},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	idle := input.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	result := &WorkflowResult{}
	events := workflow.GetSignalChannel(ctx, EventSignal)
	for {
		var ev types.Event
		received := false

		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(events, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, &ev)
			received = true
		})
		selector.AddFuture(workflow.NewTimer(timerCtx, idle), func(workflow.Future) {})
		selector.Select(ctx)
		cancelTimer()

		if !received {
			// Drain events that raced the idle timer.
			if !events.ReceiveAsync(&ev) {
				break
			}
		}

		handleEvent(ctx, input, ev, result)
	}

	logger.Info("backport event workflow completed",
		"key", input.Key,
		"handled", result.Handled,
		"failed", result.Failed,
	)
	return result, nil
}

func handleEvent(ctx workflow.Context, input WorkflowInput, ev types.Event, result *WorkflowResult) {
	logger := workflow.GetLogger(ctx)

	if ev.Type == types.EventLabeled && input.SettleDelay > 0 {
		if err := workflow.Sleep(ctx, input.SettleDelay); err != nil {
			logger.Error("settle delay interrupted", "error", err)
		}
	}

	var eventResult activities.EventResult
	err := workflow.ExecuteActivity(ctx, activities.HandleEventActivity, ev).Get(ctx, &eventResult)
	if err != nil {
		// The next event re-derives the chain from labels; keep serving.
		logger.Error("failed to handle event",
			"event_type", string(ev.Type),
			"pr_number", ev.PullRequest,
			"error", err,
		)
		result.Failed++
		return
	}
	result.Handled++
}
