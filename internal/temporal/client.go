package temporal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/temporal/workflows"
	"github.com/scylladb/github-automation/pkg/types"
)

// Client wraps Temporal client functionality
type Client struct {
	temporalClient client.Client
	logger         *zap.Logger
	taskQueue      string
	settleDelay    time.Duration
}

// NewClient creates a new Temporal client. Labeled events are held for
// settleDelay by the workflow before they are handled.
func NewClient(address, namespace, taskQueue string, settleDelay time.Duration, logger *zap.Logger) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	return &Client{
		temporalClient: c,
		logger:         logger,
		taskQueue:      taskQueue,
		settleDelay:    settleDelay,
	}, nil
}

// EventKey returns the key events of the same pull request, or push, are
// serialized under
func EventKey(ev types.Event) string {
	if ev.Type == types.EventPush {
		return fmt.Sprintf("push-%s-%s", strings.TrimPrefix(ev.BaseRef, "refs/heads/"), ev.CommitRange)
	}
	return fmt.Sprintf("pr-%d", ev.PullRequest)
}

// WorkflowID returns the ID of the workflow handling ev
func WorkflowID(ev types.Event) string {
	return fmt.Sprintf("backport-%s-%s", strings.ReplaceAll(ev.Repository, "/", "-"), EventKey(ev))
}

// StartEventWorkflow delivers ev to the workflow of its pull request or push,
// starting the workflow when none is running
func (c *Client) StartEventWorkflow(ctx context.Context, ev types.Event) (string, error) {
	workflowID := WorkflowID(ev)

	workflowOptions := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}

	workflowInput := workflows.WorkflowInput{
		Repository:  ev.Repository,
		Key:         EventKey(ev),
		SettleDelay: c.settleDelay,
	}

	we, err := c.temporalClient.SignalWithStartWorkflow(ctx, workflowID, workflows.EventSignal, ev,
		workflowOptions, workflows.BackportEventWorkflow, workflowInput)
	if err != nil {
		return "", fmt.Errorf("failed to start workflow: %w", err)
	}

	c.logger.Info("dispatched event",
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
		zap.String("event_type", string(ev.Type)),
		zap.Int("pr_number", ev.PullRequest),
	)

	return we.GetID(), nil
}

// CheckHealth reports whether the Temporal frontend is reachable
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
	if err != nil {
		return fmt.Errorf("failed to check temporal health: %w", err)
	}
	return nil
}

// Close closes the Temporal client
func (c *Client) Close() {
	c.temporalClient.Close()
}
