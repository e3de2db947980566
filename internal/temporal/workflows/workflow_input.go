package workflows

import (
	"time"
)

// EventSignal is the signal repository events are delivered on
const EventSignal = "backport-event"

// WorkflowInput is the input for the backport event workflow
type WorkflowInput struct {
	Repository string
	// Key identifies the serialized event stream, a pull request or a push
	Key string
	// SettleDelay batches label bursts before a labeled event is handled
	SettleDelay time.Duration
	// IdleTimeout ends the workflow once no event arrived for this long
	IdleTimeout time.Duration
}

// WorkflowResult summarizes the events a workflow run handled
type WorkflowResult struct {
	Handled int
	Failed  int
}
