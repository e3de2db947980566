package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/pkg/types"
)

const zeroSHA = "0000000000000000000000000000000000000000"

// EventDispatcher hands repository events to the workers
type EventDispatcher interface {
	StartEventWorkflow(ctx context.Context, ev types.Event) (string, error)
}

// InspectFunc reports the chain of an origin pull request
type InspectFunc func(ctx context.Context, repository string, number int) (*backport.ChainReport, error)

// Handler handles REST API requests
type Handler struct {
	dispatcher    EventDispatcher
	inspect       InspectFunc
	webhookSecret []byte
	logger        *zap.Logger
}

// NewHandler creates a new REST handler. An empty secret disables webhook
// signature validation.
func NewHandler(dispatcher EventDispatcher, inspect InspectFunc, webhookSecret string, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher:    dispatcher,
		inspect:       inspect,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
}

// WebhookResponse is returned for every accepted webhook delivery
type WebhookResponse struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// HandleWebhook handles POST /webhooks/github
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		h.logger.Warn("rejected webhook", zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	hook, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev, reason := toEvent(hook)
	if ev == nil {
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", Reason: reason})
		return
	}

	workflowID, err := h.dispatcher.StartEventWorkflow(r.Context(), *ev)
	if err != nil {
		h.logger.Error("failed to dispatch event", zap.String("event_type", string(ev.Type)), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, WebhookResponse{WorkflowID: workflowID, Status: "accepted"})
}

// GetChain handles GET /chains/{owner}/{repo}/{number}
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		http.Error(w, "invalid pull request number", http.StatusBadRequest)
		return
	}
	repository := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")

	report, err := h.inspect(r.Context(), repository, number)
	if err != nil {
		h.logger.Error("failed to inspect chain",
			zap.String("repository", repository),
			zap.Int("pr_number", number),
			zap.Error(err),
		)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// RegisterRoutes registers REST API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/github", h.HandleWebhook)
	r.Get("/chains/{owner}/{repo}/{number}", h.GetChain)
}

// toEvent converts a webhook payload to an event, or returns why it is ignored
func toEvent(hook interface{}) (*types.Event, string) {
	switch e := hook.(type) {
	case *github.PingEvent:
		return nil, "ping"
	case *github.PushEvent:
		if e.GetDeleted() || e.GetBefore() == "" || e.GetBefore() == zeroSHA {
			return nil, "branch created or deleted"
		}
		return &types.Event{
			Type:        types.EventPush,
			Repository:  e.GetRepo().GetFullName(),
			BaseRef:     backport.ShortBranch(e.GetRef()),
			CommitRange: e.GetBefore() + ".." + e.GetAfter(),
		}, ""
	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		ev := &types.Event{
			Repository:  e.GetRepo().GetFullName(),
			PullRequest: pr.GetNumber(),
			BaseRef:     pr.GetBase().GetRef(),
			Body:        pr.GetBody(),
			State:       pr.GetState(),
			Merged:      pr.GetMerged(),
		}
		for _, l := range pr.Labels {
			ev.Labels = append(ev.Labels, l.GetName())
		}
		switch e.GetAction() {
		case "labeled":
			ev.Type = types.EventLabeled
			ev.Label = e.GetLabel().GetName()
			if !strings.HasPrefix(ev.Label, "backport/") {
				return nil, "label does not request a backport"
			}
		case "closed":
			ev.Type = types.EventClosed
		default:
			return nil, "pull request action " + e.GetAction()
		}
		return ev, ""
	}
	return nil, "unsupported event"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
