package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/pkg/types"
)

const secret = "s3cret"

type recordingDispatcher struct {
	events []types.Event
	err    error
}

func (d *recordingDispatcher) StartEventWorkflow(_ context.Context, ev types.Event) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.events = append(d.events, ev)
	return "backport-wf", nil
}

func newRouter(t *testing.T, d EventDispatcher, inspect InspectFunc) http.Handler {
	t.Helper()
	h := NewHandler(d, inspect, secret, zaptest.NewLogger(t))
	router := chi.NewRouter()
	router.Route("/api/v1", h.RegisterRoutes)
	return router
}

func webhookRequest(t *testing.T, event, payload string, sign bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if sign {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	return req
}

func TestWebhookLabeled(t *testing.T) {
	d := &recordingDispatcher{}
	router := newRouter(t, d, nil)

	payload := `{"action":"labeled","label":{"name":"backport/2025.4"},
		"pull_request":{"number":100,"state":"open","body":"Fixes: SCYLLADB-1","merged":false,
			"base":{"ref":"master"},"labels":[{"name":"backport/2025.4"},{"name":"P1"}]},
		"repository":{"full_name":"scylladb/scylladb"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, "pull_request", payload, true))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp WebhookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, WebhookResponse{WorkflowID: "backport-wf", Status: "accepted"}, resp)

	require.Len(t, d.events, 1)
	assert.Equal(t, types.Event{
		Type:        types.EventLabeled,
		Repository:  "scylladb/scylladb",
		PullRequest: 100,
		BaseRef:     "master",
		Label:       "backport/2025.4",
		Body:        "Fixes: SCYLLADB-1",
		Labels:      []string{"backport/2025.4", "P1"},
		State:       "open",
	}, d.events[0])
}

func TestWebhookClosed(t *testing.T) {
	d := &recordingDispatcher{}
	router := newRouter(t, d, nil)

	payload := `{"action":"closed","pull_request":{"number":1001,"state":"closed","merged":true,"base":{"ref":"branch-2025.4"}},
		"repository":{"full_name":"scylladb/scylladb"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, "pull_request", payload, true))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, d.events, 1)
	assert.Equal(t, types.EventClosed, d.events[0].Type)
	assert.True(t, d.events[0].Merged)
	assert.Equal(t, 1001, d.events[0].PullRequest)
}

func TestWebhookPush(t *testing.T) {
	d := &recordingDispatcher{}
	router := newRouter(t, d, nil)

	payload := `{"ref":"refs/heads/master","before":"aaa","after":"bbb","repository":{"full_name":"scylladb/scylladb"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, "push", payload, true))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, d.events, 1)
	assert.Equal(t, types.Event{
		Type:        types.EventPush,
		Repository:  "scylladb/scylladb",
		BaseRef:     "master",
		CommitRange: "aaa..bbb",
	}, d.events[0])
}

func TestWebhookIgnored(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
	}{
		{"ping", "ping", `{"zen":"Keep it logically awesome."}`},
		{"opened", "pull_request", `{"action":"opened","pull_request":{"number":1},"repository":{"full_name":"scylladb/scylladb"}}`},
		{"other label", "pull_request", `{"action":"labeled","label":{"name":"bug"},"pull_request":{"number":1},"repository":{"full_name":"scylladb/scylladb"}}`},
		{"new branch", "push", `{"ref":"refs/heads/x","before":"0000000000000000000000000000000000000000","after":"bbb","repository":{"full_name":"scylladb/scylladb"}}`},
		{"issues", "issues", `{"action":"opened","issue":{"number":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			router := newRouter(t, d, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, webhookRequest(t, tt.event, tt.payload, true))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, d.events)
		})
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	d := &recordingDispatcher{}
	router := newRouter(t, d, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, "push", `{"ref":"refs/heads/master"}`, false))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, d.events)
}

func TestWebhookDispatchFailure(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("temporal unavailable")}
	router := newRouter(t, d, nil)

	payload := `{"ref":"refs/heads/master","before":"aaa","after":"bbb","repository":{"full_name":"scylladb/scylladb"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, webhookRequest(t, "push", payload, true))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetChain(t *testing.T) {
	inspect := func(_ context.Context, repository string, number int) (*backport.ChainReport, error) {
		assert.Equal(t, "scylladb/scylladb", repository)
		return &backport.ChainReport{
			PullRequest: number,
			Phase:       backport.PhaseChainActive.String(),
			Requested:   []string{"2025.3"},
			Pending:     []string{"2025.2"},
			Done:        []string{"2025.4"},
			Links:       map[string]int{"2025.3": 1002},
		}, nil
	}
	router := newRouter(t, &recordingDispatcher{}, inspect)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chains/scylladb/scylladb/100", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var report backport.ChainReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 100, report.PullRequest)
	assert.Equal(t, "chain_active", report.Phase)
	assert.Equal(t, map[string]int{"2025.3": 1002}, report.Links)
}

func TestGetChainErrors(t *testing.T) {
	inspect := func(context.Context, string, int) (*backport.ChainReport, error) {
		return nil, errors.New("github unavailable")
	}
	router := newRouter(t, &recordingDispatcher{}, inspect)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chains/scylladb/scylladb/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chains/scylladb/scylladb/100", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
