package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/internal/retry"
)

const subTaskType = "Sub-task"

// Client wraps Jira API client functionality
type Client struct {
	client *jira.Client
	logger *zap.Logger
	retry  retry.Policy
}

// NewClient creates a new Jira client
func NewClient(baseURL, username, apiToken string, policy retry.Policy, logger *zap.Logger) (*Client, error) {
	tp := jira.BasicAuthTransport{
		Username: username,
		Password: apiToken,
	}

	client, err := jira.NewClient(tp.Client(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}

	return &Client{
		client: client,
		logger: logger,
		retry:  policy,
	}, nil
}

var _ backport.IssueTracker = (*Client)(nil)

func (c *Client) do(ctx context.Context, op func() (*jira.Response, error)) error {
	return retry.Do(ctx, c.retry, func() error {
		resp, err := op()
		return classify(resp, err)
	})
}

// classify treats client errors other than 429 as permanent
func classify(resp *jira.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp == nil || resp.Response == nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return retry.Permanent(err)
	}
	return err
}

// GetIssue retrieves an issue by key
func (c *Client) GetIssue(ctx context.Context, key string) (*backport.Issue, error) {
	var issue *jira.Issue
	err := c.do(ctx, func() (*jira.Response, error) {
		var resp *jira.Response
		var err error
		issue, resp, err = c.client.Issue.GetWithContext(ctx, key, nil)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", key, err)
	}
	out := toIssue(*issue)
	return &out, nil
}

// ListSubTasks returns the sub-tasks of parentKey
func (c *Client) ListSubTasks(ctx context.Context, parentKey string) ([]backport.Issue, error) {
	jql := fmt.Sprintf("parent = %s AND issuetype = %q", parentKey, subTaskType)

	var issues []jira.Issue
	err := c.do(ctx, func() (*jira.Response, error) {
		var resp *jira.Response
		var err error
		issues, resp, err = c.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{MaxResults: 100})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	out := make([]backport.Issue, 0, len(issues))
	for _, issue := range issues {
		out = append(out, toIssue(issue))
	}
	return out, nil
}

// CreateSubTask creates a sub-task and returns its key
func (c *Client) CreateSubTask(ctx context.Context, req backport.SubTaskRequest) (string, error) {
	fields := &jira.IssueFields{
		Project:     jira.Project{Key: req.ProjectKey},
		Parent:      &jira.Parent{Key: req.ParentKey},
		Type:        jira.IssueType{Name: subTaskType},
		Summary:     req.Summary,
		Description: req.Description,
	}
	if req.AssigneeAccountID != "" {
		fields.Assignee = &jira.User{AccountID: req.AssigneeAccountID}
	}

	var created *jira.Issue
	err := c.do(ctx, func() (*jira.Response, error) {
		var resp *jira.Response
		var err error
		created, resp, err = c.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create sub-task of %s: %w", req.ParentKey, err)
	}

	c.logger.Info("created jira sub-task",
		zap.String("key", created.Key),
		zap.String("parent", req.ParentKey),
	)
	return created.Key, nil
}

// AssignIssue assigns an issue to an account
func (c *Client) AssignIssue(ctx context.Context, key, accountID string) error {
	err := c.do(ctx, func() (*jira.Response, error) {
		return c.client.Issue.UpdateAssigneeWithContext(ctx, key, &jira.User{AccountID: accountID})
	})
	if err != nil {
		return fmt.Errorf("failed to assign issue %s: %w", key, err)
	}
	return nil
}

// FindAccountID returns the account ID registered with email, empty when
// no account shows that email
func (c *Client) FindAccountID(ctx context.Context, email string) (string, error) {
	var users []jira.User
	err := c.do(ctx, func() (*jira.Response, error) {
		var resp *jira.Response
		var err error
		// go-jira does not encode the query
		users, resp, err = c.client.User.FindWithContext(ctx, url.QueryEscape(email))
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	for _, u := range users {
		if u.AccountID != "" && strings.EqualFold(u.EmailAddress, email) {
			return u.AccountID, nil
		}
	}
	if len(users) > 0 {
		c.logger.Info("no jira account shows the searched email",
			zap.String("email", email),
			zap.Int("candidates", len(users)),
		)
	}
	return "", nil
}

// AddComment adds a comment to an issue
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	err := c.do(ctx, func() (*jira.Response, error) {
		_, resp, err := c.client.Issue.AddCommentWithContext(ctx, key, &jira.Comment{
			Body: body,
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// TransitionIssue moves an issue to status. Issues already in status are
// left alone.
func (c *Client) TransitionIssue(ctx context.Context, key, status string) error {
	var transitions []jira.Transition
	err := c.do(ctx, func() (*jira.Response, error) {
		var resp *jira.Response
		var err error
		transitions, resp, err = c.client.Issue.GetTransitionsWithContext(ctx, key)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to get transitions: %w", err)
	}

	var transitionID string
	for _, transition := range transitions {
		if strings.EqualFold(transition.To.Name, status) || strings.EqualFold(transition.Name, status) {
			transitionID = transition.ID
			break
		}
	}

	if transitionID == "" {
		c.logger.Warn("no transition to status",
			zap.String("key", key),
			zap.String("status", status),
		)
		return nil
	}

	err = c.do(ctx, func() (*jira.Response, error) {
		return c.client.Issue.DoTransitionWithContext(ctx, key, transitionID)
	})
	if err != nil {
		return fmt.Errorf("failed to transition issue: %w", err)
	}

	c.logger.Info("transitioned jira issue",
		zap.String("key", key),
		zap.String("status", status),
	)
	return nil
}

func toIssue(issue jira.Issue) backport.Issue {
	out := backport.Issue{Key: issue.Key}
	if issue.Fields == nil {
		return out
	}
	out.Summary = issue.Fields.Summary
	out.Subtask = issue.Fields.Type.Subtask
	if issue.Fields.Parent != nil {
		out.ParentKey = issue.Fields.Parent.Key
	}
	return out
}
