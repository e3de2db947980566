package backport

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scylladb/github-automation/pkg/types"
)

// SubIssueRequest asks for the backport sub-issue of one parent for one version
type SubIssueRequest struct {
	ParentKey         string
	Version           Version
	Title             string
	AssigneeAccountID string
}

// SubIssueResult is the key to reference from the backport pull request. When
// Failed is set Key is the parent key and Err holds the Jira error.
type SubIssueResult struct {
	Key     string
	Created bool
	Reused  bool
	Failed  bool
	Err     error
}

// SubIssueSynthesizer creates per-version Jira sub-issues for backports
type SubIssueSynthesizer struct {
	issues IssueTracker
	policy Policy
	logger *zap.Logger
}

// NewSubIssueSynthesizer creates a new synthesizer
func NewSubIssueSynthesizer(issues IssueTracker, policy Policy, logger *zap.Logger) *SubIssueSynthesizer {
	return &SubIssueSynthesizer{
		issues: issues,
		policy: policy,
		logger: logger,
	}
}

// ResolveAssignee returns the Jira account of author, or "" when none matches.
// Lookup errors are logged and treated as no match.
func (s *SubIssueSynthesizer) ResolveAssignee(ctx context.Context, author types.Identity) string {
	for _, email := range s.policy.AssigneeEmails(author.Login, author.Email) {
		accountID, err := s.issues.FindAccountID(ctx, email)
		if err != nil {
			s.logger.Warn("failed to look up jira user",
				zap.String("email", email),
				zap.Error(err),
			)
			continue
		}
		if accountID != "" {
			return accountID
		}
	}
	s.logger.Warn("no jira user found for github user, sub-issues will be unassigned",
		zap.String("login", author.Login),
	)
	return ""
}

// CreateSubIssue returns the sub-issue tracking the backport of req.ParentKey
// to req.Version, creating it when it does not exist yet. Jira failures never
// surface as errors: the parent is commented on and its key is returned.
func (s *SubIssueSynthesizer) CreateSubIssue(ctx context.Context, req SubIssueRequest) SubIssueResult {
	key, reused, err := s.createSubIssue(ctx, req)
	if err == nil {
		return SubIssueResult{Key: key, Created: !reused, Reused: reused}
	}

	s.logger.Error("failed to create jira sub-issue",
		zap.String("parent", req.ParentKey),
		zap.String("version", req.Version.String()),
		zap.Error(err),
	)
	s.reportFailure(ctx, req)
	return SubIssueResult{Key: req.ParentKey, Failed: true, Err: err}
}

func (s *SubIssueSynthesizer) createSubIssue(ctx context.Context, req SubIssueRequest) (string, bool, error) {
	parent, err := s.issues.GetIssue(ctx, req.ParentKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to get issue %s: %w", req.ParentKey, err)
	}

	// Jira allows two hierarchy levels, so sub-tasks of sub-tasks go to the grandparent
	actualParent := parent.Key
	description := fmt.Sprintf("Backporting of %s to version %s", req.ParentKey, req.Version)
	if parent.Subtask && parent.ParentKey != "" {
		actualParent = parent.ParentKey
		description = fmt.Sprintf("Backporting of %s (sub-task of %s) to version %s", req.ParentKey, actualParent, req.Version)
		s.logger.Info("parent issue is a sub-task, creating under its parent",
			zap.String("issue", req.ParentKey),
			zap.String("parent", actualParent),
		)
	}

	if existing := s.findExisting(ctx, actualParent, req.Version); existing != "" {
		if req.AssigneeAccountID != "" {
			if err := s.issues.AssignIssue(ctx, existing, req.AssigneeAccountID); err != nil {
				s.logger.Warn("failed to assign existing sub-issue",
					zap.String("issue", existing),
					zap.Error(err),
				)
			}
		}
		s.logger.Info("reusing existing jira sub-issue",
			zap.String("issue", existing),
			zap.String("version", req.Version.String()),
		)
		return existing, true, nil
	}

	key, err := s.issues.CreateSubTask(ctx, SubTaskRequest{
		ProjectKey:        ProjectKey(actualParent),
		ParentKey:         actualParent,
		Summary:           SubIssueTitle(req.Version, req.Title),
		Description:       description,
		AssigneeAccountID: req.AssigneeAccountID,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to create sub-task under %s: %w", actualParent, err)
	}

	s.logger.Info("created jira sub-issue",
		zap.String("issue", key),
		zap.String("parent", actualParent),
		zap.String("version", req.Version.String()),
	)
	return key, false, nil
}

func (s *SubIssueSynthesizer) findExisting(ctx context.Context, parentKey string, v Version) string {
	subTasks, err := s.issues.ListSubTasks(ctx, parentKey)
	if err != nil {
		s.logger.Warn("failed to search existing sub-issues",
			zap.String("parent", parentKey),
			zap.Error(err),
		)
		return ""
	}
	marker := "Backport " + v.String()
	for _, st := range subTasks {
		if strings.Contains(st.Summary, marker+"]") ||
			strings.Contains(st.Summary, marker+" ") ||
			strings.HasSuffix(st.Summary, marker) {
			return st.Key
		}
	}
	return ""
}

func (s *SubIssueSynthesizer) reportFailure(ctx context.Context, req SubIssueRequest) {
	comment := fmt.Sprintf("Failed to create backport sub-issue for version %s.", req.Version)
	if s.policy.RunURL != "" {
		comment += fmt.Sprintf(" [View workflow run|%s]", s.policy.RunURL)
	}
	if err := s.issues.AddComment(ctx, req.ParentKey, comment); err != nil {
		s.logger.Error("failed to comment on jira issue",
			zap.String("issue", req.ParentKey),
			zap.Error(err),
		)
	}
}

// SubIssueTitle returns the summary of the sub-issue for v
func SubIssueTitle(v Version, title string) string {
	return fmt.Sprintf("[Backport %s] - %s", v, StripBackportPrefix(title))
}

// ProjectKey returns the project part of an issue key
func ProjectKey(issueKey string) string {
	if i := strings.Index(issueKey, "-"); i > 0 {
		return issueKey[:i]
	}
	return issueKey
}
