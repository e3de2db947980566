// Package app builds backport controllers from configuration
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/advisor"
	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/internal/config"
	"github.com/scylladb/github-automation/internal/github"
	"github.com/scylladb/github-automation/internal/jira"
	"github.com/scylladb/github-automation/pkg/types"
)

// ControllerFactory returns the controller for a repository
type ControllerFactory func(repository string) (*backport.Controller, error)

// Options adjust how controllers are built
type Options struct {
	// DeferSettle leaves the settle delay to the caller
	DeferSettle bool
}

// NewControllerFactory returns a factory sharing cfg. The Jira client and
// advisor are created once; GitHub clients are per repository.
func NewControllerFactory(cfg *config.Config, opts Options, logger *zap.Logger) (ControllerFactory, error) {
	var issues backport.IssueTracker
	if cfg.HasJira() {
		jiraClient, err := jira.NewClient(cfg.JiraBaseURL, cfg.JiraUsername, cfg.JiraToken, cfg.RetryPolicy(), logger)
		if err != nil {
			return nil, err
		}
		issues = jiraClient
	} else {
		logger.Warn("jira is not configured, sub-issues are disabled")
	}

	var hints backport.ConflictAdvisor
	if cfg.HasAdvisor() {
		hints = advisor.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, logger)
	}

	var releases backport.ReleaseSource
	if flagship, err := types.ParseRepository(cfg.Repo.FlagshipRepo); err == nil {
		releases = github.NewClient(cfg.GitHubToken, flagship, cfg.RetryPolicy(), logger)
	} else {
		logger.Warn("invalid flagship repository, milestones are disabled", zap.Error(err))
	}

	return func(repository string) (*backport.Controller, error) {
		repo, err := types.ParseRepository(repository)
		if err != nil {
			return nil, fmt.Errorf("failed to build controller: %w", err)
		}

		policy := cfg.BackportPolicy(repo.FullName())
		if opts.DeferSettle {
			policy.SettleDelay = 0
		}

		deps := backport.Deps{
			PullRequests: github.NewClient(cfg.GitHubToken, repo, cfg.RetryPolicy(), logger),
			Issues:       issues,
			Source:       github.NewGitClient(cfg.GitHubToken, repo, cfg.BotLogin, cfg.WorkspaceDir, logger),
			Advisor:      hints,
			Releases:     releases,
		}
		return backport.NewController(deps, policy, logger.With(zap.String("repository", repo.FullName()))), nil
	}, nil
}
