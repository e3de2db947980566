package github

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/pkg/types"
)

const forkRemote = "fork"

// GitClient replays commits in a scratch clone and pushes the result to the
// bot's fork
type GitClient struct {
	accessToken  string
	repo         types.RepositoryInfo
	botLogin     string
	workspaceDir string
	host         string
	logger       *zap.Logger
}

// NewGitClient creates a new git client. Clones are created under
// workspaceDir and removed once pushed.
func NewGitClient(accessToken string, repo types.RepositoryInfo, botLogin, workspaceDir string, logger *zap.Logger) *GitClient {
	return &GitClient{
		accessToken:  accessToken,
		repo:         repo,
		botLogin:     botLogin,
		workspaceDir: workspaceDir,
		host:         "https://github.com",
		logger:       logger,
	}
}

var _ backport.SourceControl = (*GitClient)(nil)

func (g *GitClient) auth() *githttp.BasicAuth {
	user := g.botLogin
	if user == "" {
		user = "x-access-token"
	}
	return &githttp.BasicAuth{Username: user, Password: g.accessToken}
}

func (g *GitClient) identity() (string, string) {
	name := g.botLogin
	if name == "" {
		name = "backport-bot"
	}
	return name, name + "@users.noreply.github.com"
}

// CherryPick clones the repository at the target branch, cherry-picks the
// commits onto a new branch and force-pushes it to the fork. Conflicted hunks
// are committed with their markers.
func (g *GitClient) CherryPick(ctx context.Context, req backport.CherryPickRequest) (*backport.CherryPickResult, error) {
	if err := os.MkdirAll(g.workspaceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	repoPath, err := os.MkdirTemp(g.workspaceDir, g.repo.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	defer os.RemoveAll(repoPath)

	r, err := git.PlainCloneContext(ctx, repoPath, false, &git.CloneOptions{
		URL:           fmt.Sprintf("%s/%s.git", g.host, g.repo.FullName()),
		Auth:          g.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(req.TargetBranch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	if req.SourceBranch != "" && req.SourceBranch != req.TargetBranch {
		err = r.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			Auth:       g.auth(),
			RefSpecs: []config.RefSpec{
				config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", req.SourceBranch, req.SourceBranch)),
			},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("failed to fetch %s: %w", req.SourceBranch, err)
		}
	}

	w, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	err = w.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(req.NewBranch),
		Create: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}

	result := &backport.CherryPickResult{}
	name, email := g.identity()
	for _, sha := range req.Commits {
		commit, err := r.CommitObject(plumbing.NewHash(sha))
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", sha, err)
		}

		_, pickErr := runGit(ctx, repoPath, cherryPickArgs(name, email, sha, commit.NumParents() > 1)...)
		if pickErr == nil {
			continue
		}

		out, err := runGit(ctx, repoPath, "diff", "--name-only", "--diff-filter=U")
		if err != nil {
			return nil, err
		}
		files := parseFileList(out)
		if len(files) == 0 {
			return nil, fmt.Errorf("failed to cherry-pick %s: %w", sha, pickErr)
		}

		g.logger.Warn("cherry-pick conflicted",
			zap.String("commit", sha),
			zap.String("branch", req.NewBranch),
			zap.Strings("files", files),
		)
		result.Conflicted = true
		result.ConflictedFiles = appendUnique(result.ConflictedFiles, files...)

		if _, err := runGit(ctx, repoPath, "add", "-A"); err != nil {
			return nil, err
		}
		if _, err := runGit(ctx, repoPath, "-c", "user.name="+name, "-c", "user.email="+email,
			"-c", "core.editor=true", "cherry-pick", "--continue"); err != nil {
			return nil, err
		}
	}

	head, err := r.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve head: %w", err)
	}
	result.Head = head.Hash().String()

	if err := g.push(ctx, r, req.NewBranch); err != nil {
		return nil, err
	}

	g.logger.Info("pushed backport branch",
		zap.String("branch", req.NewBranch),
		zap.String("target", req.TargetBranch),
		zap.Int("commits", len(req.Commits)),
		zap.Bool("conflicted", result.Conflicted),
	)
	return result, nil
}

func (g *GitClient) push(ctx context.Context, r *git.Repository, branch string) error {
	remote, err := r.CreateRemote(&config.RemoteConfig{
		Name: forkRemote,
		URLs: []string{g.pushURL()},
	})
	if err != nil {
		return fmt.Errorf("failed to add remote: %w", err)
	}

	err = remote.PushContext(ctx, &git.PushOptions{
		RemoteName: forkRemote,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/heads/%s", branch, branch))},
		Auth:       g.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push branch: %w", err)
	}
	return nil
}

// pushURL is the bot's fork, or the repository itself when no bot is set
func (g *GitClient) pushURL() string {
	if g.botLogin == "" {
		return fmt.Sprintf("%s/%s.git", g.host, g.repo.FullName())
	}
	return fmt.Sprintf("%s/%s/%s.git", g.host, g.botLogin, g.repo.Name)
}

func cherryPickArgs(name, email, sha string, merge bool) []string {
	args := []string{"-c", "user.name=" + name, "-c", "user.email=" + email, "cherry-pick", "-x"}
	if merge {
		args = append(args, "-m", "1")
	}
	return append(args, sha)
}

func parseFileList(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, d := range dst {
			if d == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[len(args)-1], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
