package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/app"
	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/internal/config"
	"github.com/scylladb/github-automation/pkg/types"
)

// ErrUsage is returned for command lines that do not describe an event
var ErrUsage = errors.New("usage")

type options struct {
	repo             string
	baseBranch       string
	commits          string
	pullRequest      int
	headCommit       string
	label            string
	chainBackport    bool
	mergedPR         int
	promotedToBranch string
	event            string
}

func parseArgs(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("backport", flag.ContinueOnError)
	fs.SetOutput(output)

	o := &options{}
	fs.StringVar(&o.repo, "repo", "", "GitHub repository owner/name")
	fs.StringVar(&o.baseBranch, "base-branch", "refs/heads/next", "Base branch")
	fs.StringVar(&o.commits, "commits", "", "Range of promoted commits, base..head")
	fs.IntVar(&o.pullRequest, "pull-request", 0, "Pull request number to be backported")
	fs.StringVar(&o.headCommit, "head-commit", "", "HEAD of the target branch after --pull-request was merged")
	fs.StringVar(&o.label, "label", "", "Backport label added to --pull-request")
	fs.BoolVar(&o.chainBackport, "chain-backport", false, "Advance the chain of --merged-pr")
	fs.IntVar(&o.mergedPR, "merged-pr", 0, "Merged backport pull request number")
	fs.StringVar(&o.promotedToBranch, "promoted-to-branch", "", "Version branch a push landed on, with --commits")
	fs.StringVar(&o.event, "event", "", "Event type: push, labeled or closed. Inferred when empty")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}
	if o.repo == "" {
		o.repo = os.Getenv("GITHUB_REPOSITORY")
	}
	if _, err := types.ParseRepository(o.repo); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return o, nil
}

func (o *options) toEvent() (types.Event, error) {
	kind := types.EventType(o.event)
	if o.chainBackport {
		if kind != "" && kind != types.EventClosed {
			return types.Event{}, fmt.Errorf("%w: --chain-backport describes a closed event", ErrUsage)
		}
		if o.mergedPR <= 0 {
			return types.Event{}, fmt.Errorf("%w: --chain-backport needs --merged-pr", ErrUsage)
		}
		kind = types.EventClosed
	}
	if kind == "" {
		switch {
		case o.promotedToBranch != "" && o.commits != "":
			kind = types.EventPush
		case o.mergedPR > 0:
			kind = types.EventClosed
		case o.pullRequest > 0 && o.label != "":
			kind = types.EventLabeled
		case o.commits != "":
			kind = types.EventPush
		default:
			return types.Event{}, fmt.Errorf("%w: no event described, pass --commits, --pull-request with --label, or --merged-pr", ErrUsage)
		}
	}

	ev := types.Event{Type: kind, Repository: o.repo}
	switch kind {
	case types.EventPush:
		ev.BaseRef = backport.ShortBranch(o.baseBranch)
		if o.promotedToBranch != "" {
			ev.BaseRef = o.promotedToBranch
		}
		ev.CommitRange = o.commits
	case types.EventLabeled:
		ev.PullRequest = o.pullRequest
		ev.Label = o.label
		ev.HeadCommit = o.headCommit
	case types.EventClosed:
		ev.PullRequest = o.mergedPR
		if ev.PullRequest == 0 {
			ev.PullRequest = o.pullRequest
			ev.HeadCommit = o.headCommit
		}
	}

	if err := backport.ValidateEvent(ev); err != nil {
		return types.Event{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return ev, nil
}

func main() {
	o, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ev, err := o.toEvent()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	if err := run(logger, ev); err != nil {
		logger.Error("backport failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger, ev types.Event) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.GitHubToken == "" {
		return errors.New("GITHUB_TOKEN is not set")
	}
	cfg.Repository = ev.Repository

	controllers, err := app.NewControllerFactory(cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	controller, err := controllers(ev.Repository)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes, err := controller.HandleEvent(ctx, ev)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		logger.Info("backport outcome",
			zap.Int("pr_number", o.PullRequest),
			zap.String("phase", o.Phase.String()),
			zap.Int("links", len(o.Links)),
			zap.Strings("added", o.Added),
			zap.Strings("removed", o.Removed),
			zap.String("note", o.Note),
		)
	}
	return nil
}
