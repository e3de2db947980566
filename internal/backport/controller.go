package backport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scylladb/github-automation/pkg/types"
)

// ErrInvalidEvent is returned for events missing the fields their type needs
var ErrInvalidEvent = errors.New("invalid event")

const maxOriginDepth = 10

// Deps are the collaborators of a Controller. Issues, Advisor and Releases
// may be nil.
type Deps struct {
	PullRequests PullRequestStore
	Issues       IssueTracker
	Source       SourceControl
	Advisor      ConflictAdvisor
	Releases     ReleaseSource
}

// Outcome describes what handling an event did to one origin pull request
type Outcome struct {
	PullRequest int
	Phase       Phase
	Links       []*types.BackportLink
	Added       []string
	Removed     []string
	Note        string
}

// Controller drives backport chains. It keeps no state between events: every
// handler derives the chain state from the origin pull request labels and
// writes its label changes once, at the end.
type Controller struct {
	prs          PullRequestStore
	issues       IssueTracker
	subIssues    *SubIssueSynthesizer
	materializer *Materializer
	milestones   *Milestones
	policy       Policy
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewController creates a new chain controller
func NewController(deps Deps, policy Policy, logger *zap.Logger) *Controller {
	milestones := NewMilestones(deps.PullRequests, deps.Releases, policy, logger)
	c := &Controller{
		prs:          deps.PullRequests,
		issues:       deps.Issues,
		materializer: NewMaterializer(deps.PullRequests, deps.Source, deps.Advisor, milestones, policy, logger),
		milestones:   milestones,
		policy:       policy,
		logger:       logger,
		sleep:        sleepContext,
	}
	if deps.Issues != nil {
		c.subIssues = NewSubIssueSynthesizer(deps.Issues, policy, logger)
	}
	return c
}

// HandleEvent processes one repository event
func (c *Controller) HandleEvent(ctx context.Context, ev types.Event) ([]Outcome, error) {
	if err := ValidateEvent(ev); err != nil {
		return nil, err
	}

	c.logger.Info("handling event",
		zap.String("event_type", string(ev.Type)),
		zap.Int("pr_number", ev.PullRequest),
		zap.String("base_ref", ev.BaseRef),
		zap.String("commit_range", ev.CommitRange),
		zap.String("label", ev.Label),
	)

	switch ev.Type {
	case types.EventPush:
		return c.handlePush(ctx, ev)
	case types.EventLabeled:
		out, err := c.handleLabeled(ctx, ev)
		if err != nil || out == nil {
			return nil, err
		}
		return []Outcome{*out}, nil
	case types.EventClosed:
		out, err := c.handleClosed(ctx, ev)
		if err != nil || out == nil {
			return nil, err
		}
		return []Outcome{*out}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
}

// ValidateEvent checks an event carries what its type requires
func ValidateEvent(ev types.Event) error {
	switch ev.Type {
	case types.EventPush:
		if ev.BaseRef == "" || ev.CommitRange == "" {
			return fmt.Errorf("%w: push needs a base ref and a commit range", ErrInvalidEvent)
		}
		if !strings.Contains(ev.CommitRange, "..") {
			return fmt.Errorf("%w: commit range %q is not base..head", ErrInvalidEvent, ev.CommitRange)
		}
	case types.EventLabeled, types.EventClosed:
		if ev.PullRequest <= 0 {
			return fmt.Errorf("%w: %s needs a pull request number", ErrInvalidEvent, ev.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	return nil
}

// ShortBranch turns refs/heads/<branch> into <branch>
func ShortBranch(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func (c *Controller) handlePush(ctx context.Context, ev types.Event) ([]Outcome, error) {
	branch := ShortBranch(ev.BaseRef)
	if IsGatingBranch(branch) {
		c.logger.Info("skipping push to gating branch", zap.String("branch", branch))
		return nil, nil
	}

	prs, err := c.prs.PullRequestsForCommits(ctx, ev.CommitRange)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests for %s: %w", ev.CommitRange, err)
	}

	var outcomes []Outcome
	if c.policy.IsMaster(branch) {
		for _, pr := range prs {
			if IsBackportPullRequest(pr.Title, pr.Body) {
				continue
			}
			c.milestones.SetMaster(ctx, pr)
			diff := NewLabelDiff()
			diff.Add(LabelPromotedToMaster)
			out, err := c.promote(ctx, pr, diff, "")
			if err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, *out)
		}
		return outcomes, nil
	}

	v, ok := VersionForBranch(branch)
	if !ok {
		c.logger.Info("push to branch without a version, skipping", zap.String("branch", branch))
		return nil, nil
	}
	for _, pr := range prs {
		if !IsBackportPullRequest(pr.Title, pr.Body) {
			c.logger.Info("not a backport pull request, skipping", zap.Int("pr_number", pr.Number))
			continue
		}
		out, err := c.linkPromoted(ctx, pr, v, branch)
		if err != nil {
			return outcomes, err
		}
		if out != nil {
			outcomes = append(outcomes, *out)
		}
	}
	return outcomes, nil
}

func (c *Controller) handleLabeled(ctx context.Context, ev types.Event) (*Outcome, error) {
	if ev.Label != "" && !isRequestedCandidate(ev.Label) {
		c.logger.Info("label does not request a backport, skipping", zap.String("label", ev.Label))
		return nil, nil
	}

	if c.policy.SettleDelay > 0 {
		if err := c.sleep(ctx, c.policy.SettleDelay); err != nil {
			return nil, err
		}
	}

	pr, err := c.prs.GetPullRequest(ctx, ev.PullRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request #%d: %w", ev.PullRequest, err)
	}
	if IsBackportPullRequest(pr.Title, pr.Body) {
		c.logger.Info("labeled pull request is a backport, skipping", zap.Int("pr_number", pr.Number))
		return nil, nil
	}
	if ev.Label != "" && !pr.HasLabel(ev.Label) {
		return c.noop(pr, "label no longer present"), nil
	}
	if !pr.HasLabel(LabelPromotedToMaster) {
		return c.noop(pr, "not promoted yet"), nil
	}
	return c.promote(ctx, pr, NewLabelDiff(), ev.HeadCommit)
}

func (c *Controller) handleClosed(ctx context.Context, ev types.Event) (*Outcome, error) {
	pr, err := c.prs.GetPullRequest(ctx, ev.PullRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request #%d: %w", ev.PullRequest, err)
	}
	if !pr.Merged {
		c.logger.Warn("pull request closed without merging", zap.Int("pr_number", pr.Number))
		return c.noop(pr, "closed without merge"), nil
	}

	if !IsBackportPullRequest(pr.Title, pr.Body) {
		if !pr.HasLabel(LabelPromotedToMaster) {
			return c.noop(pr, "not promoted yet"), nil
		}
		return c.promote(ctx, pr, NewLabelDiff(), ev.HeadCommit)
	}

	if IsGatingBranch(pr.BaseBranch) {
		return c.noop(pr, "merged into gating branch"), nil
	}
	v, ok := TitleVersion(pr.Title)
	if !ok {
		if v, ok = VersionForBranch(pr.BaseBranch); !ok {
			return c.noop(pr, "no version for backport"), nil
		}
	}
	return c.linkPromoted(ctx, pr, v, pr.BaseBranch)
}

// linkPromoted handles a backport pull request that landed on its stable branch
func (c *Controller) linkPromoted(ctx context.Context, link *types.PullRequest, v Version, branch string) (*Outcome, error) {
	promoted := PromotedLabel(branch)
	if !link.HasLabel(promoted) {
		if err := c.prs.AddLabels(ctx, link.Number, []string{promoted}); err != nil {
			c.logger.Warn("failed to add promoted label",
				zap.Int("pr_number", link.Number),
				zap.String("label", promoted),
				zap.Error(err),
			)
		}
	}

	origin, err := c.rootOrigin(ctx, link)
	if err != nil {
		return nil, err
	}
	if origin.Number == link.Number {
		c.logger.Warn("could not find origin of backport pull request", zap.Int("pr_number", link.Number))
		return nil, nil
	}
	return c.advance(ctx, origin, v, link, branch)
}

// chainRun caches per-origin lookups for the duration of one handler
type chainRun struct {
	origin   *types.PullRequest
	keys     []string
	warn     bool
	assignee *string
	links    map[Version]*types.PullRequest

	// scanned for the origin's commits instead of its stable branch
	headCommit string
}

func (c *Controller) newRun(origin *types.PullRequest) *chainRun {
	return &chainRun{
		origin: origin,
		keys:   ReferenceKeys(ExtractReferences(origin.Body)),
		warn:   c.policy.IsFlagship() && !HasFixesReference(origin.Body),
		links:  make(map[Version]*types.PullRequest),
	}
}

func (c *Controller) inFlight(ctx context.Context, run *chainRun, versions []Version) error {
	for _, v := range versions {
		if _, ok := run.links[v]; ok {
			continue
		}
		pr, err := c.materializer.Existing(ctx, run.origin.Number, v)
		if err != nil {
			return err
		}
		if pr != nil {
			run.links[v] = pr
		}
	}
	return nil
}

func (r *chainRun) isInFlight(v Version) bool {
	return r.links[v] != nil
}

// promote starts or extends the backports of an origin pull request promoted
// to master. headCommit may be empty.
func (c *Controller) promote(ctx context.Context, origin *types.PullRequest, diff *LabelDiff, headCommit string) (*Outcome, error) {
	state := ParseChainState(diff.Apply(origin.Labels))
	c.logMalformed(origin.Number, state)
	diff.Merge(state.Cleanup())

	run := c.newRun(origin)
	run.headCommit = headCommit
	if err := c.inFlight(ctx, run, state.Requested); err != nil {
		return nil, err
	}

	phase := state.Phase(run.isInFlight)
	c.logger.Info("evaluating chain",
		zap.Int("pr_number", origin.Number),
		zap.String("phase", phase.String()),
		zap.Bool("parallel", state.Parallel),
	)

	var links []*types.BackportLink
	note := ""
	switch {
	case len(state.Requested) == 0 && len(state.Pending) == 0:
		note = "no backport requested"
	case state.Parallel:
		created, err := c.promoteParallel(ctx, run, state, diff)
		links = created
		if err != nil {
			return nil, err
		}
	default:
		created, err := c.promoteChained(ctx, run, state, diff)
		links = created
		if err != nil {
			return nil, err
		}
	}

	return c.finish(ctx, origin, diff, run, links, note)
}

func (c *Controller) promoteParallel(ctx context.Context, run *chainRun, state ChainState, diff *LabelDiff) ([]*types.BackportLink, error) {
	var commits []string
	var links []*types.BackportLink
	for _, v := range state.Requested {
		if run.isInFlight(v) {
			continue
		}
		if commits == nil {
			var err error
			if commits, err = c.originCommits(ctx, run); err != nil {
				return nil, err
			}
		}
		target := c.policy.BranchFor(v)
		if c.materializer.AlreadyPresent(ctx, commits, target) {
			diff.Replace(v.Label(), v.DoneLabel())
			continue
		}
		link, err := c.createLink(ctx, run, v, c.policy.StableBranch(run.origin.BaseBranch), commits)
		if err != nil {
			return links, err
		}
		run.links[v] = link.PullRequest
		links = append(links, link)
	}
	return links, nil
}

func (c *Controller) promoteChained(ctx context.Context, run *chainRun, state ChainState, diff *LabelDiff) ([]*types.BackportLink, error) {
	var active []Version
	for _, v := range state.Requested {
		if run.isInFlight(v) {
			active = append(active, v)
		}
	}

	var links []*types.BackportLink
	var head *Version
	if len(active) == 0 {
		candidates := append(append([]Version(nil), state.Requested...), state.Pending...)
		sortDescending(candidates)

		var commits []string
		for _, v := range candidates {
			if commits == nil {
				var err error
				if commits, err = c.originCommits(ctx, run); err != nil {
					return nil, err
				}
			}
			if c.materializer.AlreadyPresent(ctx, commits, c.policy.BranchFor(v)) {
				diff.Remove(v.Label())
				diff.Replace(v.PendingLabel(), v.DoneLabel())
				continue
			}
			link, err := c.createLink(ctx, run, v, c.policy.StableBranch(run.origin.BaseBranch), commits)
			if err != nil {
				return nil, err
			}
			run.links[v] = link.PullRequest
			links = append(links, link)
			diff.Replace(v.PendingLabel(), v.Label())
			head = &v
			break
		}
	}

	for _, v := range state.Requested {
		if run.isInFlight(v) || (head != nil && *head == v) {
			continue
		}
		if diff.removes(v.Label()) {
			continue
		}
		diff.Replace(v.Label(), v.PendingLabel())
	}
	return links, nil
}

// advance marks v done on origin and starts the next link of the chain from
// the branch the finished link was promoted to.
func (c *Controller) advance(ctx context.Context, origin *types.PullRequest, v Version, link *types.PullRequest, branch string) (*Outcome, error) {
	state := ParseChainState(origin.Labels)
	c.logMalformed(origin.Number, state)
	diff := state.Cleanup()
	run := c.newRun(origin)

	if state.IsDone(v) {
		return c.finish(ctx, origin, diff, run, nil, "already done")
	}
	if !state.Has(v) {
		c.logger.Warn("promoted version is not tracked on origin",
			zap.Int("pr_number", origin.Number),
			zap.String("version", v.String()),
		)
		return c.finish(ctx, origin, diff, run, nil, "version not tracked")
	}

	diff.Remove(v.Label())
	diff.Replace(v.PendingLabel(), v.DoneLabel())
	c.transitionSubIssues(ctx, link)

	if state.Parallel {
		return c.finish(ctx, origin, diff, run, nil, "")
	}

	var others []Version
	for _, r := range state.Requested {
		if r != v {
			others = append(others, r)
		}
	}
	if err := c.inFlight(ctx, run, others); err != nil {
		return nil, err
	}
	for _, r := range others {
		if run.isInFlight(r) {
			return c.finish(ctx, origin, diff, run, nil, "another link in flight")
		}
	}

	candidates := append(append([]Version(nil), others...), state.Pending...)
	candidates = withoutVersion(candidates, v)
	sortDescending(candidates)
	if len(candidates) == 0 {
		return c.finish(ctx, origin, diff, run, nil, "")
	}

	commits, err := c.prs.PromotedCommits(ctx, link, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to get commits of #%d on %s: %w", link.Number, branch, err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("failed to get commits of #%d on %s: none found", link.Number, branch)
	}

	var links []*types.BackportLink
	for _, next := range candidates {
		if c.materializer.AlreadyPresent(ctx, commits, c.policy.BranchFor(next)) {
			diff.Remove(next.Label())
			diff.Replace(next.PendingLabel(), next.DoneLabel())
			continue
		}
		created, err := c.createLink(ctx, run, next, branch, commits)
		if err != nil {
			return nil, err
		}
		run.links[next] = created.PullRequest
		links = append(links, created)
		diff.Replace(next.PendingLabel(), next.Label())
		break
	}
	return c.finish(ctx, origin, diff, run, links, "")
}

func (c *Controller) createLink(ctx context.Context, run *chainRun, v Version, source string, commits []string) (*types.BackportLink, error) {
	fixes, jiraFailed := c.subIssueKeys(ctx, run, v)
	link, err := c.materializer.Materialize(ctx, MaterializeRequest{
		Origin:           run.origin,
		Version:          v,
		SourceBranch:     source,
		Commits:          commits,
		TargetBranch:     c.policy.BranchFor(v),
		Fixes:            fixes,
		JiraFailed:       jiraFailed,
		WarnMissingFixes: run.warn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to backport #%d to %s: %w", run.origin.Number, v, err)
	}
	return link, nil
}

func (c *Controller) subIssueKeys(ctx context.Context, run *chainRun, v Version) ([]string, bool) {
	if c.subIssues == nil || len(run.keys) == 0 {
		return run.keys, false
	}
	if run.assignee == nil {
		author := run.origin.Author
		if author.Email == "" && author.Login != "" {
			email, err := c.prs.UserEmail(ctx, author.Login)
			if err != nil {
				c.logger.Warn("failed to get github user email", zap.String("login", author.Login), zap.Error(err))
			}
			author.Email = email
		}
		assignee := c.subIssues.ResolveAssignee(ctx, author)
		run.assignee = &assignee
	}

	keys := make([]string, 0, len(run.keys))
	failed := false
	for _, parent := range run.keys {
		res := c.subIssues.CreateSubIssue(ctx, SubIssueRequest{
			ParentKey:         parent,
			Version:           v,
			Title:             run.origin.Title,
			AssigneeAccountID: *run.assignee,
		})
		keys = append(keys, res.Key)
		failed = failed || res.Failed
	}
	return keys, failed
}

func (c *Controller) transitionSubIssues(ctx context.Context, link *types.PullRequest) {
	if c.issues == nil || c.policy.JiraDoneStatus == "" || link.HasLabel(LabelJiraFailed) {
		return
	}
	for _, ref := range ExtractReferences(link.Body) {
		if err := c.issues.TransitionIssue(ctx, ref.Key, c.policy.JiraDoneStatus); err != nil {
			c.logger.Warn("failed to transition jira issue",
				zap.String("issue", ref.Key),
				zap.String("status", c.policy.JiraDoneStatus),
				zap.Error(err),
			)
		}
	}
}

// originCommits returns the commits of the run's origin as promoted to its
// stable branch
func (c *Controller) originCommits(ctx context.Context, run *chainRun) ([]string, error) {
	origin := run.origin
	ref := c.policy.StableBranch(origin.BaseBranch)
	if run.headCommit != "" {
		ref = run.headCommit
	}
	commits, err := c.prs.PromotedCommits(ctx, origin, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get commits of #%d on %s: %w", origin.Number, ref, err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("failed to get commits of #%d on %s: none found", origin.Number, ref)
	}
	return commits, nil
}

// rootOrigin follows parent references from a backport to the pull request
// the change was first merged through.
func (c *Controller) rootOrigin(ctx context.Context, pr *types.PullRequest) (*types.PullRequest, error) {
	current := pr
	for depth := 0; depth < maxOriginDepth; depth++ {
		if !IsBackportPullRequest(current.Title, current.Body) {
			return current, nil
		}
		parent, ok := ParentNumber(current.Body)
		if !ok || parent == current.Number {
			return current, nil
		}
		next, err := c.prs.GetPullRequest(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("failed to get parent pull request #%d: %w", parent, err)
		}
		c.logger.Info("tracing backport chain",
			zap.Int("from", current.Number),
			zap.Int("to", next.Number),
		)
		current = next
	}
	c.logger.Warn("max depth reached while tracing backport chain", zap.Int("pr_number", current.Number))
	return current, nil
}

// finish writes the label diff to origin, additions first so a version never
// drops out of every state.
func (c *Controller) finish(ctx context.Context, origin *types.PullRequest, diff *LabelDiff, run *chainRun, links []*types.BackportLink, note string) (*Outcome, error) {
	effective := diff.Effective(origin.Labels)
	if added := effective.Added(); len(added) > 0 {
		if err := c.prs.AddLabels(ctx, origin.Number, added); err != nil {
			return nil, fmt.Errorf("failed to add labels to #%d: %w", origin.Number, err)
		}
	}
	for _, label := range effective.Removed() {
		if err := c.prs.RemoveLabel(ctx, origin.Number, label); err != nil {
			return nil, fmt.Errorf("failed to remove label %s from #%d: %w", label, origin.Number, err)
		}
	}

	final := ParseChainState(effective.Apply(origin.Labels))
	out := &Outcome{
		PullRequest: origin.Number,
		Phase:       final.Phase(run.isInFlight),
		Links:       links,
		Added:       effective.Added(),
		Removed:     effective.Removed(),
		Note:        note,
	}
	c.logger.Info("chain updated",
		zap.Int("pr_number", origin.Number),
		zap.String("phase", out.Phase.String()),
		zap.Strings("added", out.Added),
		zap.Strings("removed", out.Removed),
		zap.Int("links", len(links)),
		zap.String("note", note),
	)
	return out, nil
}

func (c *Controller) noop(pr *types.PullRequest, note string) *Outcome {
	c.logger.Info("no backport action", zap.Int("pr_number", pr.Number), zap.String("reason", note))
	state := ParseChainState(pr.Labels)
	return &Outcome{
		PullRequest: pr.Number,
		Phase:       state.Phase(func(Version) bool { return false }),
		Note:        note,
	}
}

func (c *Controller) logMalformed(number int, state ChainState) {
	for _, err := range state.Malformed {
		c.logger.Warn("skipping malformed backport label", zap.Int("pr_number", number), zap.Error(err))
	}
}

// ChainReport is a read-only view of an origin pull request's chain
type ChainReport struct {
	PullRequest int            `json:"pull_request"`
	Phase       string         `json:"phase"`
	Parallel    bool           `json:"parallel"`
	Requested   []string       `json:"requested"`
	Pending     []string       `json:"pending"`
	Done        []string       `json:"done"`
	Links       map[string]int `json:"links"`
}

// Inspect reports the chain state of an origin pull request
func (c *Controller) Inspect(ctx context.Context, number int) (*ChainReport, error) {
	pr, err := c.prs.GetPullRequest(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request #%d: %w", number, err)
	}
	state := ParseChainState(pr.Labels)
	run := c.newRun(pr)
	tracked := append(append([]Version(nil), state.Requested...), state.Done...)
	if err := c.inFlight(ctx, run, tracked); err != nil {
		return nil, err
	}

	report := &ChainReport{
		PullRequest: pr.Number,
		Phase:       state.Phase(run.isInFlight).String(),
		Parallel:    state.Parallel,
		Requested:   versionStrings(state.Requested),
		Pending:     versionStrings(state.Pending),
		Done:        versionStrings(state.Done),
		Links:       make(map[string]int),
	}
	for v, link := range run.links {
		report.Links[v.String()] = link.Number
	}
	return report, nil
}

func versionStrings(versions []Version) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.String())
	}
	return out
}

func withoutVersion(versions []Version, v Version) []Version {
	out := versions[:0:0]
	for _, candidate := range versions {
		if candidate != v {
			out = append(out, candidate)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
