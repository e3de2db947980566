package backport

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/scylladb/github-automation/pkg/types"
)

type fakePullRequests struct {
	prs          map[int]*types.PullRequest
	next         int
	ranges       map[string][]int
	promoted     map[int][]string
	promotedRefs []string
	inBranch     map[string]bool
	emails       map[string]string
	comments     map[int][]string
	assignees    map[int][]string
	milestones   map[int]string
	created      []types.NewPullRequest
	createErr    error
}

func newFakePullRequests() *fakePullRequests {
	return &fakePullRequests{
		prs:        make(map[int]*types.PullRequest),
		next:       1000,
		ranges:     make(map[string][]int),
		promoted:   make(map[int][]string),
		inBranch:   make(map[string]bool),
		emails:     make(map[string]string),
		comments:   make(map[int][]string),
		assignees:  make(map[int][]string),
		milestones: make(map[int]string),
	}
}

func (f *fakePullRequests) add(pr *types.PullRequest) *types.PullRequest {
	f.prs[pr.Number] = pr
	return pr
}

func (f *fakePullRequests) labels(number int) []string {
	return append([]string(nil), f.prs[number].Labels...)
}

func (f *fakePullRequests) GetPullRequest(_ context.Context, number int) (*types.PullRequest, error) {
	pr, ok := f.prs[number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d not found", number)
	}
	cp := *pr
	cp.Labels = append([]string(nil), pr.Labels...)
	return &cp, nil
}

func (f *fakePullRequests) PullRequestsForCommits(_ context.Context, commitRange string) ([]*types.PullRequest, error) {
	var out []*types.PullRequest
	for _, n := range f.ranges[commitRange] {
		pr, _ := f.GetPullRequest(context.Background(), n)
		out = append(out, pr)
	}
	return out, nil
}

func (f *fakePullRequests) PromotedCommits(_ context.Context, pr *types.PullRequest, branch string) ([]string, error) {
	f.promotedRefs = append(f.promotedRefs, branch)
	if commits, ok := f.promoted[pr.Number]; ok {
		return commits, nil
	}
	return []string{fmt.Sprintf("sha-%d", pr.Number)}, nil
}

func (f *fakePullRequests) FindPullRequestByHead(_ context.Context, head string) (*types.PullRequest, error) {
	for _, pr := range f.prs {
		if pr.HeadBranch == head {
			cp := *pr
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePullRequests) CreatePullRequest(_ context.Context, req types.NewPullRequest) (*types.PullRequest, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.next++
	f.created = append(f.created, req)
	pr := &types.PullRequest{
		Number:     f.next,
		Title:      req.Title,
		Body:       req.Body,
		BaseBranch: req.Base,
		HeadBranch: req.Head,
		Draft:      req.Draft,
		State:      "open",
		Author:     types.Identity{Login: "scylladbbot"},
		URL:        fmt.Sprintf("https://github.com/scylladb/scylladb/pull/%d", f.next),
	}
	f.prs[pr.Number] = pr
	cp := *pr
	return &cp, nil
}

func (f *fakePullRequests) AddLabels(_ context.Context, number int, labels []string) error {
	pr := f.prs[number]
	for _, l := range labels {
		if !pr.HasLabel(l) {
			pr.Labels = append(pr.Labels, l)
		}
	}
	return nil
}

func (f *fakePullRequests) RemoveLabel(_ context.Context, number int, label string) error {
	pr := f.prs[number]
	pr.Labels = without(pr.Labels, label)
	return nil
}

func (f *fakePullRequests) AddComment(_ context.Context, number int, body string) error {
	f.comments[number] = append(f.comments[number], body)
	return nil
}

func (f *fakePullRequests) AddAssignees(_ context.Context, number int, logins []string) error {
	f.assignees[number] = append(f.assignees[number], logins...)
	return nil
}

func (f *fakePullRequests) SetMilestone(_ context.Context, number int, title string) error {
	f.milestones[number] = title
	if pr, ok := f.prs[number]; ok {
		pr.Milestone = title
	}
	return nil
}

func (f *fakePullRequests) UserEmail(_ context.Context, login string) (string, error) {
	return f.emails[login], nil
}

func (f *fakePullRequests) CommitInBranch(_ context.Context, commit, branch string) (bool, error) {
	return f.inBranch[commit+"@"+branch], nil
}

// merge closes a backport pull request as merged into its base
func (f *fakePullRequests) merge(number int) {
	pr := f.prs[number]
	pr.Merged = true
	pr.State = "closed"
	pr.MergeCommitSHA = fmt.Sprintf("merge-%d", number)
}

func (f *fakePullRequests) byHead(head string) *types.PullRequest {
	for _, pr := range f.prs {
		if pr.HeadBranch == head {
			return pr
		}
	}
	return nil
}

type fakeIssues struct {
	issues      map[string]*Issue
	subTasks    map[string][]Issue
	accounts    map[string]string
	comments    map[string][]string
	created     []SubTaskRequest
	assigned    map[string]string
	transitions map[string]string
	createErr   error
	getErr      error
	next        int
}

func newFakeIssues() *fakeIssues {
	return &fakeIssues{
		issues:      make(map[string]*Issue),
		subTasks:    make(map[string][]Issue),
		accounts:    make(map[string]string),
		comments:    make(map[string][]string),
		assigned:    make(map[string]string),
		transitions: make(map[string]string),
		next:        9000,
	}
}

func (f *fakeIssues) GetIssue(_ context.Context, key string) (*Issue, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if issue, ok := f.issues[key]; ok {
		cp := *issue
		return &cp, nil
	}
	return &Issue{Key: key, Summary: "issue " + key}, nil
}

func (f *fakeIssues) ListSubTasks(_ context.Context, parentKey string) ([]Issue, error) {
	return f.subTasks[parentKey], nil
}

func (f *fakeIssues) CreateSubTask(_ context.Context, req SubTaskRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	key := fmt.Sprintf("%s-%d", req.ProjectKey, f.next)
	f.created = append(f.created, req)
	f.subTasks[req.ParentKey] = append(f.subTasks[req.ParentKey], Issue{
		Key:       key,
		Summary:   req.Summary,
		Subtask:   true,
		ParentKey: req.ParentKey,
	})
	if req.AssigneeAccountID != "" {
		f.assigned[key] = req.AssigneeAccountID
	}
	return key, nil
}

func (f *fakeIssues) AssignIssue(_ context.Context, key, accountID string) error {
	f.assigned[key] = accountID
	return nil
}

func (f *fakeIssues) FindAccountID(_ context.Context, email string) (string, error) {
	return f.accounts[email], nil
}

func (f *fakeIssues) AddComment(_ context.Context, key, body string) error {
	f.comments[key] = append(f.comments[key], body)
	return nil
}

func (f *fakeIssues) TransitionIssue(_ context.Context, key, status string) error {
	f.transitions[key] = status
	return nil
}

type fakeSource struct {
	conflicts map[string]bool
	calls     []CherryPickRequest
	err       error
}

func newFakeSource() *fakeSource {
	return &fakeSource{conflicts: make(map[string]bool)}
}

func (f *fakeSource) CherryPick(_ context.Context, req CherryPickRequest) (*CherryPickResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, req)
	res := &CherryPickResult{Head: "head-" + req.NewBranch}
	if f.conflicts[req.TargetBranch] {
		res.Conflicted = true
		res.ConflictedFiles = []string{"db/config.cc"}
	}
	return res, nil
}

type fakeReleases struct {
	tags  []string
	files map[string]string
	err   error
}

func (f *fakeReleases) ReleaseTags(context.Context) ([]string, error) {
	return f.tags, f.err
}

func (f *fakeReleases) FileContent(_ context.Context, path, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	content, ok := f.files[ref+":"+path]
	if !ok {
		return "", fmt.Errorf("%s not found at %s", path, ref)
	}
	return content, nil
}

type fakeAdvisor struct {
	hint  string
	calls int
}

func (f *fakeAdvisor) ConflictHint(_ context.Context, _ ConflictContext) (string, error) {
	f.calls++
	return f.hint, nil
}

func testPolicy() Policy {
	return Policy{
		Repository:    "scylladb/scylladb",
		FlagshipRepo:  "scylladb/scylladb",
		PackagingRepo: "scylladb/scylla-pkg",
		MasterBranch:  "master",
		BotLogin:      "scylladbbot",
		EmailDomain:   "scylladb.com",
		RunURL:        "https://github.com/scylladb/scylladb/actions/runs/1",
	}
}

type harness struct {
	prs        *fakePullRequests
	issues     *fakeIssues
	source     *fakeSource
	controller *Controller
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		prs:    newFakePullRequests(),
		issues: newFakeIssues(),
		source: newFakeSource(),
	}
	h.controller = NewController(Deps{
		PullRequests: h.prs,
		Issues:       h.issues,
		Source:       h.source,
	}, policy, zaptest.NewLogger(t))
	return h
}

func originPR(number int, labels ...string) *types.PullRequest {
	return &types.PullRequest{
		Number:     number,
		Title:      "storage: fix compaction stall",
		Body:       "Compaction could stall forever.\n\nFixes: SCYLLADB-123",
		Labels:     labels,
		BaseBranch: "master",
		State:      "closed",
		Merged:     true,
		Author:     types.Identity{Login: "dev"},
	}
}

func backportHead(origin int, version string) string {
	return "scylladbbot:backport/" + fmt.Sprint(origin) + "/to-" + version
}

func backportLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		if strings.HasPrefix(l, labelPrefix) {
			out = append(out, l)
		}
	}
	return out
}
