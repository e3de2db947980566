package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scylladb/github-automation/internal/retry"
	"github.com/scylladb/github-automation/pkg/types"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := github.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	api.BaseURL = base

	return &Client{
		api:    api,
		repo:   types.RepositoryInfo{Owner: "scylladb", Name: "scylladb"},
		logger: zaptest.NewLogger(t),
		retry:  retry.Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

func TestPullRequestsForCommits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/compare/aaa...bbb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"commits":[{"sha":"c1"},{"sha":"c2"}]}`)
	})
	pr := `[{"number":100,"title":"storage: fix","state":"closed","merged_at":"2025-01-01T00:00:00Z",
		"merge_commit_sha":"m100","labels":[{"name":"backport/2025.4"}],
		"base":{"ref":"master"},"head":{"ref":"fix"},"user":{"login":"dev"}}]`
	mux.HandleFunc("/repos/scylladb/scylladb/commits/c1/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pr)
	})
	mux.HandleFunc("/repos/scylladb/scylladb/commits/c2/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pr)
	})

	c := newTestClient(t, mux)
	prs, err := c.PullRequestsForCommits(context.Background(), "aaa..bbb")
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, &types.PullRequest{
		Number:         100,
		Title:          "storage: fix",
		Labels:         []string{"backport/2025.4"},
		BaseBranch:     "master",
		HeadBranch:     "fix",
		State:          "closed",
		Merged:         true,
		MergeCommitSHA: "m100",
		Author:         types.Identity{Login: "dev"},
	}, prs[0])
}

func TestPullRequestsForCommitsRejectsBadRange(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	_, err := c.PullRequestsForCommits(context.Background(), "aaa")
	assert.Error(t, err)
}

func TestPromotedCommitsMergeCommit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/commits/m1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"m1","parents":[{"sha":"p1"},{"sha":"p2"}]}`)
	})

	c := newTestClient(t, mux)
	commits, err := c.PromotedCommits(context.Background(), &types.PullRequest{Number: 5, Merged: true, MergeCommitSHA: "m1"}, "master")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, commits)
}

func TestPromotedCommitsMatchesRebasedCommits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/commits/m1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"m1","parents":[{"sha":"p1"}]}`)
	})
	mux.HandleFunc("/repos/scylladb/scylladb/pulls/5/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"sha":"x1","commit":{"message":"first change\n\ndetails"}},{"sha":"x2","commit":{"message":"second change"}}]`)
	})
	mux.HandleFunc("/repos/scylladb/scylladb/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "branch-2025.4", r.URL.Query().Get("sha"))
		fmt.Fprint(w, `[{"sha":"s2","commit":{"message":"second change"}},{"sha":"s1","commit":{"message":"first change\n\ndetails"}}]`)
	})

	c := newTestClient(t, mux)
	commits, err := c.PromotedCommits(context.Background(), &types.PullRequest{Number: 5, Merged: true, MergeCommitSHA: "m1"}, "branch-2025.4")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, commits)
}

func TestPromotedCommitsClosedByPush(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/issues/7/events", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"event":"labeled"},{"event":"closed","commit_id":"k1"}]`)
	})

	c := newTestClient(t, mux)
	commits, err := c.PromotedCommits(context.Background(), &types.PullRequest{Number: 7, State: "closed"}, "master")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, commits)
}

func TestCommitInBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/commits/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"abc","commit":{"message":"storage: fix stall\n\nbody"}}`)
	})
	mux.HandleFunc("/repos/scylladb/scylladb/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"sha":"zzz","commit":{"message":"storage: fix stall\n\n(cherry picked from commit abc)"}}]`)
	})

	c := newTestClient(t, mux)
	present, err := c.CommitInBranch(context.Background(), "abc", "branch-2025.4")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	c := newTestClient(t, mux)
	_, err := c.GetPullRequest(context.Background(), 1)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestServerErrorsAreRetried(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"number":1,"title":"ok"}`)
	})

	c := newTestClient(t, mux)
	pr, err := c.GetPullRequest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", pr.Title)
	assert.Equal(t, 3, calls)
}

func TestRemoveMissingLabel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/issues/1/labels/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Label does not exist"}`)
	})

	c := newTestClient(t, mux)
	assert.NoError(t, c.RemoveLabel(context.Background(), 1, "backport/2025.4"))
}

func TestCreatePullRequestReturnsExistingOnConflict(t *testing.T) {
	posts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Validation Failed","errors":[{"resource":"PullRequest","code":"custom",
				"message":"A pull request already exists for scylladbbot:backport/100/to-2025.4."}]}`)
			return
		}
		assert.Equal(t, "scylladbbot:backport/100/to-2025.4", r.URL.Query().Get("head"))
		fmt.Fprint(w, `[{"number":1001,"title":"[Backport 2025.4] storage: fix","state":"open",
			"base":{"ref":"branch-2025.4"},"head":{"ref":"backport/100/to-2025.4"}}]`)
	})

	c := newTestClient(t, mux)
	pr, err := c.CreatePullRequest(context.Background(), types.NewPullRequest{
		Title: "[Backport 2025.4] storage: fix",
		Head:  "scylladbbot:backport/100/to-2025.4",
		Base:  "branch-2025.4",
	})
	require.NoError(t, err)
	assert.Equal(t, 1001, pr.Number)
	assert.Equal(t, 1, posts)
}

func TestCreatePullRequestValidationError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Validation Failed","errors":[{"resource":"PullRequest","field":"base","code":"invalid"}]}`)
	})

	c := newTestClient(t, mux)
	_, err := c.CreatePullRequest(context.Background(), types.NewPullRequest{Head: "scylladbbot:x", Base: "nope"})
	assert.Error(t, err)
}

func TestSetMilestoneCreatesMissingMilestone(t *testing.T) {
	var edited map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/milestones", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"number":7,"title":"2025.4.2"}`)
			return
		}
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[{"number":1,"title":"2025.4.1"}]`)
	})
	mux.HandleFunc("/repos/scylladb/scylladb/issues/1001", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&edited))
		fmt.Fprint(w, `{"number":1001}`)
	})

	c := newTestClient(t, mux)
	require.NoError(t, c.SetMilestone(context.Background(), 1001, "2025.4.2"))
	assert.Equal(t, float64(7), edited["milestone"])
}

func TestReleaseTagsPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/tags", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"name":"scylla-2025.3.0"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/scylladb/scylladb/tags?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"name":"scylla-2025.4.1"},{"name":"scylla-2025.4.0"}]`)
	})

	c := newTestClient(t, mux)
	tags, err := c.ReleaseTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"scylla-2025.4.1", "scylla-2025.4.0", "scylla-2025.3.0"}, tags)
}

func TestFileContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/scylladb/scylladb/contents/SCYLLA-VERSION-GEN", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "master", r.URL.Query().Get("ref"))
		content := base64.StdEncoding.EncodeToString([]byte("VERSION=2026.2.0-dev\n"))
		fmt.Fprintf(w, `{"type":"file","encoding":"base64","name":"SCYLLA-VERSION-GEN","content":%q}`, content)
	})

	c := newTestClient(t, mux)
	content, err := c.FileContent(context.Background(), "SCYLLA-VERSION-GEN", "master")
	require.NoError(t, err)
	assert.Equal(t, "VERSION=2026.2.0-dev\n", content)
}

func TestToPullRequestMilestone(t *testing.T) {
	pr := toPullRequest(&github.PullRequest{
		Number:    github.Int(1),
		Milestone: &github.Milestone{Title: github.String("2025.4.2")},
	})
	assert.Equal(t, "2025.4.2", pr.Milestone)
}
