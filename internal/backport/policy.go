package backport

import (
	"regexp"
	"strings"
	"time"
)

const (
	flagshipBranchPrefix = "branch-"
	gatingBranchPrefix   = "next-"
	gatingMasterBranch   = "next"
)

var branchVersionPattern = regexp.MustCompile(`(\d+\.\d+)$`)

// Policy holds the per-repository rules of the backport automation
type Policy struct {
	// Repository is the owner/name the automation acts on
	Repository string
	// FlagshipRepo targets branch-X.Y directly and requires Fixes references
	FlagshipRepo string
	// PackagingRepo never receives force_on_cloud
	PackagingRepo string
	MasterBranch  string
	// BotLogin owns the fork backport branches are pushed to
	BotLogin    string
	EmailDomain string
	// EmailOverrides maps GitHub logins to the email of their Jira account
	EmailOverrides map[string]string
	CarriedLabels  []string
	// RunURL links failure comments to the job that produced them
	RunURL string
	// SettleDelay batches label bursts before a labeled event is evaluated
	SettleDelay time.Duration
	// JiraDoneStatus, when set, is the status sub-issues move to once their
	// backport is promoted
	JiraDoneStatus string
	// MilestoneRepos are the repositories whose pull requests get release
	// milestones
	MilestoneRepos []string
}

// IsFlagship reports whether the policy's repository is the flagship repository
func (p Policy) IsFlagship() bool {
	return p.Repository != "" && p.Repository == p.FlagshipRepo
}

// SetsMilestones reports whether pull requests of the policy's repository get
// release milestones
func (p Policy) SetsMilestones() bool {
	return p.Repository != "" && contains(p.MilestoneRepos, p.Repository)
}

// IsPackaging reports whether the policy's repository is the packaging repository
func (p Policy) IsPackaging() bool {
	return p.Repository != "" && p.Repository == p.PackagingRepo
}

// BranchFor returns the branch backports for v target. The flagship
// repository targets branch-X.Y; others target the next-X.Y gating branch.
// Manager versions live on manager-X.Y in every repository.
func (p Policy) BranchFor(v Version) string {
	if v.Manager {
		return v.String()
	}
	if p.IsFlagship() {
		return flagshipBranchPrefix + v.String()
	}
	return gatingBranchPrefix + v.String()
}

// StableBranch returns the branch a pull request merged into base is promoted to
func (p Policy) StableBranch(base string) string {
	if base == gatingMasterBranch {
		return p.master()
	}
	if strings.HasPrefix(base, gatingBranchPrefix) {
		return flagshipBranchPrefix + strings.TrimPrefix(base, gatingBranchPrefix)
	}
	return base
}

// IsMaster reports whether branch is this repository's master branch
func (p Policy) IsMaster(branch string) bool {
	return branch == p.master()
}

func (p Policy) master() string {
	if p.MasterBranch == "" {
		return "master"
	}
	return p.MasterBranch
}

// IsGatingBranch reports whether pushes to branch are merges into a gating
// branch rather than promotions.
func IsGatingBranch(branch string) bool {
	return branch == gatingMasterBranch || strings.HasPrefix(branch, gatingBranchPrefix)
}

// IsMasterBranch reports whether branch is a master-like branch
func IsMasterBranch(branch string) bool {
	switch branch {
	case "master", "main", gatingMasterBranch:
		return true
	}
	return false
}

// VersionForBranch returns the version a stable branch carries
func VersionForBranch(branch string) (Version, bool) {
	if strings.HasPrefix(branch, managerPrefix) {
		v, err := ParseVersion(branch)
		return v, err == nil
	}
	m := branchVersionPattern.FindStringSubmatch(branch)
	if m == nil {
		return Version{}, false
	}
	v, err := ParseVersion(m[1])
	return v, err == nil
}

// AssigneeEmails returns the emails tried, in order, when looking up the Jira
// account of a GitHub user.
func (p Policy) AssigneeEmails(login, email string) []string {
	var out []string
	add := func(e string) {
		if e != "" && !contains(out, e) {
			out = append(out, e)
		}
	}
	add(email)
	if p.EmailOverrides != nil {
		add(p.EmailOverrides[login])
	}
	if login != "" && p.EmailDomain != "" {
		add(login + "@" + p.EmailDomain)
	}
	return out
}
