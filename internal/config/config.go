package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scylladb/github-automation/internal/backport"
	"github.com/scylladb/github-automation/internal/retry"
)

// RepoConfig is the non-secret repository policy read from CONFIG_PATH
type RepoConfig struct {
	FlagshipRepo   string            `yaml:"flagship_repo"`
	PackagingRepo  string            `yaml:"packaging_repo"`
	MasterBranch   string            `yaml:"master_branch"`
	EmailDomain    string            `yaml:"email_domain"`
	CarriedLabels  []string          `yaml:"carried_labels"`
	EmailOverrides map[string]string `yaml:"github_to_jira_emails"`
	JiraDoneStatus string            `yaml:"jira_done_status"`
	MilestoneRepos []string          `yaml:"milestone_repos"`
}

// Config holds everything the commands need
type Config struct {
	GitHubToken  string
	Repository   string
	BotLogin     string
	WorkspaceDir string
	RunURL       string

	JiraBaseURL  string
	JiraUsername string
	JiraToken    string

	SettleDelay   time.Duration
	RetryAttempts int

	TemporalAddress   string
	TemporalNamespace string
	TaskQueue         string

	RESTPort      string
	GRPCPort      string
	WebhookSecret string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	Repo RepoConfig
}

const defaultSettleDelay = "30s"

func defaultRepoConfig() RepoConfig {
	return RepoConfig{
		FlagshipRepo:   "scylladb/scylladb",
		PackagingRepo:  "scylladb/scylla-pkg",
		MasterBranch:   "master",
		EmailDomain:    "scylladb.com",
		MilestoneRepos: []string{"scylladb/scylladb", "scylladb/scylla-pkg"},
	}
}

// Load reads the configuration from the environment and the optional YAML
// file named by CONFIG_PATH
func Load() (*Config, error) {
	cfg := &Config{
		GitHubToken:       getEnv("GITHUB_TOKEN", ""),
		Repository:        getEnv("GITHUB_REPOSITORY", ""),
		BotLogin:          getEnv("BOT_LOGIN", "scylladbbot"),
		WorkspaceDir:      getEnv("WORKSPACE_DIR", os.TempDir()),
		JiraBaseURL:       getEnv("JIRA_BASE_URL", ""),
		JiraUsername:      getEnv("JIRA_USERNAME", ""),
		JiraToken:         getEnv("JIRA_TOKEN", ""),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TaskQueue:         getEnv("TASK_QUEUE", "backport-queue"),
		RESTPort:          getEnv("REST_PORT", "8080"),
		GRPCPort:          getEnv("GRPC_PORT", "9090"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		Repo:              defaultRepoConfig(),
	}

	// JIRA_AUTH is "user:token", as stored in the CI secret
	if auth := getEnv("JIRA_AUTH", ""); auth != "" {
		user, token, ok := strings.Cut(auth, ":")
		if !ok {
			return nil, errors.New("JIRA_AUTH must be user:token")
		}
		cfg.JiraUsername, cfg.JiraToken = user, token
	}

	if server, runID := getEnv("GITHUB_SERVER_URL", ""), getEnv("GITHUB_RUN_ID", ""); server != "" && runID != "" && cfg.Repository != "" {
		cfg.RunURL = fmt.Sprintf("%s/%s/actions/runs/%s", strings.TrimSuffix(server, "/"), cfg.Repository, runID)
	}

	// 0s turns the settle delay off
	delay, err := time.ParseDuration(getEnv("SETTLE_DELAY", defaultSettleDelay))
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLE_DELAY: %w", err)
	}
	cfg.SettleDelay = delay

	attempts, err := strconv.Atoi(getEnv("RETRY_ATTEMPTS", strconv.Itoa(retry.DefaultPolicy.Attempts)))
	if err != nil || attempts < 1 {
		return nil, fmt.Errorf("invalid RETRY_ATTEMPTS %q", os.Getenv("RETRY_ATTEMPTS"))
	}
	cfg.RetryAttempts = attempts

	if path := getEnv("CONFIG_PATH", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadFile merges the YAML file at path over the defaults. Keys absent from
// the file keep their defaults.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Repo); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// HasJira reports whether Jira credentials are configured
func (c *Config) HasJira() bool {
	return c.JiraBaseURL != "" && c.JiraUsername != "" && c.JiraToken != ""
}

// HasAdvisor reports whether an OpenAI key is configured
func (c *Config) HasAdvisor() bool {
	return c.OpenAIAPIKey != ""
}

// RetryPolicy returns the retry policy for API clients
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy
	p.Attempts = c.RetryAttempts
	return p
}

// BackportPolicy returns the policy for repository
func (c *Config) BackportPolicy(repository string) backport.Policy {
	return backport.Policy{
		Repository:     repository,
		FlagshipRepo:   c.Repo.FlagshipRepo,
		PackagingRepo:  c.Repo.PackagingRepo,
		MasterBranch:   c.Repo.MasterBranch,
		BotLogin:       c.BotLogin,
		EmailDomain:    c.Repo.EmailDomain,
		EmailOverrides: c.Repo.EmailOverrides,
		CarriedLabels:  c.Repo.CarriedLabels,
		RunURL:         c.RunURL,
		SettleDelay:    c.SettleDelay,
		JiraDoneStatus: c.Repo.JiraDoneStatus,
		MilestoneRepos: c.Repo.MilestoneRepos,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
