package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/scylladb/github-automation/internal/backport"
)

// maximum hint length posted to a pull request
const maxHintLength = 2000

// Advisor uses OpenAI to suggest how to resolve conflicted backports
type Advisor struct {
	client *openai.Client
	logger *zap.Logger
	model  string
}

// New creates a new advisor. baseURL may be empty for the public API.
func New(apiKey, model, baseURL string, logger *zap.Logger) *Advisor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if model == "" {
		model = openai.GPT4TurboPreview
	}

	return &Advisor{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
		model:  model,
	}
}

var _ backport.ConflictAdvisor = (*Advisor)(nil)

// ConflictHint asks the model for resolution hints for a conflicted backport
func (a *Advisor) ConflictHint(ctx context.Context, c backport.ConflictContext) (string, error) {
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an experienced maintainer helping engineers resolve cherry-pick conflicts on release branches. Answer briefly in GitHub markdown.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: buildPrompt(c),
				},
			},
			Temperature: 0.2,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from AI")
	}

	hint := truncate(strings.TrimSpace(resp.Choices[0].Message.Content), maxHintLength)
	a.logger.Info("generated conflict hint",
		zap.String("target_branch", c.TargetBranch),
		zap.Int("files", len(c.Files)),
	)
	return hint, nil
}

func buildPrompt(c backport.ConflictContext) string {
	var sb strings.Builder

	sb.WriteString("A backport cherry-pick produced conflicts.\n\n")
	sb.WriteString("**Change:** " + c.Title + "\n")
	sb.WriteString("**Target branch:** " + c.TargetBranch + "\n")
	if len(c.Commits) > 0 {
		sb.WriteString("**Commits:** " + strings.Join(c.Commits, ", ") + "\n")
	}
	if len(c.Files) > 0 {
		sb.WriteString("**Conflicted files:**\n")
		for _, f := range c.Files {
			sb.WriteString("- " + f + "\n")
		}
	}
	sb.WriteString("\nList what to check in each file when resolving, in at most five bullet points.\n")

	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
