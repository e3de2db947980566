package github

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/scylladb/github-automation/internal/retry"
)

// classify marks client errors as permanent. Rate limits, server errors and
// transport failures stay retryable.
func classify(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateLimit *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rateLimit) || errors.As(err, &abuse) {
		return err
	}

	if resp != nil && resp.Response != nil {
		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return err
		case resp.StatusCode == http.StatusTooManyRequests:
			return err
		case resp.StatusCode >= http.StatusBadRequest:
			return retry.Permanent(err)
		}
	}
	return err
}

func isNotFound(resp *github.Response) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound
}

// isAlreadyExists reports whether err is the validation error GitHub returns
// when a pull request for the same head is already open
func isAlreadyExists(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(ghErr.Message, "already exists") {
		return true
	}
	for _, e := range ghErr.Errors {
		if strings.Contains(e.Message, "already exists") {
			return true
		}
	}
	return false
}
