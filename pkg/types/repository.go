package types

import (
	"fmt"
	"strings"
)

// RepositoryInfo identifies a GitHub repository
type RepositoryInfo struct {
	Owner string
	Name  string
}

// ParseRepository parses "owner/name"
func ParseRepository(fullName string) (RepositoryInfo, error) {
	parts := strings.Split(strings.TrimSpace(fullName), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepositoryInfo{}, fmt.Errorf("invalid repository %q, expected owner/name", fullName)
	}
	return RepositoryInfo{Owner: parts[0], Name: parts[1]}, nil
}

// FullName returns "owner/name"
func (r RepositoryInfo) FullName() string {
	return r.Owner + "/" + r.Name
}
