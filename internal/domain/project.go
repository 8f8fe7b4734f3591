package domain

import (
	"encoding"
	"fmt"
	"strings"
	"time"
)

// ProjectStatus is the lifecycle flag of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectInactive ProjectStatus = "inactive"
	ProjectError    ProjectStatus = "error"
)

var _ encoding.TextUnmarshaler = (*ProjectStatus)(nil)

// ParseProjectStatus validates a textual project status.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch st := ProjectStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ProjectActive, ProjectInactive, ProjectError:
		return st, nil
	default:
		return "", Invalid(fmt.Sprintf("invalid project status %q", s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProjectStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseProjectStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Project describes a deployable unit owned by a single user.
type Project struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	Name      string        `json:"name"`
	GithubURL string        `json:"github_url"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// ProjectWithDeployments is the detail view of a project.
type ProjectWithDeployments struct {
	Project
	Deployments []Deployment `json:"deployments"`
}

// ProjectCounts aggregates project totals for admin views.
type ProjectCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}
