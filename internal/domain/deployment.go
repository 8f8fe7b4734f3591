package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// DeploymentStatus is the closed set of simulator states. The zero value is
// DeploymentPending, the initial state.
type DeploymentStatus uint8

const (
	DeploymentPending DeploymentStatus = iota
	DeploymentBuilding
	DeploymentDeploying
	DeploymentSuccess
	DeploymentFailed
	DeploymentCancelled
)

// DeploymentStatuses lists every state in transition order.
var DeploymentStatuses = []DeploymentStatus{
	DeploymentPending,
	DeploymentBuilding,
	DeploymentDeploying,
	DeploymentSuccess,
	DeploymentFailed,
	DeploymentCancelled,
}

func (s DeploymentStatus) String() string {
	switch s {
	case DeploymentPending:
		return "pending"
	case DeploymentBuilding:
		return "building"
	case DeploymentDeploying:
		return "deploying"
	case DeploymentSuccess:
		return "success"
	case DeploymentFailed:
		return "failed"
	case DeploymentCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("DeploymentStatus(%d)", uint8(s))
	}
}

// ParseDeploymentStatus maps the wire form back to the enum.
func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return DeploymentPending, nil
	case "building":
		return DeploymentBuilding, nil
	case "deploying":
		return DeploymentDeploying, nil
	case "success":
		return DeploymentSuccess, nil
	case "failed":
		return DeploymentFailed, nil
	case "cancelled":
		return DeploymentCancelled, nil
	default:
		return 0, Invalid(fmt.Sprintf("invalid deployment status %q", s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentSuccess, DeploymentFailed, DeploymentCancelled:
		return true
	case DeploymentPending, DeploymentBuilding, DeploymentDeploying:
		return false
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	switch s {
	case DeploymentPending:
		return next == DeploymentBuilding || next == DeploymentCancelled
	case DeploymentBuilding:
		return next == DeploymentDeploying || next == DeploymentCancelled
	case DeploymentDeploying:
		return next == DeploymentSuccess || next == DeploymentFailed || next == DeploymentCancelled
	case DeploymentSuccess, DeploymentFailed, DeploymentCancelled:
		return false
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DeploymentStatus) MarshalText() ([]byte, error) {
	if s > DeploymentCancelled {
		return nil, fmt.Errorf("invalid deployment status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DeploymentStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseDeploymentStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer so the status is stored as text.
func (s DeploymentStatus) Value() (driver.Value, error) {
	b, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *DeploymentStatus) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into DeploymentStatus", src)
	}
}

// Deployment captures a single simulated deployment attempt.
type Deployment struct {
	ID          int64            `json:"id"`
	ProjectID   int64            `json:"project_id"`
	Status      DeploymentStatus `json:"status"`
	Logs        string           `json:"logs"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at"`
}

// Duration returns completion minus start, or false while in flight.
func (d Deployment) Duration() (time.Duration, bool) {
	if d.CompletedAt == nil {
		return 0, false
	}
	return d.CompletedAt.Sub(d.StartedAt), true
}

// DeploymentTransition is a compare-and-set status change. The write only
// applies while the stored status still equals From.
type DeploymentTransition struct {
	DeploymentID int64
	From         DeploymentStatus
	To           DeploymentStatus
	AppendLog    string
	CompletedAt  *time.Time
}

// Validate checks the transition table and the completion invariant.
func (t DeploymentTransition) Validate() error {
	if !t.From.CanTransition(t.To) {
		return fmt.Errorf("illegal deployment transition %s -> %s", t.From, t.To)
	}
	if t.To.IsTerminal() != (t.CompletedAt != nil) {
		return fmt.Errorf("completed_at must be set exactly for terminal status %s", t.To)
	}
	return nil
}

// DeploymentFilter narrows deployment listings.
type DeploymentFilter struct {
	OwnerID     int64
	ProjectID   int64
	Status      *DeploymentStatus
	StartedFrom time.Time
	StartedTo   time.Time
}

// DeploymentCounts aggregates deployment totals for admin views.
type DeploymentCounts struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Recent     int `json:"recent_24h"`
}
