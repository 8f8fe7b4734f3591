package logs

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/ws"
)

// Event kinds carried on a deployment stream.
const (
	EventSnapshot = "snapshot"
	EventUpdate   = "update"
)

// Event is one message on a deployment stream. Snapshots carry the full log;
// updates carry only the appended chunk.
type Event struct {
	Type         string                  `json:"type"`
	DeploymentID int64                   `json:"deployment_id"`
	Status       domain.DeploymentStatus `json:"status"`
	Logs         string                  `json:"logs,omitempty"`
	Chunk        string                  `json:"chunk,omitempty"`
	Terminal     bool                    `json:"terminal"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
	At           time.Time               `json:"at"`
}

// Service publishes persisted deployment changes to live subscribers.
type Service struct {
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a log streaming service.
func New(hub *ws.Hub, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{hub: hub, logger: logger, now: time.Now}
}

// Publish broadcasts a chunk appended to the deployment's log. Callers
// publish only after the change is persisted.
func (s Service) Publish(deployment domain.Deployment, chunk string) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEvent(Event{
		Type:         EventUpdate,
		DeploymentID: deployment.ID,
		Status:       deployment.Status,
		Chunk:        chunk,
		Terminal:     deployment.Status.IsTerminal(),
		CompletedAt:  deployment.CompletedAt,
		At:           s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to marshal deployment event", "deployment_id", deployment.ID, "error", err)
		return
	}
	s.hub.Broadcast(deployment.ID, data)
}

// Snapshot encodes the current persisted state as the first stream event.
func (s Service) Snapshot(deployment domain.Deployment) ([]byte, error) {
	return MarshalEvent(Event{
		Type:         EventSnapshot,
		DeploymentID: deployment.ID,
		Status:       deployment.Status,
		Logs:         deployment.Logs,
		Terminal:     deployment.Status.IsTerminal(),
		CompletedAt:  deployment.CompletedAt,
		At:           s.now().UTC(),
	})
}

// Hub returns the subscriber hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEvent formats a stream event.
func MarshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
