package logs

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/ws"
)

type captureSubscriber struct {
	payloads chan []byte
}

func (c *captureSubscriber) Send(payload []byte) error {
	c.payloads <- payload
	return nil
}

func (c *captureSubscriber) Close() {}

func TestPublishBroadcastsUpdate(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Stop()
	svc := New(hub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sub := &captureSubscriber{payloads: make(chan []byte, 1)}
	hub.Register(9, sub)

	completed := time.Now().UTC()
	svc.Publish(domain.Deployment{ID: 9, Status: domain.DeploymentSuccess, CompletedAt: &completed}, "done\n")

	select {
	case raw := <-sub.payloads:
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != EventUpdate || event.Chunk != "done\n" || !event.Terminal {
			t.Fatalf("unexpected event %+v", event)
		}
		if event.Status != domain.DeploymentSuccess {
			t.Fatalf("expected success status, got %s", event.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event to be delivered")
	}
}

func TestSnapshotCarriesFullLog(t *testing.T) {
	svc := New(nil, nil)
	raw, err := svc.Snapshot(domain.Deployment{ID: 1, Status: domain.DeploymentBuilding, Logs: "Deployment queued...\n"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != EventSnapshot || event.Logs != "Deployment queued...\n" || event.Terminal {
		t.Fatalf("unexpected snapshot %+v", event)
	}
}
