package httpx

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/service/logs"
	"github.com/splax/clouddeploy/internal/ws"
)

const sseHeartbeatInterval = 15 * time.Second

// streamSubscriber forwards hub events to a connection and signals once an
// event reports a terminal status.
type streamSubscriber struct {
	send     func([]byte) error
	closeFn  func()
	terminal chan struct{}
	once     sync.Once
}

func newStreamSubscriber(send func([]byte) error, closeFn func()) *streamSubscriber {
	return &streamSubscriber{send: send, closeFn: closeFn, terminal: make(chan struct{})}
}

func (s *streamSubscriber) Send(payload []byte) error {
	if err := s.send(payload); err != nil {
		return err
	}
	var status struct {
		Terminal bool `json:"terminal"`
	}
	if json.Unmarshal(payload, &status) == nil && status.Terminal {
		s.markTerminal()
	}
	return nil
}

func (s *streamSubscriber) Close() { s.closeFn() }

func (s *streamSubscriber) markTerminal() {
	s.once.Do(func() { close(s.terminal) })
}

// subscribe registers sub for the deployment and returns the persisted state
// read after registration, so no update between the two is lost.
func (r *Router) subscribe(req *http.Request, id int64, sub ws.Subscriber) (*domain.Deployment, error) {
	r.logs.Hub().Register(id, sub)
	deployment, err := r.deploy.Get(req.Context(), id, caller(req))
	if err != nil {
		r.logs.Hub().Unregister(id, sub)
		return nil, err
	}
	return deployment, nil
}

func (r *Router) handleDeploymentStream(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if _, err := r.deploy.Get(req.Context(), id, caller(req)); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	rc := http.NewResponseController(w)

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		r.logger.Warn("deployment stream unsupported", "deployment_id", id, "error", err)
		return
	}

	client := ws.NewSSEClient(w, r.logger)
	sub := newStreamSubscriber(func(payload []byte) error {
		return client.SendEvent(logs.EventUpdate, payload)
	}, client.Close)

	deployment, err := r.subscribe(req, id, sub)
	if err != nil {
		r.logger.Warn("deployment stream aborted", "deployment_id", id, "error", err)
		return
	}
	defer func() {
		r.logs.Hub().Unregister(id, sub)
		client.Close()
	}()

	snapshot, err := r.logs.Snapshot(*deployment)
	if err != nil {
		r.logger.Error("failed to encode snapshot", "deployment_id", id, "error", err)
		return
	}
	if err := client.SendEvent(logs.EventSnapshot, snapshot); err != nil {
		return
	}
	if deployment.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-sub.terminal:
			return
		case now := <-ticker.C:
			if now.Sub(client.LastActivity()) < sseHeartbeatInterval {
				continue
			}
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleDeploymentWS(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if _, err := r.deploy.Get(req.Context(), id, caller(req)); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	sub := newStreamSubscriber(client.Send, client.Close)

	deployment, err := r.subscribe(req, id, sub)
	if err != nil {
		client.Close()
		return
	}
	snapshot, err := r.logs.Snapshot(*deployment)
	if err == nil {
		err = client.Send(snapshot)
	}
	if err != nil || deployment.Status.IsTerminal() {
		r.logs.Hub().Unregister(id, sub)
		client.Close()
		return
	}

	go client.Pump()
	go func() {
		defer func() {
			r.logs.Hub().Unregister(id, sub)
			client.Close()
		}()
		select {
		case <-client.Done():
		case <-sub.terminal:
		}
	}()
}
