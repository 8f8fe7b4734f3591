package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer. Every
// write carries a deadline so a peer that stops reading fails the write
// instead of holding it forever.
type SSEClient struct {
	mu     sync.Mutex
	writer http.ResponseWriter
	rc     *http.ResponseController
	log    *slog.Logger
	closed bool
	done   chan struct{}
	last   time.Time
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer: w,
		rc:     http.NewResponseController(w),
		log:    logger,
		done:   make(chan struct{}),
		last:   time.Now().UTC(),
	}
}

// Send emits a data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.write("data: %s\n\n", payload)
}

// SendEvent emits a named event.
func (c *SSEClient) SendEvent(event string, payload []byte) error {
	return c.write("event: %s\ndata: %s\n\n", event, payload)
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write(": ping\n\n")
}

func (c *SSEClient) write(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.closeLocked()
		return err
	}
	_, err := fmt.Fprintf(c.writer, format, args...)
	if err == nil {
		err = c.rc.Flush()
	}
	if err != nil {
		c.closeLocked()
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	_ = c.rc.SetWriteDeadline(time.Time{})
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once the stream stops accepting writes.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
