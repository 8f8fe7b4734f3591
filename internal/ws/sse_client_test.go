package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// deadlineWriter records the write deadlines set through a
// ResponseController.
type deadlineWriter struct {
	*httptest.ResponseRecorder
	deadlines  []time.Time
	atWrite    time.Time
	failWrites bool
}

func (d *deadlineWriter) SetWriteDeadline(t time.Time) error {
	d.deadlines = append(d.deadlines, t)
	return nil
}

func (d *deadlineWriter) Write(p []byte) (int, error) {
	if len(d.deadlines) > 0 {
		d.atWrite = d.deadlines[len(d.deadlines)-1]
	}
	if d.failWrites {
		return 0, os.ErrDeadlineExceeded
	}
	return d.ResponseRecorder.Write(p)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSSEClientFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, discardLogger())

	if err := client.SendEvent("update", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("send event: %v", err)
	}
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got, want := rec.Body.String(), "event: update\ndata: {\"a\":1}\n\n: ping\n\n"; got != want {
		t.Fatalf("unexpected frames %q", got)
	}
	if !rec.Flushed {
		t.Fatalf("expected frames to be flushed")
	}

	client.Close()
	if err := client.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	select {
	case <-client.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
}

func TestSSEClientBoundsEachWrite(t *testing.T) {
	w := &deadlineWriter{ResponseRecorder: httptest.NewRecorder()}
	client := NewSSEClient(w, discardLogger())

	before := time.Now()
	if err := client.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !w.atWrite.After(before) {
		t.Fatalf("expected a future write deadline during the write, got %v", w.atWrite)
	}
	if last := w.deadlines[len(w.deadlines)-1]; !last.IsZero() {
		t.Fatalf("expected the deadline to be cleared after the write, got %v", last)
	}

	w.failWrites = true
	if err := client.Send([]byte("y")); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected a timed out stream to close")
	}
}

var _ http.ResponseWriter = (*deadlineWriter)(nil)
