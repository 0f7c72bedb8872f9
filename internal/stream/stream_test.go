package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nl2sqlgen-client/internal/models"
)

// wsServer is a minimal backend stand-in serving /ws/all. Each frame queued
// in frames is written to the first client that connects, then the server
// either closes the socket or holds it open.
type wsServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSServer(t *testing.T, frames []string, closeAfter bool) (*httptest.Server, *wsServer) {
	t.Helper()
	ws := &wsServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/all" {
			http.NotFound(w, r)
			return
		}
		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		if closeAfter {
			conn.Close()
			return
		}
		// Hold the socket open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, ws
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// collector gathers delivered events and errors for assertions
type collector struct {
	mu     sync.Mutex
	events []models.JobEvent
	errs   []error
}

func (c *collector) onEvent(ev models.JobEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) onErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func TestOpen(t *testing.T) {
	t.Run("Should deliver frames in arrival order", func(t *testing.T) {
		srv, _ := newWSServer(t, []string{
			`{"type":"log","level":"info","message":"first","timestamp":"2025-03-01T10:00:00"}`,
			`{"type":"progress","step":2,"total_steps":6,"step_name":"sampling tables","progress":33.3}`,
			`{"type":"log","level":"info","message":"second","timestamp":"2025-03-01T10:00:01"}`,
		}, false)

		client := NewClient(wsURL(srv), zap.NewNop())
		col := &collector{}

		conn, err := client.Open(col.onEvent, col.onErr)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return col.eventCount() == 3 }, time.Second, 5*time.Millisecond)

		col.mu.Lock()
		defer col.mu.Unlock()
		assert.Equal(t, models.EventLog, col.events[0].Type)
		assert.Equal(t, "first", col.events[0].Log.Message)
		assert.Equal(t, models.EventProgress, col.events[1].Type)
		assert.Equal(t, "sampling tables", col.events[1].Progress.StepName)
		assert.Equal(t, "second", col.events[2].Log.Message)
		assert.Zero(t, conn.Dropped())
	})

	t.Run("Should fail fast when the backend is not there", func(t *testing.T) {
		client := NewClient("ws://127.0.0.1:1", zap.NewNop())
		col := &collector{}

		_, err := client.Open(col.onEvent, col.onErr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to event stream")
		assert.Zero(t, col.errCount(), "dial failures are returned, not delivered")
	})

	t.Run("Should drop malformed frames without stopping delivery", func(t *testing.T) {
		srv, _ := newWSServer(t, []string{
			`{"type":"log","level":"info","message":"before","timestamp":"t"}`,
			`{{{not json`,
			`{"type":"teleport"}`,
			`{"type":"log","level":"info","message":"after","timestamp":"t"}`,
		}, false)

		client := NewClient(wsURL(srv), zap.NewNop())
		col := &collector{}

		conn, err := client.Open(col.onEvent, col.onErr)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return col.eventCount() == 2 }, time.Second, 5*time.Millisecond)

		col.mu.Lock()
		assert.Equal(t, "before", col.events[0].Log.Message)
		assert.Equal(t, "after", col.events[1].Log.Message)
		col.mu.Unlock()
		assert.Equal(t, int64(2), conn.Dropped())
	})

	t.Run("Should swallow pong frames", func(t *testing.T) {
		srv, _ := newWSServer(t, []string{
			`{"type":"pong"}`,
			`{"type":"log","level":"info","message":"real","timestamp":"t"}`,
		}, false)

		client := NewClient(wsURL(srv), zap.NewNop())
		col := &collector{}

		conn, err := client.Open(col.onEvent, col.onErr)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return col.eventCount() == 1 }, time.Second, 5*time.Millisecond)
		col.mu.Lock()
		assert.Equal(t, "real", col.events[0].Log.Message)
		col.mu.Unlock()
		assert.Zero(t, conn.Dropped(), "pong is a valid frame, not a malformed one")
	})
}

func TestTransportErrors(t *testing.T) {
	t.Run("Should report a server-side close exactly once", func(t *testing.T) {
		srv, _ := newWSServer(t, []string{
			`{"type":"log","level":"info","message":"only","timestamp":"t"}`,
		}, true)

		client := NewClient(wsURL(srv), zap.NewNop())
		col := &collector{}

		conn, err := client.Open(col.onEvent, col.onErr)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return col.errCount() == 1 }, time.Second, 5*time.Millisecond)

		// Give the pump a moment; the count must not grow
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, col.errCount())
		assert.Equal(t, 1, col.eventCount())
	})

	t.Run("Should not report an error for a local close", func(t *testing.T) {
		srv, _ := newWSServer(t, []string{
			`{"type":"log","level":"info","message":"hello","timestamp":"t"}`,
		}, false)

		client := NewClient(wsURL(srv), zap.NewNop())
		col := &collector{}

		conn, err := client.Open(col.onEvent, col.onErr)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return col.eventCount() == 1 }, time.Second, 5*time.Millisecond)

		conn.Close()
		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, col.errCount())
	})

	t.Run("Should tolerate repeated Close calls", func(t *testing.T) {
		srv, _ := newWSServer(t, nil, false)

		client := NewClient(wsURL(srv), zap.NewNop())
		conn, err := client.Open(func(models.JobEvent) {}, func(error) {})
		require.NoError(t, err)

		conn.Close()
		conn.Close()
		client.CloseCurrent()
	})
}

func TestSingleAttachment(t *testing.T) {
	t.Run("Should tear down the previous channel when reopening", func(t *testing.T) {
		srv, ws := newWSServer(t, nil, false)

		client := NewClient(wsURL(srv), zap.NewNop())

		first, err := client.Open(func(models.JobEvent) {}, func(error) {})
		require.NoError(t, err)

		second, err := client.Open(func(models.JobEvent) {}, func(error) {})
		require.NoError(t, err)
		defer second.Close()

		assert.True(t, first.closed.Load(), "first channel must be closed before the second opens")
		assert.False(t, second.closed.Load())

		require.Eventually(t, func() bool {
			ws.mu.Lock()
			defer ws.mu.Unlock()
			return len(ws.conns) == 2
		}, time.Second, 5*time.Millisecond)
	})
}
