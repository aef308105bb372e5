package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestSocket dials a throwaway websocket server and reports the first read
// error its handler observes, so tests can tell when the peer closed.
func dialTestSocket(t *testing.T) (*websocket.Conn, chan error) {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	readErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			readErr <- err
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return ws, readErr
}

func TestAttachRefusedAfterDisconnect(t *testing.T) {
	ws, readErr := dialTestSocket(t)

	c := NewConn(ConnConfig{URL: "ws://unused"}, zerolog.Nop())
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	// A Disconnect that lands mid-dial must win: the late socket is refused.
	require.False(t, c.attach(ws))

	c.mu.Lock()
	assert.Nil(t, c.ws)
	assert.Equal(t, StatusDisconnected, c.state)
	c.mu.Unlock()

	select {
	case err := <-readErr:
		require.Error(t, err, "the refused socket must be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the refused socket close")
	}
}

func TestAttachStartsPumps(t *testing.T) {
	ws, _ := dialTestSocket(t)

	c := NewConn(ConnConfig{URL: "ws://unused"}, zerolog.Nop())
	require.True(t, c.attach(ws))

	c.mu.Lock()
	assert.Equal(t, StatusConnected, c.state)
	c.mu.Unlock()

	c.Disconnect()
}
