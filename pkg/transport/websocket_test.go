package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServer starts a WebSocket server running handler for every upgrade.
func newServer(t *testing.T, protocols []string, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: protocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) (Conn, error) {
	t.Helper()
	d, err := NewWebSocketDialer(Config{URL: url})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.Dial(ctx)
}

func TestWebSocketSendReceive(t *testing.T) {
	url := newServer(t, []string{"statsync.v1"}, func(ws *websocket.Conn) {
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	conn, err := dial(t, url)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte{0xa1, 0x01, 0x02}))
	got, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa1, 0x01, 0x02}, got)
	assert.NotEmpty(t, conn.RemoteAddr())
}

func TestWebSocketCloseClassification(t *testing.T) {
	t.Run("clean close", func(t *testing.T) {
		url := newServer(t, nil, func(ws *websocket.Conn) {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_, _, _ = ws.ReadMessage()
		})
		conn, err := dial(t, url)
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Receive()
		require.Error(t, err)
		info := Classify(err)
		assert.True(t, info.Clean)
		assert.Equal(t, websocket.CloseGoingAway, info.Code)
		assert.Equal(t, "restart", info.Reason)
	})

	t.Run("error close", func(t *testing.T) {
		url := newServer(t, nil, func(ws *websocket.Conn) {
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		})
		conn, err := dial(t, url)
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Receive()
		info := Classify(err)
		assert.False(t, info.Clean)
		assert.Equal(t, websocket.CloseInternalServerErr, info.Code)
	})
}

func TestWebSocketRejectsOtherMajor(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := http.Header{"Sec-Websocket-Protocol": {"statsync.v2"}}
		ws, err := upgrader.Upgrade(w, r, hdr)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	_, err := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
}

func TestWebSocketWithoutSubprotocol(t *testing.T) {
	url := newServer(t, nil, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := dial(t, url)
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestNewWebSocketDialerRequiresURL(t *testing.T) {
	_, err := NewWebSocketDialer(Config{})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.True(t, Classify(nil).Clean)
	assert.True(t, Classify(ErrClosed).Clean)

	info := Classify(errors.New("connection reset by peer"))
	assert.False(t, info.Clean)
	assert.Equal(t, websocket.CloseAbnormalClosure, info.Code)
}

func TestDialerFunc(t *testing.T) {
	called := false
	var d Dialer = DialerFunc(func(ctx context.Context) (Conn, error) {
		called = true
		return nil, ErrClosed
	})
	_, err := d.Dial(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, called)
}
