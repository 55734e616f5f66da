package broker

import (
	"athena/internal/ws"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/server"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		_ = server.Serve(l)
	}()
	return l.Addr().String()
}

func tcpClient(t *testing.T, addr string) (*Client, net.Conn) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c, err := NewClient(context.Background(), conn, Config{Host: "localhost"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, conn
}

func next(t *testing.T, s ws.Stream) []byte {
	t.Helper()
	select {
	case body, ok := <-s.C():
		require.True(t, ok, "stream closed")
		return body
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
	return nil
}

func TestClient_SubscribePublish(t *testing.T) {
	c, _ := tcpClient(t, startServer(t))

	s, err := c.Subscribe("/topic/chats/1")
	require.NoError(t, err)

	require.NoError(t, c.Publish("/topic/chats/1", []byte(`{"id":1,"conteudo":"oi"}`)))
	require.JSONEq(t, `{"id":1,"conteudo":"oi"}`, string(next(t, s)))

	require.NoError(t, s.Unsubscribe())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// Second call is a no-op.
	require.NoError(t, s.Unsubscribe())
}

func TestClient_TransportDrop(t *testing.T) {
	c, conn := tcpClient(t, startServer(t))

	s, err := c.Subscribe("/topic/users/7")
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drop not detected")
	}
	require.Error(t, c.Err())
	require.ErrorIs(t, c.Publish("/topic/users/7", []byte(`{}`)), ws.ErrNotConnected)

	_, err = c.Subscribe("/topic/users/8")
	require.ErrorIs(t, err, ws.ErrNotConnected)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_Close(t *testing.T) {
	c, _ := tcpClient(t, startServer(t))

	require.NoError(t, c.Close())
	<-c.Done()
	require.NoError(t, c.Err())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Publish("/topic/chats/1", nil), ws.ErrNotConnected)
}

// frame is the command and headers of one STOMP frame.
type frame struct {
	command string
	headers map[string]string
	body    string
}

func parseFrame(raw []byte) frame {
	raw = bytes.TrimLeft(raw, "\r\n")
	raw = bytes.TrimRight(raw, "\x00")
	head, body, _ := strings.Cut(string(raw), "\n\n")
	lines := strings.Split(head, "\n")
	f := frame{command: lines[0], headers: make(map[string]string), body: body}
	for _, line := range lines[1:] {
		k, v, _ := strings.Cut(line, ":")
		f.headers[k] = v
	}
	return f
}

// fakeBroker answers CONNECT and DISCONNECT on a WebSocket and records
// every other frame.
func fakeBroker(t *testing.T, frames chan<- frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: subprotocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/websocket" {
			http.NotFound(w, r)
			return
		}
		if c, err := r.Cookie("JSESSIONID"); err != nil || c.Value != "abc" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			f := parseFrame(raw)
			switch f.command {
			case "CONNECT", "STOMP":
				_ = conn.WriteMessage(websocket.TextMessage, []byte("CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"))
			case "DISCONNECT":
				_ = conn.WriteMessage(websocket.TextMessage, []byte("RECEIPT\nreceipt-id:"+f.headers["receipt"]+"\n\n\x00"))
			default:
				frames <- f
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDial_OverWebSocket(t *testing.T) {
	frames := make(chan frame, 8)
	srv := fakeBroker(t, frames)

	header := http.Header{}
	header.Set("Cookie", "JSESSIONID=abc")
	c, err := Dial(context.Background(), Config{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/websocket",
		Header: header,
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Publish("/app/chats/3/send", []byte(`{"conteudo":"ola"}`)))

	select {
	case f := <-frames:
		require.Equal(t, "SEND", f.command)
		require.Equal(t, "/app/chats/3/send", f.headers["destination"])
		require.Equal(t, "application/json", f.headers["content-type"])
		require.Equal(t, `{"conteudo":"ola"}`, f.body)
	case <-time.After(2 * time.Second):
		t.Fatal("SEND frame not received")
	}
}

func TestDial_HandshakeRejected(t *testing.T) {
	srv := fakeBroker(t, make(chan frame))

	_, err := Dial(context.Background(), Config{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/websocket",
	})
	require.ErrorContains(t, err, "403")
}

func TestDial_ContextCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	// Accepts the connection and never answers CONNECT.
	go func() {
		conn, err := l.Accept()
		if err == nil {
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 1024))
			time.Sleep(time.Second)
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = NewClient(ctx, conn, Config{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient_SilentBrokerLeavesManagerDisconnected(t *testing.T) {
	var (
		mu    sync.Mutex
		peers []net.Conn
	)
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range peers {
			p.Close()
		}
	})

	dials := 0
	m := ws.NewManager(ws.Config{
		Dial: func(ctx context.Context) (ws.Broker, error) {
			client, server := net.Pipe()
			mu.Lock()
			dials++
			peers = append(peers, server)
			mu.Unlock()
			// Drain CONNECT and never answer.
			go func() { _, _ = io.Copy(io.Discard, server) }()
			return NewClient(ctx, client, Config{HandshakeTimeout: 50 * time.Millisecond})
		},
	})
	defer m.Disconnect()

	err := m.Connect(context.Background())
	var connErr *ws.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, ws.StateDisconnected, m.State())

	require.Error(t, m.Connect(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, dials)
}
