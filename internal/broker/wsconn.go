package broker

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWait = time.Second

// wsConn exposes a WebSocket as the byte stream STOMP frames are read from
// and written to. Every Write becomes one text message.
type wsConn struct {
	ws *websocket.Conn
	r  io.Reader

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// watchedConn closes done on the first read error or close.
type watchedConn struct {
	io.ReadWriteCloser

	once sync.Once
	done chan struct{}
	err  error
}

func watch(rwc io.ReadWriteCloser) *watchedConn {
	return &watchedConn{ReadWriteCloser: rwc, done: make(chan struct{})}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.ReadWriteCloser.Read(p)
	if err != nil {
		w.fail(err)
	}
	return n, err
}

func (w *watchedConn) Close() error {
	w.fail(errTransportClosed)
	return w.ReadWriteCloser.Close()
}

func (w *watchedConn) fail(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

func (w *watchedConn) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}
