// Package broker speaks STOMP 1.2 to the chat backend's message broker over
// a WebSocket.
package broker

import (
	"athena/internal/ws"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

const (
	jsonContentType     = "application/json"
	defaultHandshake    = 10 * time.Second
	unsubscribeDeadline = 2 * time.Second
	disconnectDeadline  = 2 * time.Second
	streamBuffer        = 16
)

var (
	errTransportClosed    = errors.New("transport closed")
	errUnsubscribeTimeout = errors.New("unsubscribe timed out")
)

var subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

type Config struct {
	URL    string
	Header http.Header
	Jar    http.CookieJar
	// HeartBeat is used for both directions. Zero disables heart-beating.
	HeartBeat        time.Duration
	Host             string
	Login            string
	Passcode         string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Client is one STOMP session. It implements ws.Broker.
type Client struct {
	conn    *stomp.Conn
	rwc     *watchedConn
	log     *slog.Logger
	closing atomic.Bool
	once    sync.Once
}

var _ ws.Broker = (*Client)(nil)

// Dial performs the WebSocket handshake followed by the STOMP CONNECT.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.handshakeTimeout(),
		Subprotocols:     subprotocols,
		Jar:              cfg.Jar,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}

	if cfg.Host == "" {
		cfg.Host = u.Hostname()
	}

	c, err := connect(ctx, newWSConn(conn), cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (cfg Config) handshakeTimeout() time.Duration {
	if cfg.HandshakeTimeout <= 0 {
		return defaultHandshake
	}
	return cfg.HandshakeTimeout
}

// NewClient runs the STOMP CONNECT over an already established stream.
// A broker that does not answer within the handshake timeout fails it.
func NewClient(ctx context.Context, rwc io.ReadWriteCloser, cfg Config) (*Client, error) {
	return connect(ctx, rwc, cfg)
}

func connect(ctx context.Context, rwc io.ReadWriteCloser, cfg Config) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(cfg.HeartBeat, cfg.HeartBeat),
	}
	if cfg.Host != "" {
		opts = append(opts, stomp.ConnOpt.Host(cfg.Host))
	}
	if cfg.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(cfg.Login, cfg.Passcode))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.handshakeTimeout())
	defer cancel()

	watched := watch(rwc)
	// Abort a CONNECT the broker never answers.
	stop := context.AfterFunc(ctx, func() {
		_ = watched.Close()
	})
	conn, err := stomp.Connect(watched, opts...)
	if !stop() {
		if err == nil {
			_ = conn.MustDisconnect()
		}
		return nil, fmt.Errorf("stomp connect: %w", ctx.Err())
	}
	if err != nil {
		_ = watched.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	c := &Client{
		conn: conn,
		rwc:  watched,
		log:  log.With("component", "broker"),
	}
	c.log.Debug("stomp session established", "server", conn.Server(), "version", conn.Version().String())
	return c, nil
}

func (c *Client) Subscribe(destination string) (ws.Stream, error) {
	if c.closed() {
		return nil, ws.ErrNotConnected
	}
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}
	s := &stream{
		sub:  sub,
		out:  make(chan []byte, streamBuffer),
		stop: make(chan struct{}),
		done: c.rwc.done,
		log:  c.log,
	}
	go s.forward()
	return s, nil
}

func (c *Client) Publish(destination string, body []byte) error {
	if c.closed() {
		return ws.ErrNotConnected
	}
	if err := c.conn.Send(destination, jsonContentType, body); err != nil {
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

// Done is closed when the transport drops or the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.rwc.done
}

// Err reports why the transport dropped. It is nil after Close.
func (c *Client) Err() error {
	if c.closing.Load() {
		return nil
	}
	return c.rwc.Err()
}

// Close sends DISCONNECT and closes the socket.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.closing.Store(true)
		if c.closed() {
			err = c.rwc.Close()
			return
		}
		derr := make(chan error, 1)
		go func() {
			derr <- c.conn.Disconnect()
		}()
		select {
		case e := <-derr:
			if e != nil {
				c.log.Debug("disconnect failed", "error", e)
			}
		case <-time.After(disconnectDeadline):
			c.log.Debug("disconnect receipt timed out")
		}
		if cerr := c.rwc.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.rwc.done:
		return true
	default:
		return false
	}
}

type stream struct {
	sub  *stomp.Subscription
	out  chan []byte
	stop chan struct{}
	done <-chan struct{}
	log  *slog.Logger
	once sync.Once
}

func (s *stream) C() <-chan []byte {
	return s.out
}

func (s *stream) forward() {
	defer func() {
		close(s.out)
		// Keep draining so the connection's reader never blocks on us.
		for range s.sub.C {
		}
	}()

	for {
		select {
		case msg, ok := <-s.sub.C:
			if !ok {
				return
			}
			if msg.Err != nil {
				s.log.Warn("subscription error", "destination", s.sub.Destination(), "error", msg.Err)
				return
			}
			select {
			case s.out <- msg.Body:
			case <-s.stop:
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *stream) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.stop)

		select {
		case <-s.done:
			return
		default:
		}

		errc := make(chan error, 1)
		go func() {
			errc <- s.sub.Unsubscribe()
		}()
		select {
		case err = <-errc:
			if errors.Is(err, stomp.ErrCompletedSubscription) {
				err = nil
			}
		case <-time.After(unsubscribeDeadline):
			err = errUnsubscribeTimeout
		}
	})
	return err
}
