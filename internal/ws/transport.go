package ws

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected to the message broker")
	ErrDisconnected = errors.New("disconnected while connecting")
)

// Broker is a live session with the publish/subscribe message broker.
type Broker interface {
	Subscribe(destination string) (Stream, error)
	Publish(destination string, body []byte) error
	// Done is closed when the transport drops.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Stream delivers the frame bodies of one broker subscription.
// C is closed when the subscription ends.
type Stream interface {
	C() <-chan []byte
	Unsubscribe() error
}

// DialFunc opens a new broker session. It must return only after the
// broker acknowledged the session.
type DialFunc func(ctx context.Context) (Broker, error)

// ConnectionError reports a failed handshake or a transport error before
// the broker acknowledged the session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
