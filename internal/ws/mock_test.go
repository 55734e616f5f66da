package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type mockStream struct {
	dest         string
	ch           chan []byte
	unsubscribed atomic.Bool
	once         sync.Once
}

func (s *mockStream) C() <-chan []byte {
	return s.ch
}

func (s *mockStream) Unsubscribe() error {
	s.unsubscribed.Store(true)
	s.end()
	return nil
}

func (s *mockStream) end() {
	s.once.Do(func() { close(s.ch) })
}

type mockBroker struct {
	mu        sync.Mutex
	streams   []*mockStream
	published map[string][][]byte
	done      chan struct{}
	dropOnce  sync.Once
	closed    atomic.Bool
	err       error
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		published: make(map[string][][]byte),
		done:      make(chan struct{}),
	}
}

func (b *mockBroker) Subscribe(destination string) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &mockStream{dest: destination, ch: make(chan []byte, 10)}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *mockBroker) Publish(destination string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[destination] = append(b.published[destination], body)
	return nil
}

func (b *mockBroker) Done() <-chan struct{} {
	return b.done
}

func (b *mockBroker) Err() error {
	return b.err
}

func (b *mockBroker) Close() error {
	b.closed.Store(true)
	b.drop(nil)
	return nil
}

func (b *mockBroker) drop(err error) {
	b.dropOnce.Do(func() {
		b.err = err
		close(b.done)
	})
}

// stream returns the most recent stream for destination.
func (b *mockBroker) stream(destination string) *mockStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.streams) - 1; i >= 0; i-- {
		if b.streams[i].dest == destination {
			return b.streams[i]
		}
	}
	return nil
}

func (b *mockBroker) publishedTo(destination string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[destination]
}

// mockDialer hands out brokers from a queue; nil entries fail the dial.
type mockDialer struct {
	mu      sync.Mutex
	brokers []*mockBroker
	dials   atomic.Int32
	gate    chan struct{}
}

func (d *mockDialer) push(b *mockBroker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brokers = append(d.brokers, b)
}

func (d *mockDialer) Dial(ctx context.Context) (Broker, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.brokers) == 0 {
		return nil, errors.New("connection refused")
	}
	b := d.brokers[0]
	d.brokers = d.brokers[1:]
	if b == nil {
		return nil, errors.New("handshake rejected")
	}
	return b, nil
}
