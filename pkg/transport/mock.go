package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/yanun0323/errors"
)

// MockDialer hands out in-memory connections. It backs tests and the demo
// client's offline mode; dial failures and peer behavior are scripted by the
// caller.
type MockDialer struct {
	mu        sync.Mutex
	conns     []*MockConn
	failNext  int
	dialBlock chan struct{}
}

// NewMockDialer creates a dialer whose dials always succeed until scripted.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// FailNext makes the next n dials fail.
func (d *MockDialer) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// BlockNext makes the next dial hang until the returned func is called or the
// dial context ends. Used to exercise connect timeouts.
func (d *MockDialer) BlockNext() func() {
	release := make(chan struct{})
	d.mu.Lock()
	d.dialBlock = release
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

// Dial returns a fresh in-memory connection.
func (d *MockDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	block := d.dialBlock
	d.dialBlock = nil
	if block == nil && d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		return nil, errors.New("mock dial refused")
	}
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn := newMockConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// DialCount reports how many dials succeeded.
func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// LastConn returns the most recently dialed connection, or nil.
func (d *MockDialer) LastConn() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type inboundFrame struct {
	data []byte
	err  error
}

// MockConn is the client end of a scripted in-memory connection.
type MockConn struct {
	mu      sync.Mutex
	inbound chan inboundFrame
	writes  [][]byte
	closed  bool
}

func newMockConn() *MockConn {
	return &MockConn{inbound: make(chan inboundFrame, 64)}
}

func (c *MockConn) ReadMessage() ([]byte, error) {
	frame, ok := <-c.inbound
	if !ok {
		return nil, ErrMockConnDone
	}
	return frame.data, frame.err
}

func (c *MockConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrMockConnDone
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

// Close is the client-initiated close; the mock peer acknowledges it by
// ending the read loop with a clean close frame.
func (c *MockConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.inbound <- inboundFrame{err: &CloseError{Code: code, Reason: reason}}
	return nil
}

// Inject delivers a frame as if the backend sent it.
func (c *MockConn) Inject(data []byte) {
	c.inbound <- inboundFrame{data: append([]byte(nil), data...)}
}

// CloseFromServer simulates the backend closing with a close frame.
func (c *MockConn) CloseFromServer(code int, reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inbound <- inboundFrame{err: &CloseError{Code: code, Reason: reason}}
}

// Drop simulates an abnormal connection loss with no close frame.
func (c *MockConn) Drop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inbound <- inboundFrame{err: errors.New("mock connection dropped")}
}

// FailWrites makes every subsequent WriteMessage fail.
func (c *MockConn) FailWrites() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Writes returns a copy of every frame written by the client so far.
func (c *MockConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// ErrMockConnDone reports i/o on a finished mock connection.
var ErrMockConnDone = errors.New("mock connection done")
