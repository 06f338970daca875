package events

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

const defaultMaxPayloadBytes = 8 * 1024

// Publisher emits lifecycle events as JSON datagrams on a unix socket.
// Delivery is fire-and-forget: a consumer that is absent or slow must
// never block or fail terminal management, so every send error beyond
// validation is swallowed after recording the event locally.
type Publisher struct {
	store *Store
	path  string

	MaxPayloadBytes int

	mu     sync.Mutex
	conn   *net.UnixConn
	closed bool
}

// NewPublisher creates a Publisher targeting socketPath. The store
// (optional) keeps a local TTL-bounded copy of everything published.
func NewPublisher(store *Store, socketPath string) *Publisher {
	return &Publisher{
		store:           store,
		path:            socketPath,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
}

func (p *Publisher) SocketPath() string {
	return p.path
}

// Publish records the event in the store and sends it to the socket.
// Validation errors are returned; delivery failures are not.
func (p *Publisher) Publish(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if p.store != nil {
		p.store.Upsert(e)
	}
	if p.path == "" {
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(payload) >= p.MaxPayloadBytes {
		return fmt.Errorf("event payload exceeds %d bytes", p.MaxPayloadBytes)
	}

	conn, err := p.dial()
	if err != nil {
		// No consumer listening. The store already has the event.
		return nil
	}
	_, err = conn.Write(payload)
	if err != nil {
		// Consumer vanished between dial and write: drop the cached
		// connection so the next publish redials.
		p.mu.Lock()
		if p.conn == conn {
			_ = p.conn.Close()
			p.conn = nil
		}
		p.mu.Unlock()
	}
	return nil
}

// dial returns the cached datagram connection, establishing it on first
// use.
func (p *Publisher) dial() (*net.UnixConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("publisher closed")
	}
	if p.conn != nil {
		return p.conn, nil
	}
	addr, err := net.ResolveUnixAddr("unixgram", p.path)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// Close releases the socket connection. Idempotent.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
