package events

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func listenDatagram(t *testing.T, socketPath string) *net.UnixConn {
	t.Helper()
	addr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		t.Fatalf("resolve unix addr: %v", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPublisher_DeliversEvent(t *testing.T) {
	socketPath := shortSocketPath(t)
	conn := listenDatagram(t, socketPath)

	store := NewStore(5 * time.Minute)
	p := NewPublisher(store, socketPath)
	defer p.Close()

	sent := Event{Backend: "tmux", TerminalID: "tmux-3", Feature: "checkout-flow", Type: TypeActivity, TS: time.Now().UTC()}
	if err := p.Publish(sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 8*1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}

	var got Event
	if err := json.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal datagram: %v", err)
	}
	if got.TerminalID != "tmux-3" || got.Type != TypeActivity {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestPublisher_RecordsInStore(t *testing.T) {
	now := time.Now().UTC()
	store := NewStore(5 * time.Minute)
	// No socket: publish still records locally.
	p := NewPublisher(store, "")
	defer p.Close()

	if err := p.Publish(Event{Backend: "tmux", TerminalID: "tmux-1", Type: TypeCreated, TS: now}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := len(store.Snapshot(now)); got != 1 {
		t.Fatalf("expected 1 stored event, got %d", got)
	}
}

func TestPublisher_RejectsInvalidEvent(t *testing.T) {
	p := NewPublisher(NewStore(time.Minute), "")
	defer p.Close()

	if err := p.Publish(Event{Backend: "tmux", TerminalID: "tmux-1", Type: "nonsense", TS: time.Now().UTC()}); err == nil {
		t.Fatalf("expected validation error for invalid type")
	}
}

func TestPublisher_MissingConsumerIsNotAnError(t *testing.T) {
	// Socket path exists in no filesystem: delivery must degrade to a
	// local record, not an error.
	store := NewStore(5 * time.Minute)
	p := NewPublisher(store, filepath.Join(os.TempDir(), "termkeeper-test-nonexistent.sock"))
	defer p.Close()

	now := time.Now().UTC()
	if err := p.Publish(Event{Backend: "tmux", TerminalID: "tmux-1", Type: TypeIdle, TS: now}); err != nil {
		t.Fatalf("publish without consumer: %v", err)
	}
	if got := len(store.Snapshot(now)); got != 1 {
		t.Fatalf("expected 1 stored event, got %d", got)
	}
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	base := filepath.Join(os.TempDir(), "tk-events")
	if err := os.MkdirAll(base, 0o700); err != nil {
		t.Fatalf("mkdir temp base: %v", err)
	}
	p := filepath.Join(base, fmt.Sprintf("%d-%d.sock", time.Now().UnixNano(), os.Getpid()))
	t.Cleanup(func() {
		_ = os.Remove(p)
	})
	return p
}
