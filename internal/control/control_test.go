package control

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

// scriptAttacher ignores the tmux arguments and runs a shell script in
// place of the control-mode attachment.
type scriptAttacher struct {
	script string
}

func (s *scriptAttacher) Command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", s.script)
}

func collect(t *testing.T, m *Manager, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for event stream to close; got %v", got)
		}
	}
}

func TestManager_DecodesStream(t *testing.T) {
	script := `printf '%%begin 1 1 0\n'
printf 'reply line\n'
printf '%%end 1 1 0\n'
printf '%%window-add @4\n'
printf '%%output %%2 hello world\n'
printf '%%window-close @4\n'`
	m := New(&scriptAttacher{script: script}, "work", nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := collect(t, m, 5*time.Second)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(got), got)
	}
	if got[0].Kind != KindWindowAdd || got[0].WindowID != "@4" {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if got[1].Kind != KindOutput || got[1].Data != "hello world" {
		t.Errorf("unexpected output event %+v", got[1])
	}
	if got[2].Kind != KindWindowClose {
		t.Errorf("unexpected last event %+v", got[2])
	}
}

func TestManager_StreamEndReportsTermination(t *testing.T) {
	m := New(&scriptAttacher{script: "printf '%%window-add @1\n'"}, "work", nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	collect(t, m, 5*time.Second)

	select {
	case err := <-m.Done():
		var terminated *ErrStreamTerminated
		if !errors.As(err, &terminated) {
			t.Fatalf("expected ErrStreamTerminated for unplanned exit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Done")
	}
}

func TestManager_StopIsClean(t *testing.T) {
	// Script blocks after its output so only Stop can end it.
	m := New(&scriptAttacher{script: "printf '%%window-add @1\n'; exec sleep 60"}, "work", nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the first event so the reader is known to be running.
	select {
	case <-m.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	m.Stop()
	m.Stop() // idempotent

	select {
	case err := <-m.Done():
		if err != nil {
			t.Fatalf("expected clean shutdown after Stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Done after Stop")
	}
}
