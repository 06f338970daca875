package control

import "strings"

// Kind discriminates control-mode events.
type Kind int

const (
	// KindWindowAdd: a window appeared in some session.
	KindWindowAdd Kind = iota
	// KindWindowClose: a window was destroyed.
	KindWindowClose
	// KindWindowRenamed: a window's name changed.
	KindWindowRenamed
	// KindOutput: a pane produced bytes. Used purely as an activity
	// signal; the payload is not interpreted.
	KindOutput
	// KindLayoutChange: a window's pane layout changed.
	KindLayoutChange
	// KindSessionChanged: the attached client switched sessions.
	KindSessionChanged
	// KindSessionRenamed: the session was renamed.
	KindSessionRenamed
	// KindSessionsChanged: the server's session set changed.
	KindSessionsChanged
	// KindClientSessionChanged: another client switched sessions.
	KindClientSessionChanged
	// KindSessionClosed: the attached session went away (%exit).
	KindSessionClosed
)

func (k Kind) String() string {
	switch k {
	case KindWindowAdd:
		return "window-add"
	case KindWindowClose:
		return "window-close"
	case KindWindowRenamed:
		return "window-renamed"
	case KindOutput:
		return "output"
	case KindLayoutChange:
		return "layout-change"
	case KindSessionChanged:
		return "session-changed"
	case KindSessionRenamed:
		return "session-renamed"
	case KindSessionsChanged:
		return "sessions-changed"
	case KindClientSessionChanged:
		return "client-session-changed"
	case KindSessionClosed:
		return "session-closed"
	}
	return "unknown"
}

// Event is one decoded control-mode notification. Ephemeral: consumed
// on the tick it is emitted, never retained.
type Event struct {
	Kind Kind
	// WindowID is the tmux window ID ("@3") for window events.
	WindowID string
	// PaneID is the tmux pane ID ("%5") for output events.
	PaneID string
	// Name is the new name for rename events.
	Name string
	// Data is the raw payload for output events.
	Data string
}

// ParseLine decodes one control-mode line. Returns ok=false for lines
// that are not notifications (command replies between %begin/%end) and
// for unrecognized notification names — callers log and skip those,
// they are never fatal.
//
// Notification lines start with "%" followed by the event name and
// space-delimited fields; the final field may contain embedded spaces
// and is taken as the remainder of the line.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "%") {
		return Event{}, false
	}
	name, rest, _ := strings.Cut(line[1:], " ")

	switch name {
	case "window-add", "unlinked-window-add":
		return Event{Kind: KindWindowAdd, WindowID: firstField(rest)}, true
	case "window-close", "unlinked-window-close":
		return Event{Kind: KindWindowClose, WindowID: firstField(rest)}, true
	case "window-renamed", "unlinked-window-renamed":
		id, newName, _ := strings.Cut(rest, " ")
		return Event{Kind: KindWindowRenamed, WindowID: id, Name: newName}, true
	case "output":
		// "%output %pane data..." — data is the line remainder and may
		// contain spaces and octal escapes. Not decoded: only the fact
		// of output matters.
		pane, data, _ := strings.Cut(rest, " ")
		return Event{Kind: KindOutput, PaneID: pane, Data: data}, true
	case "layout-change":
		return Event{Kind: KindLayoutChange, WindowID: firstField(rest)}, true
	case "session-changed":
		return Event{Kind: KindSessionChanged}, true
	case "session-renamed":
		return Event{Kind: KindSessionRenamed, Name: rest}, true
	case "sessions-changed":
		return Event{Kind: KindSessionsChanged}, true
	case "client-session-changed":
		return Event{Kind: KindClientSessionChanged}, true
	case "exit":
		return Event{Kind: KindSessionClosed}, true
	case "begin", "end", "error":
		// Command reply framing; replies themselves are not events.
		return Event{}, false
	}
	return Event{}, false
}

func firstField(s string) string {
	f, _, _ := strings.Cut(s, " ")
	return f
}
