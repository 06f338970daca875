package provider

import "testing"

func TestWindowName_Grammar(t *testing.T) {
	tests := []struct {
		category Category
		feature  string
		label    string
		want     string
	}{
		{CategoryAgent, "checkout-flow", "Implement", "agent: checkout-flow-Implement"},
		{CategoryConsole, "billing", "", "console: billing"},
		{CategoryTest, "checkout-flow", "", "test: checkout-flow"},
		{CategoryPreRun, "billing", "", "prerun (billing)"},
		{CategoryBase, "", "myapp", "base - myapp"},
		// A per-feature base reuses the console grammar.
		{CategoryBase, "billing", "ignored", "console: billing"},
	}
	for _, tt := range tests {
		if got := WindowName(tt.category, tt.feature, tt.label); got != tt.want {
			t.Errorf("WindowName(%s, %q, %q) = %q, want %q", tt.category, tt.feature, tt.label, got, tt.want)
		}
	}
}

func TestWindowName_SanitizesFreeText(t *testing.T) {
	got := WindowName(CategoryAgent, "feat", "run; rm -rf\nall")
	want := "agent: feat-run, rm -rf all"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseWindowName_RoundTrips(t *testing.T) {
	tests := []struct {
		name string
		want WindowMeta
	}{
		{"agent: checkout-flow-Implement", WindowMeta{Category: CategoryAgent, FeatureKey: "checkout-flow", Label: "Implement"}},
		{"agent: simple-Fix", WindowMeta{Category: CategoryAgent, FeatureKey: "simple", Label: "Fix"}},
		{"console: billing", WindowMeta{Category: CategoryConsole, FeatureKey: "billing"}},
		{"test: checkout-flow", WindowMeta{Category: CategoryTest, FeatureKey: "checkout-flow"}},
		{"prerun (billing)", WindowMeta{Category: CategoryPreRun, FeatureKey: "billing"}},
		{"base - myapp", WindowMeta{Category: CategoryBase, Label: "myapp"}},
	}
	for _, tt := range tests {
		got, ok := ParseWindowName(tt.name)
		if !ok {
			t.Errorf("ParseWindowName(%q): not recognized", tt.name)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseWindowName(%q) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestParseWindowName_FeatureKeyTakesAllButLastDash(t *testing.T) {
	// Feature keys may contain dashes; the command label is everything
	// after the last one.
	got, ok := ParseWindowName("agent: multi-part-feature-Refactor")
	if !ok {
		t.Fatal("not recognized")
	}
	if got.FeatureKey != "multi-part-feature" || got.Label != "Refactor" {
		t.Errorf("got %+v", got)
	}
}

func TestParseWindowName_RejectsForeignNames(t *testing.T) {
	for _, name := range []string{
		"init",       // bootstrap placeholder
		"zsh",        // user-created window
		"vim foo.go", // user-created window
		"agentic: x", // near miss
		"",
	} {
		if meta, ok := ParseWindowName(name); ok {
			t.Errorf("ParseWindowName(%q) unexpectedly recognized as %+v", name, meta)
		}
	}
}

func TestHandleID_Format(t *testing.T) {
	if got := HandleID(7); got != "tmux-7" {
		t.Errorf("HandleID(7) = %q, want tmux-7", got)
	}
}

func TestSessionName_Derivation(t *testing.T) {
	if got := SessionName("my workspace/path"); got != "termkeeper-my-workspace-path" {
		t.Errorf("SessionName = %q", got)
	}
}
