package provider

import (
	"fmt"
	"strings"

	"github.com/timvw/termkeeper/internal/tmux"
)

// Category classifies what a terminal is for.
type Category string

const (
	// CategoryAgent is an interactive coding-agent terminal.
	CategoryAgent Category = "agent"
	// CategoryConsole is a free-form console for a feature.
	CategoryConsole Category = "console"
	// CategoryTest is a test-runner terminal.
	CategoryTest Category = "test"
	// CategoryPreRun is a pre-run setup terminal.
	CategoryPreRun Category = "prerun"
	// CategoryBase is the fallback/default terminal for a scope.
	CategoryBase Category = "base"
)

// WindowMeta is the semantic metadata recovered from a window name.
type WindowMeta struct {
	Category   Category
	FeatureKey string
	// Label is the trailing free-text part where the grammar has one
	// (the command label of an agent window, the app name of a base
	// window).
	Label string
}

// WindowName encodes terminal metadata into a window name. The name is
// the only channel that survives a host restart, so the grammar is
// load-bearing: ParseWindowName must invert this exactly.
func WindowName(category Category, featureKey, label string) string {
	featureKey = tmux.SanitizeText(featureKey)
	label = tmux.SanitizeText(label)
	switch category {
	case CategoryAgent:
		return fmt.Sprintf("agent: %s-%s", featureKey, label)
	case CategoryConsole:
		return fmt.Sprintf("console: %s", featureKey)
	case CategoryTest:
		return fmt.Sprintf("test: %s", featureKey)
	case CategoryPreRun:
		return fmt.Sprintf("prerun (%s)", featureKey)
	case CategoryBase:
		if featureKey != "" {
			// Per-feature base: reuse the console grammar so restart
			// recovery attributes it to the feature.
			return fmt.Sprintf("console: %s", featureKey)
		}
		return fmt.Sprintf("base - %s", label)
	}
	return label
}

// ParseWindowName recovers terminal metadata from a window name.
// Returns ok=false for the reserved bootstrap placeholder and for names
// outside the grammar (windows the user created by hand are not ours to
// manage).
func ParseWindowName(name string) (WindowMeta, bool) {
	if name == tmux.PlaceholderWindow {
		return WindowMeta{}, false
	}

	switch {
	case strings.HasPrefix(name, "agent: "):
		rest := strings.TrimPrefix(name, "agent: ")
		// Feature keys may themselves contain dashes: the command
		// label is everything after the last dash.
		idx := strings.LastIndex(rest, "-")
		if idx <= 0 {
			return WindowMeta{Category: CategoryAgent, FeatureKey: rest}, true
		}
		return WindowMeta{
			Category:   CategoryAgent,
			FeatureKey: rest[:idx],
			Label:      rest[idx+1:],
		}, true

	case strings.HasPrefix(name, "console: "):
		return WindowMeta{
			Category:   CategoryConsole,
			FeatureKey: strings.TrimPrefix(name, "console: "),
		}, true

	case strings.HasPrefix(name, "test: "):
		return WindowMeta{
			Category:   CategoryTest,
			FeatureKey: strings.TrimPrefix(name, "test: "),
		}, true

	case strings.HasPrefix(name, "prerun (") && strings.HasSuffix(name, ")"):
		return WindowMeta{
			Category:   CategoryPreRun,
			FeatureKey: strings.TrimSuffix(strings.TrimPrefix(name, "prerun ("), ")"),
		}, true

	case strings.HasPrefix(name, "base - "):
		return WindowMeta{
			Category: CategoryBase,
			Label:    strings.TrimPrefix(name, "base - "),
		}, true
	}

	return WindowMeta{}, false
}
