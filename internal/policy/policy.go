// https://github.com/relaysync/core

// Package policy implements the longest-prefix retry policy selection
// consulted by the Sync Worker on ItemAbsent.
package policy

import (
	"sort"
	"strings"
	"time"

	"github.com/relaysync/core/internal/config"
)

// Rule is one resolved (prefix, max_attempts, delay) policy.
// MaxAttempts = -1 means unbounded.
type Rule struct {
	Prefix      string
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRule is returned when no configured prefix matches a path:
// fail immediately on ItemAbsent.
var DefaultRule = Rule{MaxAttempts: 0, Delay: 0}

// Engine holds an immutable set of prefix rules, longest first, built
// once at startup from configuration.
type Engine struct {
	rules []Rule
}

// New builds an Engine from the configured path_sync_policy rules.
func New(rules []config.PathSyncPolicyConfig) *Engine {
	resolved := make([]Rule, 0, len(rules))
	for _, r := range rules {
		resolved = append(resolved, Rule{
			Prefix:      r.Prefix,
			MaxAttempts: r.AbsentRetryCount,
			Delay:       time.Duration(r.RetryDelaySeconds) * time.Second,
		})
	}

	// Longest prefix first so Select's first match is the tightest one;
	// the rule count is small (a handful of library mounts), so a linear
	// scan over a pre-sorted slice is simpler than a trie.
	sort.SliceStable(resolved, func(i, j int) bool {
		return len(resolved[i].Prefix) > len(resolved[j].Prefix)
	})

	return &Engine{rules: resolved}
}

// Select returns the rule whose prefix is the longest match for path,
// or DefaultRule if no configured prefix matches.
func (e *Engine) Select(path string) Rule {
	for _, r := range e.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r
		}
	}
	return DefaultRule
}
