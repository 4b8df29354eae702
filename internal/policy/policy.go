// Package policy implements the tool allow/deny engine of spec §4.G: pattern
// compilation into a tagged variant (all / exact / glob-regex), deny-wins
// evaluation, and resolution of which layer (session/global/default) a
// given allow or deny list came from. The tagged-compiled-pattern approach
// follows the §9 "pattern polymorphism" design note directly; there is no
// teacher equivalent (lazydocker has no tool-allowlist concept), so this
// package is hand-written against the spec's own compilation rules.
package policy

import (
	"regexp"
	"strings"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

type patternKind int

const (
	kindAll patternKind = iota
	kindExact
	kindRegex
)

// compiledPattern is the tagged variant {All} | {Exact(string)} | {Regex(RE)}.
type compiledPattern struct {
	kind  patternKind
	exact string
	re    *regexp.Regexp
}

func (p compiledPattern) matches(normalized string) bool {
	switch p.kind {
	case kindAll:
		return true
	case kindExact:
		return p.exact == normalized
	case kindRegex:
		return p.re.MatchString(normalized)
	default:
		return false
	}
}

// compile normalizes and compiles one pattern list, dropping blank entries.
func compile(patterns []string) []compiledPattern {
	out := make([]compiledPattern, 0, len(patterns))
	for _, raw := range patterns {
		norm := normalize(raw)
		if norm == "" {
			continue
		}
		if norm == "*" {
			out = append(out, compiledPattern{kind: kindAll})
			continue
		}
		if !strings.Contains(norm, "*") {
			out = append(out, compiledPattern{kind: kindExact, exact: norm})
			continue
		}
		out = append(out, compiledPattern{kind: kindRegex, re: globToRegex(norm)})
	}
	return out
}

func globToRegex(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CompiledPolicy is a compiled SandboxToolPolicy, ready for repeated
// evaluation without re-parsing patterns on the deny hot path (§9).
type CompiledPolicy struct {
	allow []compiledPattern
	deny  []compiledPattern
}

// Compile compiles a policy's allow/deny lists. A non-array (here: nil)
// allow or deny is treated as absent, which is already Go's natural
// behavior for a nil slice.
func Compile(p pluginapi.SandboxToolPolicy) CompiledPolicy {
	return CompiledPolicy{allow: compile(p.Allow), deny: compile(p.Deny)}
}

// IsAllowed evaluates name against the compiled policy with deny-wins
// semantics (§4.G):
//  1. normalize name
//  2. any deny match => false
//  3. empty compiled allow list => true
//  4. else => true iff some allow pattern matches
func (c CompiledPolicy) IsAllowed(name string) bool {
	norm := normalize(name)
	for _, p := range c.deny {
		if p.matches(norm) {
			return false
		}
	}
	if len(c.allow) == 0 {
		return true
	}
	for _, p := range c.allow {
		if p.matches(norm) {
			return true
		}
	}
	return false
}

// IsToolAllowed is the unevaluated-policy convenience entry point: compile
// then evaluate once. Prefer Compile+IsAllowed when evaluating many names
// against the same policy.
func IsToolAllowed(p pluginapi.SandboxToolPolicy, name string) bool {
	return Compile(p).IsAllowed(name)
}

// FilteredTools is the result of FilterToolsByPolicy: the input partitioned
// into allowed and denied, each preserving input order.
type FilteredTools struct {
	Allowed []string
	Denied  []string
}

// FilterToolsByPolicy partitions tools into allowed/denied per policy,
// preserving input order in both output lists (§4.G, §8 invariant 8).
func FilterToolsByPolicy(tools []string, p pluginapi.SandboxToolPolicy) FilteredTools {
	compiled := Compile(p)
	out := FilteredTools{
		Allowed: make([]string, 0, len(tools)),
		Denied:  make([]string, 0, len(tools)),
	}
	for _, t := range tools {
		if compiled.IsAllowed(t) {
			out.Allowed = append(out.Allowed, t)
		} else {
			out.Denied = append(out.Denied, t)
		}
	}
	return out
}

// PolicySource names which config layer a resolved allow/deny list came
// from, for diagnostics (§4.G "Resolution").
type PolicySource string

const (
	SourceSession PolicySource = "session"
	SourceGlobal  PolicySource = "global"
	SourceDefault PolicySource = "default"
)

// ResolvedList is one resolved allow or deny list plus the diagnostic key
// path identifying where it came from.
type ResolvedList struct {
	Values  []string
	Source  PolicySource
	KeyPath string
}

// ResolveToolLists resolves the allow and deny lists independently: session
// wins if provided, else global, else default (§4.G "Resolution").
// Each result carries the diagnostic key path of the layer it came from.
func ResolveToolLists(global, session *pluginapi.SandboxToolPolicyPartial, defaultAllow, defaultDeny []string) (allow, deny ResolvedList) {
	allow = resolveOne(
		fieldOf(session, func(p *pluginapi.SandboxToolPolicyPartial) []string { return p.Allow }),
		fieldOf(global, func(p *pluginapi.SandboxToolPolicyPartial) []string { return p.Allow }),
		defaultAllow,
		"allow",
	)
	deny = resolveOne(
		fieldOf(session, func(p *pluginapi.SandboxToolPolicyPartial) []string { return p.Deny }),
		fieldOf(global, func(p *pluginapi.SandboxToolPolicyPartial) []string { return p.Deny }),
		defaultDeny,
		"deny",
	)
	return allow, deny
}

func fieldOf(p *pluginapi.SandboxToolPolicyPartial, get func(*pluginapi.SandboxToolPolicyPartial) []string) []string {
	if p == nil {
		return nil
	}
	return get(p)
}

func resolveOne(sessionValues, globalValues, defaultValues []string, field string) ResolvedList {
	if sessionValues != nil {
		return ResolvedList{Values: sessionValues, Source: SourceSession, KeyPath: "sessions[].sandbox.tools." + field}
	}
	if globalValues != nil {
		return ResolvedList{Values: globalValues, Source: SourceGlobal, KeyPath: "sandbox.tools." + field}
	}
	return ResolvedList{Values: defaultValues, Source: SourceDefault, KeyPath: "sandbox.tools." + field}
}
