package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

func TestIsToolAllowedWildcardPrefix(t *testing.T) {
	p := pluginapi.SandboxToolPolicy{Allow: []string{"memory_*"}}

	assert.True(t, IsToolAllowed(p, "memory_read"))
	assert.True(t, IsToolAllowed(p, "MEMORY_WRITE"))
	assert.False(t, IsToolAllowed(p, "exec_command"))
}

func TestDenyWinsOverAllow(t *testing.T) {
	p := pluginapi.SandboxToolPolicy{
		Allow: []string{"exec_command"},
		Deny:  []string{"exec_command"},
	}
	assert.False(t, IsToolAllowed(p, "exec_command"))
}

func TestEmptyAllowMeansAllowAllNotDenied(t *testing.T) {
	p := pluginapi.SandboxToolPolicy{Deny: []string{"danger_*"}}
	assert.True(t, IsToolAllowed(p, "read_file"))
	assert.False(t, IsToolAllowed(p, "danger_delete"))
}

func TestFilterToolsByPolicy(t *testing.T) {
	p := pluginapi.SandboxToolPolicy{Allow: []string{"memory_*"}}
	tools := []string{"memory_read", "memory_write", "exec_command"}

	out := FilterToolsByPolicy(tools, p)
	assert.Equal(t, []string{"memory_read", "memory_write"}, out.Allowed)
	assert.Equal(t, []string{"exec_command"}, out.Denied)
}

func TestFilterToolsByPolicyIsPermutation(t *testing.T) {
	p := pluginapi.SandboxToolPolicy{Allow: []string{"a*"}, Deny: []string{"ab*"}}
	tools := []string{"az", "ab1", "zz", "a1"}

	out := FilterToolsByPolicy(tools, p)
	combined := append(append([]string{}, out.Allowed...), out.Denied...)
	assert.ElementsMatch(t, tools, combined)

	// allowed preserves input order among allowed members
	var allowedFromInput []string
	for _, t := range tools {
		if Compile(p).IsAllowed(t) {
			allowedFromInput = append(allowedFromInput, t)
		}
	}
	assert.Equal(t, allowedFromInput, out.Allowed)
}

func TestResolveToolListsPrecedence(t *testing.T) {
	sessionAllow := []string{"session_*"}
	global := &pluginapi.SandboxToolPolicyPartial{Allow: []string{"global_*"}}
	session := &pluginapi.SandboxToolPolicyPartial{Allow: sessionAllow}

	allow, deny := ResolveToolLists(global, session, nil, nil)
	assert.Equal(t, SourceSession, allow.Source)
	assert.Equal(t, "sessions[].sandbox.tools.allow", allow.KeyPath)
	assert.Equal(t, SourceDefault, deny.Source)
}

func TestBlankPatternsDropped(t *testing.T) {
	p := pluginapi.SandboxToolPolicy{Allow: []string{"", "  ", "exec_command"}}
	assert.True(t, IsToolAllowed(p, "exec_command"))
	assert.False(t, IsToolAllowed(p, "other_tool"))
}
