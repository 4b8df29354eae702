package sandbox

import (
	"strings"

	"dario.cat/mergo"
	units "github.com/docker/go-units"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/errs"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// ScopeOptions is the input to ResolveSandboxScope (§4.E).
type ScopeOptions struct {
	Scope      *pluginapi.SandboxScope
	PerSession *bool
}

// ResolveSandboxScope implements the explicit-scope-wins-else-perSession-
// else-default precedence of §4.E.
func ResolveSandboxScope(opts ScopeOptions) pluginapi.SandboxScope {
	if opts.Scope != nil {
		return *opts.Scope
	}
	if opts.PerSession != nil {
		if *opts.PerSession {
			return pluginapi.ScopeSession
		}
		return pluginapi.ScopeShared
	}
	return pluginapi.ScopeSession
}

// DockerConfigInputs bundles the global and session partials for
// ResolveSandboxDockerConfig.
type DockerConfigInputs struct {
	Global  *pluginapi.SandboxDockerConfigPartial
	Session *pluginapi.SandboxDockerConfigPartial
}

// ResolveSandboxDockerConfig performs the three-layer merge of §4.E.
//
// Scalar and plain-array fields are resolved by explicit field-wise
// precedence (session > global > hard-coded default) per the §9 design
// note that this merge must not be reflection-based. Env and Ulimits are
// map-valued and shallow-merged with dario.cat/mergo (the teacher's own
// merge library, used the same way NewCommandObject folds a partial
// CommandObject over a default one in pkg/commands/docker.go) because a
// field-by-field map union is exactly what mergo.Merge does well; Binds is
// a concatenation, not a merge, and is handled separately.
func ResolveSandboxDockerConfig(in DockerConfigInputs) pluginapi.SandboxDockerConfig {
	out := DefaultSandboxConfig()

	applyScalar(&out, in.Global)
	applyScalar(&out, in.Session)

	out.Env = resolveEnv(in.Global, in.Session)
	out.Ulimits = resolveUlimits(in.Global, in.Session)
	out.Binds = resolveBinds(in.Global, in.Session)

	return out
}

func applyScalar(out *pluginapi.SandboxDockerConfig, p *pluginapi.SandboxDockerConfigPartial) {
	if p == nil {
		return
	}
	if p.Image != nil {
		out.Image = *p.Image
	}
	if p.ContainerPrefix != nil {
		out.ContainerPrefix = *p.ContainerPrefix
	}
	if p.Workdir != nil {
		out.Workdir = *p.Workdir
	}
	if p.ReadOnlyRoot != nil {
		out.ReadOnlyRoot = *p.ReadOnlyRoot
	}
	if p.Tmpfs != nil {
		out.Tmpfs = p.Tmpfs
	}
	if p.Network != nil {
		out.Network = *p.Network
	}
	if p.User != nil {
		out.User = *p.User
	}
	if p.CapDrop != nil {
		out.CapDrop = p.CapDrop
	}
	if p.SetupCommand != nil {
		out.SetupCommand = *p.SetupCommand
	}
	if p.PidsLimit != nil {
		out.PidsLimit = p.PidsLimit
	}
	if p.Memory != nil {
		out.Memory = *p.Memory
	}
	if p.MemorySwap != nil {
		out.MemorySwap = *p.MemorySwap
	}
	if p.Cpus != nil {
		out.Cpus = *p.Cpus
	}
	if p.SeccompProfile != nil {
		out.SeccompProfile = *p.SeccompProfile
	}
	if p.ApparmorProfile != nil {
		out.ApparmorProfile = *p.ApparmorProfile
	}
	if p.DNS != nil {
		out.DNS = p.DNS
	}
	if p.ExtraHosts != nil {
		out.ExtraHosts = p.ExtraHosts
	}
	if p.Labels != nil {
		out.Labels = p.Labels
	}
	if p.SelinuxRelabel != nil {
		out.SelinuxRelabel = *p.SelinuxRelabel
	}
}

func resolveEnv(global, session *pluginapi.SandboxDockerConfigPartial) map[string]string {
	base := map[string]string{"LANG": DefaultLang}
	if global != nil && global.Env != nil {
		base = cloneStringMap(global.Env)
	}
	if session == nil || session.Env == nil {
		return base
	}
	merged := cloneStringMap(base)
	// mergo.WithOverride so session values win over the base; mergo only
	// fills zero-valued destination keys by default.
	_ = mergo.Merge(&merged, session.Env, mergo.WithOverride)
	return merged
}

func resolveUlimits(global, session *pluginapi.SandboxDockerConfigPartial) map[string]pluginapi.UlimitValue {
	var base map[string]pluginapi.UlimitValue
	if global != nil && global.Ulimits != nil {
		base = cloneUlimitMap(global.Ulimits)
	}
	if session == nil || session.Ulimits == nil {
		return base
	}
	merged := cloneUlimitMap(base)
	if merged == nil {
		merged = map[string]pluginapi.UlimitValue{}
	}
	_ = mergo.Merge(&merged, session.Ulimits, mergo.WithOverride)
	return merged
}

func resolveBinds(global, session *pluginapi.SandboxDockerConfigPartial) []string {
	var out []string
	if global != nil {
		out = append(out, global.Binds...)
	}
	if session != nil {
		out = append(out, session.Binds...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneUlimitMap(m map[string]pluginapi.UlimitValue) map[string]pluginapi.UlimitValue {
	if m == nil {
		return nil
	}
	out := make(map[string]pluginapi.UlimitValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PruneConfigInputs bundles the global and session prune partials.
type PruneConfigInputs struct {
	Global  *pluginapi.SandboxPruneConfigPartial
	Session *pluginapi.SandboxPruneConfigPartial
}

// ResolveSandboxPruneConfig resolves session > global > defaults,
// field-wise (§4.E).
func ResolveSandboxPruneConfig(in PruneConfigInputs) pluginapi.SandboxPruneConfig {
	out := pluginapi.SandboxPruneConfig{
		IdleHours:  DefaultIdleHours,
		MaxAgeDays: DefaultMaxAgeDays,
	}
	if in.Global != nil {
		if in.Global.IdleHours != nil {
			out.IdleHours = *in.Global.IdleHours
		}
		if in.Global.MaxAgeDays != nil {
			out.MaxAgeDays = *in.Global.MaxAgeDays
		}
	}
	if in.Session != nil {
		if in.Session.IdleHours != nil {
			out.IdleHours = *in.Session.IdleHours
		}
		if in.Session.MaxAgeDays != nil {
			out.MaxAgeDays = *in.Session.MaxAgeDays
		}
	}
	return out
}

// ResolveSandboxConfigInputs is the input to ResolveSandboxConfig (§4.E,
// §4.L): the session name and optional trust level, plus the host's merged
// `.sandbox` config (read by the caller from the host's config getter).
type ResolveSandboxConfigInputs struct {
	SessionName string
	TrustLevel  pluginapi.TrustLevel
	Host        *pluginapi.HostSandboxConfig
}

// ResolveSandboxConfig produces the full resolved envelope for a session,
// applying trust-level overrides to mode and workspace access (§4.E).
func ResolveSandboxConfig(in ResolveSandboxConfigInputs) pluginapi.SandboxConfig {
	session := sessionOverrides(in.Host, in.SessionName)

	mode := pluginapi.ModeOff
	if in.Host != nil && in.Host.Mode != nil {
		mode = *in.Host.Mode
	}
	if in.TrustLevel == pluginapi.TrustUntrusted || in.TrustLevel == pluginapi.TrustSemiTrusted {
		mode = pluginapi.ModeAll
	}

	scopeOpts := ScopeOptions{}
	if session != nil && session.PerSession != nil {
		scopeOpts.PerSession = session.PerSession
	} else if in.Host != nil {
		scopeOpts.Scope = in.Host.Scope
		scopeOpts.PerSession = in.Host.PerSession
	}
	scope := ResolveSandboxScope(scopeOpts)

	workspaceAccess := pluginapi.WorkspaceNone
	switch in.TrustLevel {
	case pluginapi.TrustUntrusted:
		workspaceAccess = pluginapi.WorkspaceNone
	case pluginapi.TrustSemiTrusted:
		workspaceAccess = pluginapi.WorkspaceRO
	default:
		if in.Host != nil && in.Host.WorkspaceAccess != nil {
			workspaceAccess = *in.Host.WorkspaceAccess
		}
	}

	workspaceRoot := ""
	if in.Host != nil && in.Host.WorkspaceRoot != nil {
		workspaceRoot = *in.Host.WorkspaceRoot
	}

	var globalDocker, sessionDocker *pluginapi.SandboxDockerConfigPartial
	var globalTools, sessionTools *pluginapi.SandboxToolPolicyPartial
	var globalPrune, sessionPrune *pluginapi.SandboxPruneConfigPartial
	if in.Host != nil {
		globalDocker = in.Host.Docker
		globalTools = in.Host.Tools
		globalPrune = in.Host.Prune
	}
	if session != nil {
		sessionDocker = session.Docker
		sessionTools = session.Tools
		sessionPrune = session.Prune
	}

	docker := ResolveSandboxDockerConfig(DockerConfigInputs{Global: globalDocker, Session: sessionDocker})
	tools := resolveToolPolicy(globalTools, sessionTools)
	prune := ResolveSandboxPruneConfig(PruneConfigInputs{Global: globalPrune, Session: sessionPrune})

	return pluginapi.SandboxConfig{
		Mode:            mode,
		Scope:           scope,
		WorkspaceAccess: workspaceAccess,
		WorkspaceRoot:   workspaceRoot,
		Docker:          docker,
		Tools:           tools,
		Prune:           prune,
	}
}

func sessionOverrides(host *pluginapi.HostSandboxConfig, sessionName string) *pluginapi.HostSessionSandboxConfig {
	if host == nil || host.Sessions == nil {
		return nil
	}
	name := strings.TrimSpace(sessionName)
	if cfg, ok := host.Sessions[name]; ok {
		return &cfg
	}
	return nil
}

func resolveToolPolicy(global, session *pluginapi.SandboxToolPolicyPartial) pluginapi.SandboxToolPolicy {
	allow := DefaultAllowTools()
	deny := DefaultDenyTools()
	if global != nil {
		if global.Allow != nil {
			allow = global.Allow
		}
		if global.Deny != nil {
			deny = global.Deny
		}
	}
	if session != nil {
		if session.Allow != nil {
			allow = session.Allow
		}
		if session.Deny != nil {
			deny = session.Deny
		}
	}
	return pluginapi.SandboxToolPolicy{Allow: allow, Deny: deny}
}

// ValidateDockerSizeLiterals checks that Memory and MemorySwap, if set,
// parse as valid Docker size literals ("512m", "2g", ...) using the same
// units.RAMInBytes parser the Docker CLI itself relies on, catching
// malformed operator input before it reaches `docker create` rather than
// surfacing as an opaque Docker CLI error (SPEC_FULL.md DOMAIN STACK,
// github.com/docker/go-units).
func ValidateDockerSizeLiterals(cfg pluginapi.SandboxDockerConfig) error {
	if mem := strings.TrimSpace(cfg.Memory); mem != "" {
		if _, err := units.RAMInBytes(mem); err != nil {
			return errs.Newf(errs.KindConfiguration, "invalid memory size %q: %v", mem, err)
		}
	}
	if mem := strings.TrimSpace(cfg.MemorySwap); mem != "" {
		if _, err := units.RAMInBytes(mem); err != nil {
			return errs.Newf(errs.KindConfiguration, "invalid memorySwap size %q: %v", mem, err)
		}
	}
	return nil
}

// ShouldSandbox implements §4.E: off never sandboxes, all always does,
// non-main sandboxes every session except the one literally named "main".
func ShouldSandbox(mode pluginapi.SandboxMode, sessionName string) bool {
	switch mode {
	case pluginapi.ModeOff:
		return false
	case pluginapi.ModeAll:
		return true
	case pluginapi.ModeNonMain:
		return sessionName != "main"
	default:
		return false
	}
}
