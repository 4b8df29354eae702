// Package pluginapi defines the contract between the sandbox plugin and the
// host: the data model of §3, and the interfaces the host injects at init
// (logger, persistent repository, merged-config getter).
package pluginapi

// SandboxMode selects when a session is sandboxed.
type SandboxMode string

const (
	ModeOff     SandboxMode = "off"
	ModeNonMain SandboxMode = "non-main"
	ModeAll     SandboxMode = "all"
)

// SandboxScope selects whether a session gets its own container or shares one.
type SandboxScope string

const (
	ScopeSession SandboxScope = "session"
	ScopeShared  SandboxScope = "shared"
)

// WorkspaceAccess controls how (or whether) the session workspace is
// bind-mounted into the container.
type WorkspaceAccess string

const (
	WorkspaceNone WorkspaceAccess = "none"
	WorkspaceRO   WorkspaceAccess = "ro"
	WorkspaceRW   WorkspaceAccess = "rw"
)

// TrustLevel is supplied by the host per session and drives mode/workspace
// overrides in component E.
type TrustLevel string

const (
	TrustDefault      TrustLevel = ""
	TrustUntrusted    TrustLevel = "untrusted"
	TrustSemiTrusted  TrustLevel = "semi-trusted"
)

// UlimitValue models the ulimit value union: a bare numeric value, or
// an explicit {soft, hard} pair. Exactly one of Value or Soft/Hard is set;
// Value takes precedence when non-nil.
type UlimitValue struct {
	Value *int64
	Soft  *int64
	Hard  *int64
}

// SandboxDockerConfig is the post-merge container blueprint (§3).
type SandboxDockerConfig struct {
	Image           string
	ContainerPrefix string
	Workdir         string
	ReadOnlyRoot    bool
	Tmpfs           []string
	Network         string
	User            string
	CapDrop         []string
	Env             map[string]string
	SetupCommand    string
	PidsLimit       *int
	Memory          string
	MemorySwap      string
	Cpus            float64
	Ulimits         map[string]UlimitValue
	SeccompProfile  string
	ApparmorProfile string
	DNS             []string
	ExtraHosts      []string
	Binds           []string
	Labels          map[string]string

	// SelinuxRelabel appends the Podman/SELinux "Z" relabel option to the
	// workspace bind mount when set (":Z", or ":ro,Z" for read-only access). Off by default; see SPEC_FULL.md
	// "OPEN QUESTION DECISIONS".
	SelinuxRelabel bool
}

// SandboxToolPolicy is the unevaluated allow/deny source (§3, §4.G).
type SandboxToolPolicy struct {
	Allow []string
	Deny  []string
}

// SandboxPruneConfig holds the idle/age eviction thresholds (§4.I).
type SandboxPruneConfig struct {
	IdleHours  int
	MaxAgeDays int
}

// SandboxConfig is the resolved envelope returned by component E.
type SandboxConfig struct {
	Mode            SandboxMode
	Scope           SandboxScope
	WorkspaceAccess WorkspaceAccess
	WorkspaceRoot   string
	Docker          SandboxDockerConfig
	Tools           SandboxToolPolicy
	Prune           SandboxPruneConfig
}

// SandboxRegistryRecord is the persistent per-container record (§3).
type SandboxRegistryRecord struct {
	ID            string // primary key, == ContainerName
	ContainerName string
	SessionKey    string
	CreatedAtMs   int64
	LastUsedAtMs  int64
	Image         string
	ConfigHash    string // empty means absent/unknown
}

// SandboxContext is handed back to callers for a sandboxed session (§3).
type SandboxContext struct {
	Enabled          bool
	SessionKey       string
	WorkspaceDir     string
	WorkspaceAccess  WorkspaceAccess
	ContainerName    string
	ContainerWorkdir string
	Docker           SandboxDockerConfig
	Tools            SandboxToolPolicy
}

// SandboxWorkspaceInfo is the result of the Docker-free decision path
// (getSandboxWorkspaceInfo, §4.L) used by callers that only need to know
// whether and where a session would be sandboxed.
type SandboxWorkspaceInfo struct {
	Enabled         bool
	ScopeKey        string
	WorkspaceDir    string
	WorkspaceAccess WorkspaceAccess
}

// ExecResult is the shape returned by execInContainer/execInContainerRaw (§4.J).
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Truncated  bool
}
