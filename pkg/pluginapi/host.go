package pluginapi

import "context"

// Logger is the subset of github.com/sirupsen/logrus.FieldLogger this plugin
// relies on. The host is expected to hand in a *logrus.Entry (or any
// equivalent), mirroring how the teacher threads a *logrus.Entry through
// every command object instead of a bare io.Writer.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Repository is the host's persistent key-value/table repository, scoped by
// the plugin to a single namespace+table (sandbox_registry, §6). The plugin
// never reaches for a concrete database; every registry operation in
// internal/registry goes through this interface.
type Repository interface {
	// Get returns the record stored under id, or ok=false if absent.
	Get(ctx context.Context, id string) (SandboxRegistryRecord, bool, error)
	// Put inserts or overwrites the full record under id. Returns
	// ErrConflict if an insert raced with another writer (component H
	// retries as an update on this error).
	Put(ctx context.Context, rec SandboxRegistryRecord, insertOnly bool) error
	// Delete removes the record, if present. Deleting an absent id is not
	// an error.
	Delete(ctx context.Context, id string) error
	// List returns every record in the table, in unspecified order.
	List(ctx context.Context) ([]SandboxRegistryRecord, error)
}

// ErrConflict is returned by Repository.Put when insertOnly is true and a
// record already exists under the given id.
var ErrConflict = repoConflictError{}

type repoConflictError struct{}

func (repoConflictError) Error() string { return "sandbox registry: insert conflict" }

// HostSandboxConfig is the `.sandbox` partial read off the host's merged
// configuration object (§6 "Host plugin context"). Every field is optional;
// absence is distinguished from zero value via pointers/nil slices, per the
// "dynamic configuration merging" design note in §9.
type HostSandboxConfig struct {
	Mode            *SandboxMode
	Scope           *SandboxScope
	PerSession      *bool
	WorkspaceAccess *WorkspaceAccess
	WorkspaceRoot   *string
	Docker          *SandboxDockerConfigPartial
	Tools           *SandboxToolPolicyPartial
	Prune           *SandboxPruneConfigPartial
	// Sessions carries per-session overrides, keyed by session name, for
	// the "session" layer of the three-layer merge in component E. The key
	// path used in diagnostics is `sessions[].sandbox.*`.
	Sessions map[string]HostSessionSandboxConfig
}

// HostSessionSandboxConfig is one session's override block within
// HostSandboxConfig.Sessions.
type HostSessionSandboxConfig struct {
	PerSession *bool
	Docker     *SandboxDockerConfigPartial
	Tools      *SandboxToolPolicyPartial
	Prune      *SandboxPruneConfigPartial
}

// SandboxDockerConfigPartial mirrors SandboxDockerConfig with every scalar
// field made optional. Unknown-subset partials arrive this way from both the
// global and per-session layers (§9 "dynamic configuration merging").
type SandboxDockerConfigPartial struct {
	Image           *string
	ContainerPrefix *string
	Workdir         *string
	ReadOnlyRoot    *bool
	Tmpfs           []string
	Network         *string
	User            *string
	CapDrop         []string
	Env             map[string]string
	SetupCommand    *string
	PidsLimit       *int
	Memory          *string
	MemorySwap      *string
	Cpus            *float64
	Ulimits         map[string]UlimitValue
	SeccompProfile  *string
	ApparmorProfile *string
	DNS             []string
	ExtraHosts      []string
	Binds           []string
	Labels          map[string]string
	SelinuxRelabel  *bool
}

// SandboxToolPolicyPartial mirrors SandboxToolPolicy; a nil slice means
// "not provided at this layer" (distinct from an explicit empty list).
type SandboxToolPolicyPartial struct {
	Allow []string
	Deny  []string
}

// SandboxPruneConfigPartial mirrors SandboxPruneConfig.
type SandboxPruneConfigPartial struct {
	IdleHours  *int
	MaxAgeDays *int
}

// MainConfig is the opaque object the host's getMainConfig() returns (§6).
// The plugin only ever reads the Sandbox() accessor off it.
type MainConfig interface {
	Sandbox() *HostSandboxConfig
}

// ConfigGetter is the host-supplied accessor for the merged host config.
type ConfigGetter func() MainConfig

// RuntimeDeps is the bundle the host hands the plugin at init (§4.B, §6):
// a logger, the persistent repository (already scoped to the sandbox
// namespace/table), and the merged-config getter.
type RuntimeDeps struct {
	Logger       Logger
	Repository   Repository
	GetMainConfig ConfigGetter
}

// Manifest describes the plugin to the host (§6).
type Manifest struct {
	Name         string
	Version      string
	Category     string
	Capabilities []string
}

// SessionRequest is what the host passes to resolveSandboxContext/
// getSandboxWorkspaceInfo/shouldSandbox/resolveSandboxConfig (§4.E, §4.L).
type SessionRequest struct {
	SessionName string
	TrustLevel  TrustLevel
}
