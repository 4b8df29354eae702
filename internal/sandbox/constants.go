// Package sandbox implements components E (config resolution) and F (config
// hashing): the three-layer default/global/session merge that produces the
// effective Docker config, tool policy, and prune config, plus the
// canonical config-hash used for drift detection.
package sandbox

import "github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"

// Defaults mirror spec §2.A / §4.E's hard-coded fallback layer.
const (
	DefaultSandboxImage     = "debian:bookworm-slim"
	DefaultContainerPrefix  = "wopr-sandbox-"
	DefaultWorkdir          = "/workspace"
	DefaultIdleHours        = 24
	DefaultMaxAgeDays       = 7
	DefaultPidsLimit        = 100
	DefaultMemory           = "512m"
	DefaultMemorySwap       = "512m"
	DefaultCpus             = 0.5
	DefaultLang             = "C.UTF-8"
	DefaultNetwork          = "none"
	HotWindowMs       int64 = 5 * 60 * 1000
	PruneDebounceMs   int64 = 5 * 60 * 1000
)

// DefaultTmpfs is the default tmpfs mount target list.
func DefaultTmpfs() []string { return []string{"/tmp", "/var/tmp", "/run"} }

// DefaultCapDrop is the default dropped-capability list.
func DefaultCapDrop() []string { return []string{"ALL"} }

// DefaultAllowTools and DefaultDenyTools back component E's tool-policy
// defaults when neither global nor session config sets them.
func DefaultAllowTools() []string { return nil }
func DefaultDenyTools() []string  { return nil }

// DefaultSandboxConfig returns the hard-coded base layer for
// resolveSandboxDockerConfig (§4.E), a fresh copy every call so callers can
// mutate it freely while merging.
func DefaultSandboxConfig() pluginapi.SandboxDockerConfig {
	return pluginapi.SandboxDockerConfig{
		Image:           DefaultSandboxImage,
		ContainerPrefix: DefaultContainerPrefix,
		Workdir:         DefaultWorkdir,
		ReadOnlyRoot:    true,
		Tmpfs:           DefaultTmpfs(),
		Network:         DefaultNetwork,
		CapDrop:         DefaultCapDrop(),
		Env:             map[string]string{"LANG": DefaultLang},
		PidsLimit:       intPtr(DefaultPidsLimit),
		Memory:          DefaultMemory,
		MemorySwap:      DefaultMemorySwap,
		Cpus:            DefaultCpus,
	}
}

func intPtr(v int) *int { return &v }
