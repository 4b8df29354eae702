// Package lifecycle implements component K: the ensureSandboxContainer
// state machine combining naming, config hashing, drift detection, the
// hot-window anti-foot-gun, and registry bookkeeping. The hash-mismatch /
// hot-window / cold-recreate shape is grounded on the pack's
// sipeed-picoclaw ensureContainer; the logging idiom for the hot-window
// warning follows the teacher's logrus usage throughout pkg/commands.
package lifecycle

import (
	"context"
	"sync"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/dockerdriver"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/naming"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/sandbox"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// maxContainerNameLen is the Docker container name length the plugin
// enforces on its own generated names (§4.K step 1).
const maxContainerNameLen = 63

// hotWindowMs is the period after a container's last use during which a
// drifted-but-running container is left untouched (§4.K step 4, §9 "Hot
// window").
const hotWindowMs int64 = 5 * 60 * 1000

// DockerDriver is the subset of the docker driver the orchestrator needs;
// satisfied by *dockerdriver.Driver, narrowed here so tests can supply a
// fake instead of spawning real docker processes.
type DockerDriver interface {
	DockerContainerState(ctx context.Context, name string) (dockerdriver.ContainerState, error)
	ReadContainerConfigHash(ctx context.Context, name string) (string, error)
	RemoveContainer(ctx context.Context, name string)
	CreateContainer(ctx context.Context, opts dockerdriver.CreateOptions) error
	EnsureContainerRunning(ctx context.Context, name string) error
}

// Orchestrator drives ensureSandboxContainer.
type Orchestrator struct {
	docker DockerDriver
	reg    *registry.Registry
	log    pluginapi.Logger

	defaultImage  string
	fallbackImage string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs an Orchestrator. log may be nil.
func New(docker DockerDriver, reg *registry.Registry, log pluginapi.Logger, defaultImage, fallbackImage string) *Orchestrator {
	return &Orchestrator{
		docker:        docker,
		reg:           reg,
		log:           log,
		defaultImage:  defaultImage,
		fallbackImage: fallbackImage,
		locks:         make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-containerName mutex used to serialize concurrent
// EnsureSandboxContainer calls for the same container within this process
// (§9 "concurrent create races"). Docker's own name-conflict rejection
// remains the only guard across processes.
func (o *Orchestrator) lockFor(name string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	m, ok := o.locks[name]
	if !ok {
		m = &sync.Mutex{}
		o.locks[name] = m
	}
	return m
}

// EnsureInput bundles the inputs to EnsureSandboxContainer.
type EnsureInput struct {
	SessionKey      string
	Scope           pluginapi.SandboxScope
	WorkspaceDir    string
	WorkspaceAccess pluginapi.WorkspaceAccess
	Cfg             pluginapi.SandboxDockerConfig
	Now             int64
}

// ContainerName computes the deterministic, length-clamped container name
// for a scope (§4.K step 1).
func ContainerName(prefix string, scope pluginapi.SandboxScope, sessionKey string) string {
	var slug string
	if scope == pluginapi.ScopeShared {
		slug = "shared"
	} else {
		slug = naming.SlugifySessionKey(sessionKey)
	}
	name := prefix + slug
	if len(name) > maxContainerNameLen {
		name = name[:maxContainerNameLen]
	}
	return name
}

// EnsureSandboxContainer runs the §4.K state machine and returns the final
// container name. It always either returns a usable containerName or an
// error; it never returns success paired with a non-running container,
// except the hot-drift warning path, which deliberately returns the
// already-running drifted container.
func (o *Orchestrator) EnsureSandboxContainer(ctx context.Context, in EnsureInput) (string, error) {
	scopeKey := naming.ResolveSandboxScopeKey(in.Scope, in.SessionKey)
	name := ContainerName(in.Cfg.ContainerPrefix, in.Scope, scopeKey)

	mu := o.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	expectedHash := sandbox.ComputeSandboxConfigHash(sandbox.HashInputs{
		Docker:          in.Cfg,
		WorkspaceAccess: in.WorkspaceAccess,
		WorkspaceDir:    in.WorkspaceDir,
	})

	state, err := o.docker.DockerContainerState(ctx, name)
	if err != nil {
		return "", err
	}

	drifted := false
	hotSkip := false

	if state.Exists {
		existingRec, found, err := o.reg.Find(ctx, name)
		if err != nil {
			return "", err
		}

		observedHash, err := o.docker.ReadContainerConfigHash(ctx, name)
		if err != nil {
			return "", err
		}
		if observedHash == "" && found {
			observedHash = existingRec.ConfigHash
		}
		drifted = observedHash != expectedHash

		if drifted && state.Running {
			lastUsedKnown := found && existingRec.LastUsedAtMs > 0
			withinHotWindow := !lastUsedKnown || (in.Now-existingRec.LastUsedAtMs) < hotWindowMs
			if withinHotWindow {
				hotSkip = true
				if o.log != nil {
					o.log.WithField("container", name).Warnf("sandbox container config has drifted but was used within the last 5 minutes; run a recreate command to apply the new configuration")
				}
			}
		}

		if drifted && !hotSkip {
			o.docker.RemoveContainer(ctx, name)
			state = dockerdriver.ContainerState{Exists: false, Running: false}
		}
	}

	if !state.Exists {
		if err := o.docker.CreateContainer(ctx, dockerdriver.CreateOptions{
			Name:            name,
			Cfg:             in.Cfg,
			ScopeKey:        scopeKey,
			Now:             in.Now,
			ConfigHash:      expectedHash,
			WorkspaceDir:    in.WorkspaceDir,
			WorkspaceAccess: in.WorkspaceAccess,
			DefaultImage:    o.defaultImage,
			FallbackImage:   o.fallbackImage,
		}); err != nil {
			return "", err
		}
	} else if !state.Running {
		if err := o.docker.EnsureContainerRunning(ctx, name); err != nil {
			return "", err
		}
	}

	recordedHash := expectedHash
	if drifted && hotSkip {
		existingRec, found, err := o.reg.Find(ctx, name)
		if err != nil {
			return "", err
		}
		if found {
			recordedHash = existingRec.ConfigHash
		}
	}

	if err := o.reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: name,
		SessionKey:    scopeKey,
		CreatedAtMs:   in.Now,
		LastUsedAtMs:  in.Now,
		Image:         in.Cfg.Image,
		ConfigHash:    recordedHash,
	}); err != nil {
		return "", err
	}

	return name, nil
}
