// Package context implements component L: the top-level entry points a host
// calls to resolve a sandboxed session's context or inspect its workspace
// without touching Docker. The decide-then-delegate shape mirrors the
// teacher's pkg/app/app.go bring-up sequence (resolve config, prepare
// filesystem state, hand off to the next layer).
package context

import (
	"context"
	"os"
	"sync"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/lifecycle"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/naming"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/policy"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/sandbox"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// Pruner is the subset of *prune.Pruner the resolver needs.
type Pruner interface {
	MaybePrune(ctx context.Context, cfg pluginapi.SandboxPruneConfig, nowMs int64)
}

// DockerChecker is the subset of *dockerdriver.Driver the resolver needs to
// preflight the Docker CLI/daemon once per process (supplemented feature 1,
// SPEC_FULL.md).
type DockerChecker interface {
	CheckDockerAvailable(ctx context.Context) error
}

// Resolver wires config resolution, pruning, workspace preparation, and the
// lifecycle orchestrator into the two host-facing entry points of §4.L.
type Resolver struct {
	orchestrator  *lifecycle.Orchestrator
	pruner        Pruner
	dockerChecker DockerChecker
	log           pluginapi.Logger
	nowFn         func() int64
	mkdirAll      func(path string) error

	checkOnce sync.Once
	checkErr  error
}

// New constructs a Resolver. nowFn supplies the current time in epoch-ms;
// log may be nil. dockerChecker may be nil, in which case the preflight
// check in ResolveSandboxContext is skipped.
func New(orchestrator *lifecycle.Orchestrator, pruner Pruner, log pluginapi.Logger, nowFn func() int64, dockerChecker DockerChecker) *Resolver {
	return &Resolver{
		orchestrator:  orchestrator,
		pruner:        pruner,
		dockerChecker: dockerChecker,
		log:           log,
		nowFn:         nowFn,
		mkdirAll:      func(path string) error { return os.MkdirAll(path, 0o755) },
	}
}

// ensureDockerAvailable runs dockerChecker.CheckDockerAvailable once per
// Resolver lifetime and memoizes the outcome, so every ResolveSandboxContext
// call after the first reuses the same result instead of shelling out to
// `docker info` again (supplemented feature 1, SPEC_FULL.md).
func (r *Resolver) ensureDockerAvailable(ctx context.Context) error {
	if r.dockerChecker == nil {
		return nil
	}
	r.checkOnce.Do(func() {
		r.checkErr = r.dockerChecker.CheckDockerAvailable(ctx)
	})
	return r.checkErr
}

// ResolveInput bundles the inputs to ResolveSandboxContext and
// GetSandboxWorkspaceInfo.
type ResolveInput struct {
	SessionName string
	TrustLevel  pluginapi.TrustLevel
	Host        *pluginapi.HostSandboxConfig
}

// ResolveSandboxContext runs §4.L's full sequence: gate on shouldSandbox,
// resolve the effective config, run a rate-limited best-effort prune pass,
// prepare the workspace directory, then ensure the container. Returns
// (nil, nil) when the session is not sandboxed.
func (r *Resolver) ResolveSandboxContext(ctx context.Context, in ResolveInput) (*pluginapi.SandboxContext, error) {
	cfg := sandbox.ResolveSandboxConfig(sandbox.ResolveSandboxConfigInputs{
		SessionName: in.SessionName,
		TrustLevel:  in.TrustLevel,
		Host:        in.Host,
	})

	if !sandbox.ShouldSandbox(cfg.Mode, in.SessionName) {
		return nil, nil
	}

	if err := sandbox.ValidateDockerSizeLiterals(cfg.Docker); err != nil {
		return nil, err
	}

	if err := r.ensureDockerAvailable(ctx); err != nil {
		return nil, err
	}

	now := r.nowFn()
	if r.pruner != nil {
		r.pruner.MaybePrune(ctx, cfg.Prune, now)
	}

	scopeKey := naming.ResolveSandboxScopeKey(cfg.Scope, in.SessionName)
	workspaceDir := r.workspaceDir(cfg, in.SessionName)
	if err := r.mkdirAll(workspaceDir); err != nil {
		return nil, err
	}

	containerName, err := r.orchestrator.EnsureSandboxContainer(ctx, lifecycle.EnsureInput{
		SessionKey:      in.SessionName,
		Scope:           cfg.Scope,
		WorkspaceDir:    workspaceDir,
		WorkspaceAccess: cfg.WorkspaceAccess,
		Cfg:             cfg.Docker,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	return &pluginapi.SandboxContext{
		Enabled:          true,
		SessionKey:       scopeKey,
		WorkspaceDir:     workspaceDir,
		WorkspaceAccess:  cfg.WorkspaceAccess,
		ContainerName:    containerName,
		ContainerWorkdir: cfg.Docker.Workdir,
		Docker:           cfg.Docker,
		Tools:            cfg.Tools,
	}, nil
}

// GetSandboxWorkspaceInfo performs the same decision and path derivation as
// ResolveSandboxContext without touching Docker (§4.L).
func (r *Resolver) GetSandboxWorkspaceInfo(in ResolveInput) pluginapi.SandboxWorkspaceInfo {
	cfg := sandbox.ResolveSandboxConfig(sandbox.ResolveSandboxConfigInputs{
		SessionName: in.SessionName,
		TrustLevel:  in.TrustLevel,
		Host:        in.Host,
	})

	if !sandbox.ShouldSandbox(cfg.Mode, in.SessionName) {
		return pluginapi.SandboxWorkspaceInfo{Enabled: false}
	}

	scopeKey := naming.ResolveSandboxScopeKey(cfg.Scope, in.SessionName)
	return pluginapi.SandboxWorkspaceInfo{
		Enabled:         true,
		ScopeKey:        scopeKey,
		WorkspaceDir:    r.workspaceDir(cfg, in.SessionName),
		WorkspaceAccess: cfg.WorkspaceAccess,
	}
}

func (r *Resolver) workspaceDir(cfg pluginapi.SandboxConfig, sessionName string) string {
	if cfg.Scope == pluginapi.ScopeShared {
		return cfg.WorkspaceRoot
	}
	return naming.ResolveSandboxWorkspaceDir(cfg.WorkspaceRoot, sessionName)
}

// IsToolAllowed and FilterToolsByPolicy re-export the policy package's
// evaluators under the extension namespace's naming (§6 "sandbox"
// namespace).
func IsToolAllowed(p pluginapi.SandboxToolPolicy, name string) bool {
	return policy.IsToolAllowed(p, name)
}

func FilterToolsByPolicy(tools []string, p pluginapi.SandboxToolPolicy) policy.FilteredTools {
	return policy.FilterToolsByPolicy(tools, p)
}
