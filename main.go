package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-errors/errors"

	sandboxctx "github.com/wopr-network/wopr-plugin-sandbox/internal/context"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/dockerdriver"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/hostrepo"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/lifecycle"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/logging"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/migration"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/policy"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/prune"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/runtimectx"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/sandbox"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

const DefaultVersion = "unversioned"

var (
	commit      string
	version     = DefaultVersion
	date        string
	buildSource = "unknown"
)

// Manifest is the plugin manifest the host reads at registration (§6).
var Manifest = pluginapi.Manifest{
	Name:         "wopr-plugin-sandbox",
	Version:      "1.0.0",
	Category:     "infrastructure",
	Capabilities: []string{"sandbox"},
}

// Plugin bundles the resolved components behind the extension namespace
// operations described in §6. A host builds one via NewPlugin at
// registration time and keeps it for the process lifetime.
type Plugin struct {
	Resolver *sandboxctx.Resolver
	Registry *registry.Registry
	Driver   *dockerdriver.Driver

	pruner     *prune.Pruner
	log        pluginapi.Logger
	getMainCfg pluginapi.ConfigGetter
}

// NewPlugin wires every component together the way the teacher's
// app.NewApp wires Log/Config/OSCommand/DockerCommand once at startup
// (pkg/app/app.go), registers the result as the process-wide runtime
// context, and migrates any legacy JSON registry found under woprHome.
func NewPlugin(ctx context.Context, deps pluginapi.RuntimeDeps, woprHome string) (*Plugin, error) {
	runtimectx.Init(deps)

	reg := registry.New(deps.Repository, deps.Logger)
	driver := dockerdriver.New(deps.Logger)
	orchestrator := lifecycle.New(driver, reg, deps.Logger, sandbox.DefaultSandboxImage, sandbox.DefaultSandboxImage)
	pruner := prune.New(reg, driver, deps.Logger)
	resolver := sandboxctx.New(orchestrator, pruner, deps.Logger, nowMs, driver)

	legacyPath := filepath.Join(woprHome, "sandbox", "containers.json")
	result, err := migration.Migrate(ctx, legacyPath, reg, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("migrating legacy sandbox registry: %w", err)
	}
	if result.Imported > 0 || result.Skipped > 0 {
		deps.Logger.WithField("imported", result.Imported).WithField("skipped", result.Skipped).Infof("migrated legacy sandbox registry")
	}

	return &Plugin{
		Resolver:   resolver,
		Registry:   reg,
		Driver:     driver,
		pruner:     pruner,
		log:        deps.Logger,
		getMainCfg: deps.GetMainConfig,
	}, nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

// hostSandboxConfig reads the `.sandbox` partial off the host's current
// merged config, the way every §6 extension-namespace operation does before
// delegating to component E.
func (p *Plugin) hostSandboxConfig() *pluginapi.HostSandboxConfig {
	if p.getMainCfg == nil {
		return nil
	}
	cfg := p.getMainCfg()
	if cfg == nil {
		return nil
	}
	return cfg.Sandbox()
}

func (p *Plugin) resolveInput(req pluginapi.SessionRequest) sandboxctx.ResolveInput {
	return sandboxctx.ResolveInput{
		SessionName: req.SessionName,
		TrustLevel:  req.TrustLevel,
		Host:        p.hostSandboxConfig(),
	}
}

// ResolveSandboxContext is the §6 extension-namespace operation
// "resolveSandboxContext".
func (p *Plugin) ResolveSandboxContext(ctx context.Context, req pluginapi.SessionRequest) (*pluginapi.SandboxContext, error) {
	return p.Resolver.ResolveSandboxContext(ctx, p.resolveInput(req))
}

// GetSandboxWorkspaceInfo is the §6 extension-namespace operation
// "getSandboxWorkspaceInfo".
func (p *Plugin) GetSandboxWorkspaceInfo(req pluginapi.SessionRequest) pluginapi.SandboxWorkspaceInfo {
	return p.Resolver.GetSandboxWorkspaceInfo(p.resolveInput(req))
}

// ResolveSandboxConfig is the §6 extension-namespace operation
// "resolveSandboxConfig".
func (p *Plugin) ResolveSandboxConfig(req pluginapi.SessionRequest) pluginapi.SandboxConfig {
	return sandbox.ResolveSandboxConfig(sandbox.ResolveSandboxConfigInputs{
		SessionName: req.SessionName,
		TrustLevel:  req.TrustLevel,
		Host:        p.hostSandboxConfig(),
	})
}

// ShouldSandbox is the §6 extension-namespace operation "shouldSandbox".
func (p *Plugin) ShouldSandbox(req pluginapi.SessionRequest) bool {
	cfg := p.ResolveSandboxConfig(req)
	return sandbox.ShouldSandbox(cfg.Mode, req.SessionName)
}

// IsToolAllowed is the §6 extension-namespace operation "isToolAllowed".
func (p *Plugin) IsToolAllowed(pol pluginapi.SandboxToolPolicy, name string) bool {
	return sandboxctx.IsToolAllowed(pol, name)
}

// FilterToolsByPolicy is the §6 extension-namespace operation
// "filterToolsByPolicy".
func (p *Plugin) FilterToolsByPolicy(tools []string, pol pluginapi.SandboxToolPolicy) policy.FilteredTools {
	return sandboxctx.FilterToolsByPolicy(tools, pol)
}

// ExecInContainer is the §6 extension-namespace operation "execInContainer".
func (p *Plugin) ExecInContainer(ctx context.Context, name, command string, opts dockerdriver.ExecOptions) (pluginapi.ExecResult, error) {
	return p.Driver.ExecInContainer(ctx, name, command, opts)
}

// ExecInContainerRaw is the §6 extension-namespace operation
// "execInContainerRaw".
func (p *Plugin) ExecInContainerRaw(ctx context.Context, name string, argv []string, opts dockerdriver.ExecOptions) (pluginapi.ExecResult, error) {
	return p.Driver.ExecInContainerRaw(ctx, name, argv, opts)
}

// ExecDocker is the §6 extension-namespace operation "execDocker".
func (p *Plugin) ExecDocker(ctx context.Context, args []string, allowFailure bool) (dockerdriver.ExecResult, error) {
	return p.Driver.ExecDocker(ctx, args, allowFailure)
}

// PruneAllSandboxes is the §6 extension-namespace operation
// "pruneAllSandboxes".
func (p *Plugin) PruneAllSandboxes(ctx context.Context) (int, error) {
	return p.pruner.PruneAll(ctx)
}

// Shutdown is idempotent and best-effort purges every sandbox container
// (§6 "Plugin manifest").
func (p *Plugin) Shutdown(ctx context.Context) {
	n, err := p.pruner.PruneAll(ctx)
	if err != nil {
		p.log.WithError(err).Warnf("sandbox shutdown prune did not complete cleanly")
		return
	}
	p.log.WithField("removed", n).Infof("sandbox shutdown prune complete")
}

// emptyMainConfig is the fallback MainConfig used when main.go is run
// standalone rather than loaded by a host; a real host supplies its own
// implementation over RuntimeDeps.GetMainConfig.
type emptyMainConfig struct{}

func (emptyMainConfig) Sandbox() *pluginapi.HostSandboxConfig { return nil }

func main() {
	updateBuildInfo()

	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, buildSource, commit, runtime.GOOS, runtime.GOARCH,
	)
	fmt.Println(info)

	woprHome := os.Getenv("WOPR_HOME")
	if woprHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err.Error())
		}
		woprHome = filepath.Join(home, ".wopr")
	}

	entry := logging.New(os.Getenv("WOPR_SANDBOX_DEBUG") == "1")

	repo, err := hostrepo.Open(filepath.Join(woprHome, "sandbox", "registry.db"))
	if err != nil {
		log.Fatal(errors.Wrap(err, 0).ErrorStack())
	}
	defer repo.Close()

	deps := pluginapi.RuntimeDeps{
		Logger:     entry,
		Repository: repo,
		GetMainConfig: func() pluginapi.MainConfig {
			return emptyMainConfig{}
		},
	}

	if _, err := NewPlugin(context.Background(), deps, woprHome); err != nil {
		log.Fatal(errors.Wrap(err, 0).ErrorStack())
	}

	fmt.Println("wopr-plugin-sandbox registered; see cmd/sandboxctl for operator commands")
}

func updateBuildInfo() {
	if version == DefaultVersion {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range buildInfo.Settings {
				switch setting.Key {
				case "vcs.revision":
					commit = setting.Value
					if len(commit) > 7 {
						version = commit[:7]
					} else {
						version = commit
					}
				case "vcs.time":
					date = setting.Value
				}
			}
		}
	}
}
