// Package prune implements component I: idle/age eviction of sandbox
// containers. The rate-limited pull-model maybePrune plus a self-healing
// eviction order (best-effort docker rm, then unconditional registry
// removal) is grounded on miken90-goclaw's DockerManager.Prune; the
// additional background ticker is grounded on the same package's
// startPruning goroutine (see SPEC_FULL.md supplemented feature 4).
package prune

import (
	"context"
	"sync"
	"time"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// debounceMs is the minimum wall-clock gap between two prune passes (§4.I,
// §8 invariant 9).
const debounceMs int64 = 5 * 60 * 1000

// ContainerRemover removes a container best-effort; it reports no failure to
// the caller, matching the Docker driver's RemoveContainer.
type ContainerRemover interface {
	RemoveContainer(ctx context.Context, name string)
}

// Pruner evicts registry entries whose idle or age threshold has been
// crossed. lastPruneAtMs is process-wide state guarded only by the debounce
// mutex; a race may permit a redundant pass but never violates correctness.
type Pruner struct {
	reg    *registry.Registry
	docker ContainerRemover
	log    pluginapi.Logger

	mu             sync.Mutex
	lastPruneAtMs  int64
}

// New constructs a Pruner. log may be nil.
func New(reg *registry.Registry, docker ContainerRemover, log pluginapi.Logger) *Pruner {
	return &Pruner{reg: reg, docker: docker, log: log}
}

// MaybePrune runs Prune at most once per 5-minute wall-clock window,
// process-wide. Call failures are logged and swallowed (§4.I).
func (p *Pruner) MaybePrune(ctx context.Context, cfg pluginapi.SandboxPruneConfig, nowMs int64) {
	p.mu.Lock()
	if nowMs-p.lastPruneAtMs < debounceMs {
		p.mu.Unlock()
		return
	}
	p.lastPruneAtMs = nowMs
	p.mu.Unlock()

	if _, err := p.Prune(ctx, cfg, nowMs); err != nil && p.log != nil {
		p.log.WithError(err).Warnf("sandbox prune pass failed")
	}
}

// Prune evicts every registry entry whose idle or age threshold has been
// crossed. idleHours==0 and maxAgeDays==0 together disable pruning
// entirely. Eviction order is best-effort docker rm, then unconditional
// registry removal, so a stuck or already-gone container never leaves a
// registry entry stranded (§4.I "self-healing").
func (p *Pruner) Prune(ctx context.Context, cfg pluginapi.SandboxPruneConfig, nowMs int64) (int, error) {
	if cfg.IdleHours == 0 && cfg.MaxAgeDays == 0 {
		return 0, nil
	}

	entries, err := p.reg.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !shouldEvict(entry, cfg, nowMs) {
			continue
		}
		p.docker.RemoveContainer(ctx, entry.ContainerName)
		if err := p.reg.Remove(ctx, entry.ContainerName); err != nil {
			if p.log != nil {
				p.log.WithError(err).WithField("container", entry.ContainerName).Warnf("failed to remove registry entry during prune")
			}
			continue
		}
		removed++
	}
	return removed, nil
}

// PruneAll tears down every known registry entry unconditionally,
// regardless of idle/age thresholds. Used on plugin shutdown. Returns the
// count removed.
func (p *Pruner) PruneAll(ctx context.Context) (int, error) {
	entries, err := p.reg.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		p.docker.RemoveContainer(ctx, entry.ContainerName)
		if err := p.reg.Remove(ctx, entry.ContainerName); err != nil {
			if p.log != nil {
				p.log.WithError(err).WithField("container", entry.ContainerName).Warnf("failed to remove registry entry during shutdown prune")
			}
			continue
		}
		removed++
	}
	return removed, nil
}

func shouldEvict(entry pluginapi.SandboxRegistryRecord, cfg pluginapi.SandboxPruneConfig, nowMs int64) bool {
	idleMs := nowMs - entry.LastUsedAtMs
	ageMs := nowMs - entry.CreatedAtMs

	idleExceeded := cfg.IdleHours > 0 && idleMs > int64(cfg.IdleHours)*3600*1000
	ageExceeded := cfg.MaxAgeDays > 0 && ageMs > int64(cfg.MaxAgeDays)*86400*1000
	return idleExceeded || ageExceeded
}

// RunTicker runs MaybePrune on a fixed interval until ctx is cancelled.
// Supplemented feature (SPEC_FULL.md): a push-model complement to the
// pull-model MaybePrune, for hosts that want background reclamation
// between session resolutions. Does not bypass MaybePrune's own debounce.
func (p *Pruner) RunTicker(ctx context.Context, interval time.Duration, cfgFn func() pluginapi.SandboxPruneConfig, nowFn func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.MaybePrune(ctx, cfgFn(), nowFn())
		}
	}
}
