// Package registry implements component H: CRUD over the persistent
// per-container records the host's repository holds, indexed by container
// name (the primary key). The upsert-preserves-createdAt/image idiom is
// grounded on the pack's sipeed-picoclaw sandbox package
// (registryEntry/loadRegistry/upsertRegistryEntry), re-targeted from a JSON
// file onto the host-injected pluginapi.Repository interface.
package registry

import (
	"context"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// Registry wraps a pluginapi.Repository with the upsert semantics of §4.H.
type Registry struct {
	repo pluginapi.Repository
	log  pluginapi.Logger
}

// New wraps repo. log may be nil, in which case warnings about retried
// write races are dropped silently (useful in tests).
func New(repo pluginapi.Repository, log pluginapi.Logger) *Registry {
	return &Registry{repo: repo, log: log}
}

// Update upserts entry. On an existing record, createdAtMs and image are
// preserved from the stored value; sessionKey and lastUsedAtMs take the new
// entry's values; configHash takes the new value if provided, else the
// existing one is preserved. An insert race (ErrConflict) is retried once
// as an update (§4.H, §7 "Registry write races").
func (r *Registry) Update(ctx context.Context, entry pluginapi.SandboxRegistryRecord) error {
	existing, found, err := r.repo.Get(ctx, entry.ContainerName)
	if err != nil {
		return err
	}

	rec := entry
	rec.ID = entry.ContainerName
	if found {
		rec.CreatedAtMs = existing.CreatedAtMs
		rec.Image = existing.Image
		if rec.ConfigHash == "" {
			rec.ConfigHash = existing.ConfigHash
		}
		return r.repo.Put(ctx, rec, false)
	}

	err = r.repo.Put(ctx, rec, true)
	if err == pluginapi.ErrConflict {
		if r.log != nil {
			r.log.WithField("container", entry.ContainerName).Warnf("registry insert raced with a concurrent writer, retrying as update")
		}
		existing, found, getErr := r.repo.Get(ctx, entry.ContainerName)
		if getErr != nil {
			return getErr
		}
		if found {
			rec.CreatedAtMs = existing.CreatedAtMs
			rec.Image = existing.Image
			if rec.ConfigHash == "" {
				rec.ConfigHash = existing.ConfigHash
			}
		}
		return r.repo.Put(ctx, rec, false)
	}
	return err
}

// Remove deletes the record for containerName, if present.
func (r *Registry) Remove(ctx context.Context, containerName string) error {
	return r.repo.Delete(ctx, containerName)
}

// Find looks up a record by container name.
func (r *Registry) Find(ctx context.Context, containerName string) (pluginapi.SandboxRegistryRecord, bool, error) {
	return r.repo.Get(ctx, containerName)
}

// ListAll returns every registry record.
func (r *Registry) ListAll(ctx context.Context) ([]pluginapi.SandboxRegistryRecord, error) {
	return r.repo.List(ctx)
}
