// Package migration implements component M: a one-shot import of the
// legacy JSON sandbox registry into the host's persistent repository. The
// file shape is grounded on sipeed-picoclaw's JSON registry
// (registryEntry/loadRegistry), repointed here at an upsert into
// pluginapi.Repository instead of an in-memory map.
package migration

import (
	"context"
	"encoding/json"
	"os"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/errs"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// legacyFile is the on-disk shape of the legacy registry at
// $WOPR_HOME/sandbox/containers.json (§6 "Persisted state").
type legacyFile struct {
	Entries []legacyEntry `json:"entries"`
}

type legacyEntry struct {
	ContainerName string `json:"containerName"`
	SessionKey    string `json:"sessionKey"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	LastUsedAtMs  int64  `json:"lastUsedAtMs"`
	Image         string `json:"image"`
	ConfigHash    string `json:"configHash"`
}

func (e legacyEntry) valid() bool {
	return e.ContainerName != "" && e.SessionKey != "" && e.Image != "" && e.CreatedAtMs > 0 && e.LastUsedAtMs > 0
}

// Result reports how many legacy entries were imported and skipped.
type Result struct {
	Imported int
	Skipped  int
}

// Migrate reads the legacy registry file at path, if present, upserts each
// valid entry into reg, and renames the file to "<path>.backup". Invalid
// entries are counted as skipped and logged as a warning; any other read,
// parse, or rename failure propagates. A missing file is not an error and
// returns a zero Result.
func Migrate(ctx context.Context, path string, reg *registry.Registry, log pluginapi.Logger) (Result, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, errs.Newf(errs.KindMigration, "reading legacy sandbox registry %s: %v", path, err)
	}

	var file legacyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Result{}, errs.Newf(errs.KindMigration, "parsing legacy sandbox registry %s: %v", path, err)
	}

	var result Result
	for _, e := range file.Entries {
		if !e.valid() {
			result.Skipped++
			if log != nil {
				log.WithField("containerName", e.ContainerName).Warnf("skipping invalid legacy registry entry during migration")
			}
			continue
		}
		if err := reg.Update(ctx, pluginapi.SandboxRegistryRecord{
			ContainerName: e.ContainerName,
			SessionKey:    e.SessionKey,
			CreatedAtMs:   e.CreatedAtMs,
			LastUsedAtMs:  e.LastUsedAtMs,
			Image:         e.Image,
			ConfigHash:    e.ConfigHash,
		}); err != nil {
			return result, err
		}
		result.Imported++
	}

	if err := os.Rename(path, path+".backup"); err != nil {
		return result, errs.Newf(errs.KindMigration, "renaming legacy sandbox registry %s to backup: %v", path, err)
	}
	return result, nil
}
