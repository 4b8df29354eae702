package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

type memRepo struct {
	records map[string]pluginapi.SandboxRegistryRecord
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[string]pluginapi.SandboxRegistryRecord{}}
}

func (m *memRepo) Get(_ context.Context, id string) (pluginapi.SandboxRegistryRecord, bool, error) {
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *memRepo) Put(_ context.Context, rec pluginapi.SandboxRegistryRecord, insertOnly bool) error {
	if insertOnly {
		if _, exists := m.records[rec.ID]; exists {
			return pluginapi.ErrConflict
		}
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

func (m *memRepo) List(_ context.Context) ([]pluginapi.SandboxRegistryRecord, error) {
	out := make([]pluginapi.SandboxRegistryRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func TestUpdatePreservesCreatedAtAndImage(t *testing.T) {
	ctx := context.Background()
	reg := New(newMemRepo(), nil)

	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: "wopr-sandbox-main-abcd1234",
		SessionKey:    "main",
		CreatedAtMs:   100,
		LastUsedAtMs:  100,
		Image:         "debian:bookworm-slim",
	}))

	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: "wopr-sandbox-main-abcd1234",
		SessionKey:    "main",
		CreatedAtMs:   999,
		LastUsedAtMs:  500,
		Image:         "ubuntu:latest",
	}))

	rec, found, err := reg.Find(ctx, "wopr-sandbox-main-abcd1234")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 100, rec.CreatedAtMs)
	assert.Equal(t, "debian:bookworm-slim", rec.Image)
	assert.EqualValues(t, 500, rec.LastUsedAtMs)
}

func TestUpdatePreservesConfigHashWhenNotProvided(t *testing.T) {
	ctx := context.Background()
	reg := New(newMemRepo(), nil)

	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: "c1",
		ConfigHash:    "deadbeef",
		CreatedAtMs:   1,
		LastUsedAtMs:  1,
	}))

	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: "c1",
		CreatedAtMs:   1,
		LastUsedAtMs:  2,
	}))

	rec, _, err := reg.Find(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", rec.ConfigHash)
}

func TestUpdateOverPreexistingRecordKeepsCreatedAtAndImage(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	// Pre-seed as if another writer inserted first.
	repo.records["c2"] = pluginapi.SandboxRegistryRecord{
		ID: "c2", ContainerName: "c2", CreatedAtMs: 5, Image: "first",
	}

	reg := New(repo, nil)
	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: "c2", CreatedAtMs: 999, Image: "second", LastUsedAtMs: 10,
	}))

	rec, _, err := reg.Find(ctx, "c2")
	require.NoError(t, err)
	assert.EqualValues(t, 5, rec.CreatedAtMs)
	assert.Equal(t, "first", rec.Image)
}

func TestRemoveAndListAll(t *testing.T) {
	ctx := context.Background()
	reg := New(newMemRepo(), nil)
	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{ContainerName: "a", CreatedAtMs: 1, LastUsedAtMs: 1}))
	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{ContainerName: "b", CreatedAtMs: 1, LastUsedAtMs: 1}))

	all, err := reg.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, reg.Remove(ctx, "a"))
	all, err = reg.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
