package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/dockerdriver"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/sandbox"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

type memRepo struct {
	records map[string]pluginapi.SandboxRegistryRecord
}

func newMemRepo() *memRepo { return &memRepo{records: map[string]pluginapi.SandboxRegistryRecord{}} }

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

type fakeDriver struct {
	mu        sync.Mutex
	state     map[string]dockerdriver.ContainerState
	hash      map[string]string
	created   []string
	removed   []string
	started   []string
	createErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{state: map[string]dockerdriver.ContainerState{}, hash: map[string]string{}}
}

func (f *fakeDriver) DockerContainerState(_ context.Context, name string) (dockerdriver.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[name], nil
}

func (f *fakeDriver) ReadContainerConfigHash(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash[name], nil
}

func (f *fakeDriver) RemoveContainer(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	delete(f.state, name)
}

func (f *fakeDriver) CreateContainer(_ context.Context, opts dockerdriver.CreateOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, opts.Name)
	f.state[opts.Name] = dockerdriver.ContainerState{Exists: true, Running: true}
	f.hash[opts.Name] = opts.ConfigHash
	return nil
}

func (f *fakeDriver) EnsureContainerRunning(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	st := f.state[name]
	st.Running = true
	f.state[name] = st
	return nil
}

func TestEnsureSandboxContainerCreatesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(newMemRepo(), nil)
	driver := newFakeDriver()
	orch := New(driver, reg, nil, "debian:bookworm-slim", "debian:bookworm-slim")

	cfg := sandbox.DefaultSandboxConfig()
	name, err := orch.EnsureSandboxContainer(ctx, EnsureInput{
		SessionKey:      "main",
		Scope:           pluginapi.ScopeSession,
		WorkspaceDir:    "/home/x/.wopr/sandboxes/main",
		WorkspaceAccess: pluginapi.WorkspaceRW,
		Cfg:             cfg,
		Now:             1000,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{name}, driver.created)

	rec, found, err := reg.Find(ctx, name)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 1000, rec.CreatedAtMs)
}

func TestEnsureSandboxContainerStartsWhenStopped(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(newMemRepo(), nil)
	driver := newFakeDriver()
	orch := New(driver, reg, nil, "debian:bookworm-slim", "debian:bookworm-slim")

	cfg := sandbox.DefaultSandboxConfig()
	hash := sandbox.ComputeSandboxConfigHash(sandbox.HashInputs{
		Docker:          cfg,
		WorkspaceAccess: pluginapi.WorkspaceRW,
		WorkspaceDir:    "/ws",
	})
	name := ContainerName(cfg.ContainerPrefix, pluginapi.ScopeSession, "main")
	driver.state[name] = dockerdriver.ContainerState{Exists: true, Running: false}
	driver.hash[name] = hash

	_, err := orch.EnsureSandboxContainer(ctx, EnsureInput{
		SessionKey:      "main",
		Scope:           pluginapi.ScopeSession,
		WorkspaceDir:    "/ws",
		WorkspaceAccess: pluginapi.WorkspaceRW,
		Cfg:             cfg,
		Now:             2000,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{name}, driver.started)
	assert.Empty(t, driver.created)
}

func TestEnsureSandboxContainerColdDriftRecreates(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(newMemRepo(), nil)
	driver := newFakeDriver()
	orch := New(driver, reg, nil, "debian:bookworm-slim", "debian:bookworm-slim")

	cfg := sandbox.DefaultSandboxConfig()
	name := ContainerName(cfg.ContainerPrefix, pluginapi.ScopeSession, "main")
	driver.state[name] = dockerdriver.ContainerState{Exists: true, Running: false}
	driver.hash[name] = "stale-hash"

	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: name, CreatedAtMs: 1, LastUsedAtMs: 1, Image: cfg.Image, ConfigHash: "stale-hash",
	}))

	_, err := orch.EnsureSandboxContainer(ctx, EnsureInput{
		SessionKey:      "main",
		Scope:           pluginapi.ScopeSession,
		WorkspaceDir:    "/ws",
		WorkspaceAccess: pluginapi.WorkspaceRW,
		Cfg:             cfg,
		Now:             1_000_000,
	})
	require.NoError(t, err)
	assert.Contains(t, driver.removed, name)
	assert.Contains(t, driver.created, name)
}

func TestEnsureSandboxContainerHotDriftSkipsRecreate(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(newMemRepo(), nil)
	driver := newFakeDriver()
	orch := New(driver, reg, nil, "debian:bookworm-slim", "debian:bookworm-slim")

	cfg := sandbox.DefaultSandboxConfig()
	name := ContainerName(cfg.ContainerPrefix, pluginapi.ScopeSession, "main")
	driver.state[name] = dockerdriver.ContainerState{Exists: true, Running: true}
	driver.hash[name] = "stale-hash"

	lastUsed := int64(100_000)
	require.NoError(t, reg.Update(ctx, pluginapi.SandboxRegistryRecord{
		ContainerName: name, CreatedAtMs: 1, LastUsedAtMs: lastUsed, Image: cfg.Image, ConfigHash: "stale-hash",
	}))

	returnedName, err := orch.EnsureSandboxContainer(ctx, EnsureInput{
		SessionKey:      "main",
		Scope:           pluginapi.ScopeSession,
		WorkspaceDir:    "/ws",
		WorkspaceAccess: pluginapi.WorkspaceRW,
		Cfg:             cfg,
		Now:             lastUsed + 60_000, // 1 minute later, within the 5 minute hot window
	})
	require.NoError(t, err)
	assert.Equal(t, name, returnedName)
	assert.Empty(t, driver.removed)
	assert.Empty(t, driver.created)

	rec, found, err := reg.Find(ctx, name)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "stale-hash", rec.ConfigHash)
}

func TestContainerNameClampsTo63(t *testing.T) {
	longKey := "a-very-long-session-identifier-that-goes-on-and-on-and-on-and-on"
	name := ContainerName("wopr-sandbox-", pluginapi.ScopeSession, longKey)
	assert.LessOrEqual(t, len(name), 63)
}

func TestContainerNameSharedScope(t *testing.T) {
	name := ContainerName("wopr-sandbox-", pluginapi.ScopeShared, "anything")
	assert.Equal(t, "wopr-sandbox-shared", name)
}

// TestEnsureSandboxContainerSerializesConcurrentCreates exercises the
// per-containerName mutex: many goroutines racing EnsureSandboxContainer
// for the same session must observe exactly one CreateContainer call, not
// one per goroutine.
func TestEnsureSandboxContainerSerializesConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(newMemRepo(), nil)
	driver := newFakeDriver()
	orch := New(driver, reg, nil, "debian:bookworm-slim", "debian:bookworm-slim")
	cfg := sandbox.DefaultSandboxConfig()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := orch.EnsureSandboxContainer(ctx, EnsureInput{
				SessionKey:      "main",
				Scope:           pluginapi.ScopeSession,
				WorkspaceDir:    "/home/x/.wopr/sandboxes/main",
				WorkspaceAccess: pluginapi.WorkspaceRW,
				Cfg:             cfg,
				Now:             1000,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Len(t, driver.created, 1)
}
