package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/dockerdriver"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/lifecycle"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
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
	state map[string]dockerdriver.ContainerState
	hash  map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{state: map[string]dockerdriver.ContainerState{}, hash: map[string]string{}}
}

func (f *fakeDriver) DockerContainerState(_ context.Context, name string) (dockerdriver.ContainerState, error) {
	return f.state[name], nil
}
func (f *fakeDriver) ReadContainerConfigHash(_ context.Context, name string) (string, error) {
	return f.hash[name], nil
}
func (f *fakeDriver) RemoveContainer(_ context.Context, name string) { delete(f.state, name) }
func (f *fakeDriver) CreateContainer(_ context.Context, opts dockerdriver.CreateOptions) error {
	f.state[opts.Name] = dockerdriver.ContainerState{Exists: true, Running: true}
	f.hash[opts.Name] = opts.ConfigHash
	return nil
}
func (f *fakeDriver) EnsureContainerRunning(_ context.Context, name string) error { return nil }

type fakePruner struct{ calls int }

func (f *fakePruner) MaybePrune(_ context.Context, _ pluginapi.SandboxPruneConfig, _ int64) {
	f.calls++
}

type fakeChecker struct {
	calls int
	err   error
}

func (f *fakeChecker) CheckDockerAvailable(_ context.Context) error {
	f.calls++
	return f.err
}

func newResolver(t *testing.T) (*Resolver, *fakePruner) {
	t.Helper()
	r, pruner, _ := newResolverWithChecker(t, nil)
	return r, pruner
}

func newResolverWithChecker(t *testing.T, checker DockerChecker) (*Resolver, *fakePruner, *lifecycle.Orchestrator) {
	t.Helper()
	reg := registry.New(newMemRepo(), nil)
	orch := lifecycle.New(newFakeDriver(), reg, nil, "debian:bookworm-slim", "debian:bookworm-slim")
	pruner := &fakePruner{}
	r := New(orch, pruner, nil, func() int64 { return 1_000_000 }, checker)
	r.mkdirAll = func(string) error { return nil }
	return r, pruner, orch
}

func TestResolveSandboxContextOffModeReturnsNil(t *testing.T) {
	r, _ := newResolver(t)
	ctx, err := r.ResolveSandboxContext(context.Background(), ResolveInput{
		SessionName: "main",
		Host:        &pluginapi.HostSandboxConfig{},
	})
	require.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestResolveSandboxContextUntrustedForcesSandbox(t *testing.T) {
	r, pruner := newResolver(t)
	sctx, err := r.ResolveSandboxContext(context.Background(), ResolveInput{
		SessionName: "agent-1",
		TrustLevel:  pluginapi.TrustUntrusted,
		Host:        &pluginapi.HostSandboxConfig{},
	})
	require.NoError(t, err)
	require.NotNil(t, sctx)
	assert.True(t, sctx.Enabled)
	assert.NotEmpty(t, sctx.ContainerName)
	assert.Equal(t, 1, pruner.calls)
}

func TestResolveSandboxContextChecksDockerAvailabilityOnce(t *testing.T) {
	checker := &fakeChecker{}
	r, _, _ := newResolverWithChecker(t, checker)

	for i := 0; i < 3; i++ {
		_, err := r.ResolveSandboxContext(context.Background(), ResolveInput{
			SessionName: "agent-1",
			TrustLevel:  pluginapi.TrustUntrusted,
			Host:        &pluginapi.HostSandboxConfig{},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, checker.calls)
}

func TestResolveSandboxContextPropagatesDockerUnavailable(t *testing.T) {
	checker := &fakeChecker{err: assert.AnError}
	r, _, _ := newResolverWithChecker(t, checker)

	_, err := r.ResolveSandboxContext(context.Background(), ResolveInput{
		SessionName: "agent-1",
		TrustLevel:  pluginapi.TrustUntrusted,
		Host:        &pluginapi.HostSandboxConfig{},
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGetSandboxWorkspaceInfoDoesNotTouchDocker(t *testing.T) {
	r, _ := newResolver(t)
	info := r.GetSandboxWorkspaceInfo(ResolveInput{
		SessionName: "agent-1",
		TrustLevel:  pluginapi.TrustUntrusted,
		Host:        &pluginapi.HostSandboxConfig{},
	})
	assert.True(t, info.Enabled)
	assert.NotEmpty(t, info.WorkspaceDir)
}
