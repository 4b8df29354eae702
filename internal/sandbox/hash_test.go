package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

func baseHashInputs() HashInputs {
	return HashInputs{
		Docker: pluginapi.SandboxDockerConfig{
			Image:        DefaultSandboxImage,
			Workdir:      DefaultWorkdir,
			ReadOnlyRoot: true,
			Network:      "none",
			CapDrop:      []string{"ALL", "NET_RAW"},
		},
		WorkspaceAccess: pluginapi.WorkspaceRO,
		WorkspaceDir:    "/home/user/.wopr/sandboxes/main-abcd1234",
	}
}

func TestComputeSandboxConfigHashDeterministic(t *testing.T) {
	in := baseHashInputs()
	assert.Equal(t, ComputeSandboxConfigHash(in), ComputeSandboxConfigHash(in))
	assert.Len(t, ComputeSandboxConfigHash(in), 64)
}

func TestComputeSandboxConfigHashCapDropOrderIndependent(t *testing.T) {
	a := baseHashInputs()
	b := baseHashInputs()
	b.Docker.CapDrop = []string{"NET_RAW", "ALL"}

	assert.Equal(t, ComputeSandboxConfigHash(a), ComputeSandboxConfigHash(b))
}

func TestComputeSandboxConfigHashChangesOnFieldChange(t *testing.T) {
	a := baseHashInputs()
	b := baseHashInputs()
	b.Docker.Network = "host"

	assert.NotEqual(t, ComputeSandboxConfigHash(a), ComputeSandboxConfigHash(b))
}

func TestComputeSandboxConfigHashChangesOnEnvValueChange(t *testing.T) {
	a := baseHashInputs()
	a.Docker.Env = map[string]string{"FOO": "bar"}
	b := baseHashInputs()
	b.Docker.Env = map[string]string{"FOO": "baz"}

	assert.NotEqual(t, ComputeSandboxConfigHash(a), ComputeSandboxConfigHash(b))
}

func TestComputeSandboxConfigHashChangesOnBindsChange(t *testing.T) {
	a := baseHashInputs()
	a.Docker.Binds = []string{"/h/a:/c/a"}
	b := baseHashInputs()
	b.Docker.Binds = []string{"/h/b:/c/b"}

	assert.NotEqual(t, ComputeSandboxConfigHash(a), ComputeSandboxConfigHash(b))
}
