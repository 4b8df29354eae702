package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// HashInputs is the input to ComputeSandboxConfigHash (§4.F): the effective
// Docker config plus the two fields that affect what gets mounted into the
// container but don't live on SandboxDockerConfig itself.
type HashInputs struct {
	Docker          pluginapi.SandboxDockerConfig
	WorkspaceAccess pluginapi.WorkspaceAccess
	WorkspaceDir    string
}

// ComputeSandboxConfigHash returns a 64-char lowercase hex SHA-256 of the
// canonicalized input (§4.F). Canonicalization: undefined-valued fields are
// dropped, object keys are sorted (encoding/json already does this for
// map[string]any), and primitive arrays are sorted ascending. None of the
// hashed fields is an array of objects, so canonicalize has no rule for
// that case.
func ComputeSandboxConfigHash(in HashInputs) string {
	canon := canonicalize(in)
	// json.Marshal of a map[string]any sorts keys; combined with the
	// sorted primitive-array normalization in canonicalize, this produces
	// a stable byte sequence across runs and platforms.
	b, err := json.Marshal(canon)
	if err != nil {
		// canon is built exclusively from maps/slices/strings/numbers/bools;
		// json.Marshal cannot fail on that shape.
		panic("sandbox: unexpected marshal failure computing config hash: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalize(in HashInputs) map[string]any {
	d := in.Docker
	out := map[string]any{
		"workspaceAccess": string(in.WorkspaceAccess),
		"workspaceDir":    in.WorkspaceDir,
		"image":           d.Image,
		"containerPrefix": d.ContainerPrefix,
		"workdir":         d.Workdir,
		"readOnlyRoot":    d.ReadOnlyRoot,
		"network":         d.Network,
		"cpus":            d.Cpus,
		"selinuxRelabel":  d.SelinuxRelabel,
	}

	setSortedStrings(out, "tmpfs", d.Tmpfs)
	setSortedStrings(out, "capDrop", d.CapDrop)
	setSortedStrings(out, "dns", d.DNS)
	setSortedStrings(out, "extraHosts", d.ExtraHosts)
	setSortedStrings(out, "binds", d.Binds)

	if d.User != "" {
		out["user"] = d.User
	}
	if d.SetupCommand != "" {
		out["setupCommand"] = d.SetupCommand
	}
	if d.PidsLimit != nil {
		out["pidsLimit"] = *d.PidsLimit
	}
	if d.Memory != "" {
		out["memory"] = d.Memory
	}
	if d.MemorySwap != "" {
		out["memorySwap"] = d.MemorySwap
	}
	if d.SeccompProfile != "" {
		out["seccompProfile"] = d.SeccompProfile
	}
	if d.ApparmorProfile != "" {
		out["apparmorProfile"] = d.ApparmorProfile
	}
	if len(d.Env) > 0 {
		out["env"] = stringMapAny(d.Env)
	}
	if len(d.Labels) > 0 {
		out["labels"] = stringMapAny(d.Labels)
	}
	if len(d.Ulimits) > 0 {
		ulimits := make(map[string]any, len(d.Ulimits))
		for k, v := range d.Ulimits {
			ulimits[k] = canonicalizeUlimit(v)
		}
		out["ulimits"] = ulimits
	}

	return out
}

func canonicalizeUlimit(v pluginapi.UlimitValue) any {
	if v.Value != nil {
		return *v.Value
	}
	obj := map[string]any{}
	if v.Soft != nil {
		obj["soft"] = *v.Soft
	}
	if v.Hard != nil {
		obj["hard"] = *v.Hard
	}
	return obj
}

func setSortedStrings(out map[string]any, key string, values []string) {
	if len(values) == 0 {
		return
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	out[key] = sorted
}

func stringMapAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
