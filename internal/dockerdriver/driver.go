// Package dockerdriver implements component J: the Docker CLI subprocess
// driver. The subprocess-and-capture idiom (spawn, capture stdout/stderr
// separately, map non-zero exit to an error built from stderr) is grounded
// on OSCommand.RunCommandWithOutput/sanitisedCommandOutput in the teacher's
// pkg/commands/os.go; the create-argument-vector shape and the
// hash-mismatch/exec/destroy lifecycle are grounded on the pack's
// miken90-goclaw sandbox package (newDockerSandbox, Exec, Destroy).
package dockerdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/go-errors/errors"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/errs"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/guards"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// noSuchImage is the exact Docker CLI stderr substring that distinguishes
// "image not present" from any other `docker image inspect` failure (§9
// "Docker driver as subprocess": the CLI's textual output is part of the
// contract).
const noSuchImage = "No such image"

// noValueLabel is what `docker inspect -f {{index .Config.Labels "..."}}`
// prints when the label is absent.
const noValueLabel = "<no value>"

// daemonUnreachableSubstring is the Docker CLI's stderr text when the
// daemon itself cannot be reached, as opposed to a command the daemon ran
// and rejected. Distinguishing the two lets EnsureDockerImage give the
// operator "start Docker" guidance instead of "image not found" guidance
// for the same non-zero exit code (supplemented feature 5, SPEC_FULL.md).
const daemonUnreachableSubstring = "Cannot connect to the Docker daemon"

// classifyDockerErr picks KindDaemonUnreachable when stderr carries the
// daemon's own unreachable message, KindDocker otherwise.
func classifyDockerErr(stderr string) errs.Kind {
	if strings.Contains(stderr, daemonUnreachableSubstring) {
		return errs.KindDaemonUnreachable
	}
	return errs.KindDocker
}

const defaultOutputCap = 1 << 20 // 1MiB, supplemented feature 2 (SPEC_FULL.md)

// Driver runs `docker` as a subprocess. The command constructor is
// swappable for tests, mirroring OSCommand.SetCommand in the teacher.
type Driver struct {
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	log     pluginapi.Logger
}

// New returns a Driver that shells out to the real `docker` binary.
func New(log pluginapi.Logger) *Driver {
	return &Driver{
		command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, name, args...)
		},
		log: log,
	}
}

// SetCommand overrides the command constructor. For tests only.
func (d *Driver) SetCommand(f func(ctx context.Context, name string, args ...string) *exec.Cmd) {
	d.command = f
}

// ExecResult is the raw result of running the docker CLI once.
type ExecResult struct {
	Stdout string
	Stderr string
	Code   int
}

// ExecDocker runs `docker <args...>`, capturing stdout/stderr separately.
// When allowFailure is false, a non-zero exit returns an error built from
// the trimmed stderr (or a fallback message if stderr is empty). When true,
// the exit code is returned instead of an error for a non-zero exit, and a
// process-level failure to even start docker is mapped to code 1 (§4.J, §7).
func (d *Driver) ExecDocker(ctx context.Context, args []string, allowFailure bool) (ExecResult, error) {
	cmd := d.command(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if allowFailure {
			code = 1
		} else {
			return ExecResult{}, errs.Newf(errs.KindDocker, "docker %s: %v", strings.Join(args, " "), err)
		}
	}

	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), Code: code}
	if code != 0 && !allowFailure {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("docker %s exited with code %d", strings.Join(args, " "), code)
		}
		return result, errs.New(classifyDockerErr(stderr.String()), msg)
	}
	return result, nil
}

// CheckDockerAvailable verifies the Docker CLI and daemon are reachable.
// Supplemented feature 1 (SPEC_FULL.md), grounded on miken90-goclaw's
// CheckDockerAvailable.
func (d *Driver) CheckDockerAvailable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := d.ExecDocker(ctx, []string{"info", "--format", "{{.ServerVersion}}"}, true)
	if err != nil {
		return err
	}
	if res.Code != 0 {
		return errs.Newf(classifyDockerErr(res.Stderr), "docker not available: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// DockerImageExists reports whether image is present locally.
func (d *Driver) DockerImageExists(ctx context.Context, image string) (bool, error) {
	res, err := d.ExecDocker(ctx, []string{"image", "inspect", image}, true)
	if err != nil {
		return false, err
	}
	if res.Code == 0 {
		return true, nil
	}
	if strings.Contains(res.Stderr, noSuchImage) {
		return false, nil
	}
	return false, errs.Newf(classifyDockerErr(res.Stderr), "docker image inspect %s: %s", image, strings.TrimSpace(res.Stderr))
}

// EnsureDockerImage pulls and tags the fallback image when the missing
// image is the plugin's own default; any other missing image is a hard
// configuration error instructing the operator (§4.J, §7).
func (d *Driver) EnsureDockerImage(ctx context.Context, image, defaultImage, fallbackImage string) error {
	exists, err := d.DockerImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if image != defaultImage {
		return errs.Newf(errs.KindConfiguration, "image %q is not present locally and is not the default sandbox image; pull it manually before starting a sandboxed session", image)
	}
	if d.log != nil {
		d.log.WithField("image", defaultImage).Infof("default sandbox image missing, pulling %s", fallbackImage)
	}
	if _, err := d.ExecDocker(ctx, []string{"pull", fallbackImage}, false); err != nil {
		return errors.Errorf("pulling fallback image %s: %w", fallbackImage, err)
	}
	if _, err := d.ExecDocker(ctx, []string{"tag", fallbackImage, defaultImage}, false); err != nil {
		return errors.Errorf("tagging %s as %s: %w", fallbackImage, defaultImage, err)
	}
	return nil
}

// ContainerState is the result of DockerContainerState.
type ContainerState struct {
	Exists  bool
	Running bool
}

// DockerContainerState inspects a container's running state. A non-zero
// inspect exit is treated as "does not exist" rather than an error.
func (d *Driver) DockerContainerState(ctx context.Context, name string) (ContainerState, error) {
	res, err := d.ExecDocker(ctx, []string{"inspect", "-f", "{{.State.Running}}", name}, true)
	if err != nil {
		return ContainerState{}, err
	}
	if res.Code != 0 {
		return ContainerState{Exists: false, Running: false}, nil
	}
	running := strings.TrimSpace(res.Stdout) == "true"
	return ContainerState{Exists: true, Running: running}, nil
}

// ReadContainerConfigHash reads the wopr.configHash label off a container,
// returning "" if the label is blank or absent (the literal <no value>
// the CLI prints when a template field has nothing to substitute).
func (d *Driver) ReadContainerConfigHash(ctx context.Context, name string) (string, error) {
	res, err := d.ExecDocker(ctx, []string{"inspect", "-f", `{{index .Config.Labels "wopr.configHash"}}`, name}, true)
	if err != nil {
		return "", err
	}
	if res.Code != 0 {
		return "", nil
	}
	value := strings.TrimSpace(res.Stdout)
	if value == "" || value == noValueLabel {
		return "", nil
	}
	return value, nil
}

// InspectContainerJSON runs a full `docker inspect` and decodes it into the
// typed API response from github.com/docker/docker/api/types/container,
// for richer diagnostics (sandboxctl status --verbose) than the narrow
// Go-template queries DockerContainerState/ReadContainerConfigHash use on
// the §4.K hot path. The CLI's argument grammar remains the binding
// contract for create/start/rm per §1/§4.J; this only decodes its inspect
// output with the same typed structures the Docker API client uses.
func (d *Driver) InspectContainerJSON(ctx context.Context, name string) (dockercontainer.InspectResponse, bool, error) {
	res, err := d.ExecDocker(ctx, []string{"inspect", name}, true)
	if err != nil {
		return dockercontainer.InspectResponse{}, false, err
	}
	if res.Code != 0 {
		return dockercontainer.InspectResponse{}, false, nil
	}
	var parsed []dockercontainer.InspectResponse
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		return dockercontainer.InspectResponse{}, false, errs.Newf(errs.KindDocker, "decoding docker inspect output for %s: %v", name, err)
	}
	if len(parsed) == 0 {
		return dockercontainer.InspectResponse{}, false, nil
	}
	return parsed[0], true, nil
}

// EnsureContainerRunning starts a stopped container. It does nothing if the
// container is already running or does not exist.
func (d *Driver) EnsureContainerRunning(ctx context.Context, name string) error {
	state, err := d.DockerContainerState(ctx, name)
	if err != nil {
		return err
	}
	if !state.Exists || state.Running {
		return nil
	}
	_, err = d.ExecDocker(ctx, []string{"start", name}, false)
	return err
}

// RemoveContainer force-removes a container, allowing failure (the caller
// treats "already gone" as success, per §4.K's "remove, allow failure").
func (d *Driver) RemoveContainer(ctx context.Context, name string) {
	_, _ = d.ExecDocker(ctx, []string{"rm", "-f", name}, true)
}

// formatUlimitValue renders one ulimit entry's value per §4.J: numeric or
// plain value => "value"; {soft,hard} => "soft:hard" (either side may be
// omitted); negative values clamp to 0.
func formatUlimitValue(v pluginapi.UlimitValue) (string, bool) {
	if v.Value != nil {
		return strconv.FormatInt(clampNonNegative(*v.Value), 10), true
	}
	if v.Soft == nil && v.Hard == nil {
		return "", false
	}
	var soft, hard string
	if v.Soft != nil {
		soft = strconv.FormatInt(clampNonNegative(*v.Soft), 10)
	}
	if v.Hard != nil {
		hard = strconv.FormatInt(clampNonNegative(*v.Hard), 10)
	}
	return soft + ":" + hard, true
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// CreateArgsInput is the input to BuildSandboxCreateArgs (§4.J).
type CreateArgsInput struct {
	Name        string
	Cfg         pluginapi.SandboxDockerConfig
	ScopeKey    string
	CreatedAtMs int64 // 0 means "use now"; caller supplies now() explicitly for determinism
	Now         int64
	Labels      map[string]string
	ConfigHash  string
}

// BuildSandboxCreateArgs assembles the `docker create` argument vector per
// the flag grammar in §4.J. Deterministic given identical inputs (§8
// round-trip property).
func BuildSandboxCreateArgs(in CreateArgsInput) []string {
	cfg := in.Cfg
	args := []string{"create", "--name", in.Name}

	createdAtMs := in.CreatedAtMs
	if createdAtMs == 0 {
		createdAtMs = in.Now
	}

	args = append(args,
		"--label", "wopr.sandbox=1",
		"--label", "wopr.sessionKey="+in.ScopeKey,
		"--label", fmt.Sprintf("wopr.createdAtMs=%d", createdAtMs),
	)
	if in.ConfigHash != "" {
		args = append(args, "--label", "wopr.configHash="+in.ConfigHash)
	}
	for _, k := range sortedLabelNames(in.Labels) {
		args = append(args, "--label", k+"="+in.Labels[k])
	}

	if cfg.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	for _, t := range cfg.Tmpfs {
		args = append(args, "--tmpfs", t)
	}
	if cfg.Network != "" {
		args = append(args, "--network", cfg.Network)
	}
	if cfg.User != "" {
		args = append(args, "--user", cfg.User)
	}
	for _, c := range cfg.CapDrop {
		args = append(args, "--cap-drop", c)
	}

	args = append(args, "--security-opt", "no-new-privileges")
	if cfg.SeccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+cfg.SeccompProfile)
	}
	if cfg.ApparmorProfile != "" {
		args = append(args, "--security-opt", "apparmor="+cfg.ApparmorProfile)
	}

	for _, dns := range cfg.DNS {
		if strings.TrimSpace(dns) != "" {
			args = append(args, "--dns", dns)
		}
	}
	for _, h := range cfg.ExtraHosts {
		if strings.TrimSpace(h) != "" {
			args = append(args, "--add-host", h)
		}
	}

	if cfg.PidsLimit != nil && *cfg.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(*cfg.PidsLimit))
	}
	if mem := strings.TrimSpace(cfg.Memory); mem != "" {
		args = append(args, "--memory", mem)
	}
	if mem := strings.TrimSpace(cfg.MemorySwap); mem != "" {
		args = append(args, "--memory-swap", mem)
	}
	if cfg.Cpus > 0 {
		args = append(args, "--cpus", formatFloat(cfg.Cpus))
	}

	for _, name := range sortedUlimitNames(cfg.Ulimits) {
		formatted, ok := formatUlimitValue(cfg.Ulimits[name])
		if !ok {
			continue
		}
		args = append(args, "--ulimit", name+"="+formatted)
	}

	for _, b := range cfg.Binds {
		args = append(args, "-v", b)
	}

	return args
}

// sortedUlimitNames returns the map's keys in ascending order so that
// BuildSandboxCreateArgs is deterministic given the same map (§8 round-trip
// property); Go map iteration order is otherwise random.
func sortedUlimitNames(m map[string]pluginapi.UlimitValue) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		if strings.TrimSpace(k) != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// sortedLabelNames returns in.Labels' keys in ascending order for the same
// reason sortedUlimitNames does: map iteration order is randomized per
// process, and §8's round-trip invariant requires identical inputs to
// produce an identical argument sequence.
func sortedLabelNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k, v := range m {
		if k != "" && v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s
}

// CreateOptions bundles the inputs to CreateContainer.
type CreateOptions struct {
	Name             string
	Cfg              pluginapi.SandboxDockerConfig
	ScopeKey         string
	Now              int64
	ConfigHash       string
	WorkspaceDir     string
	WorkspaceAccess  pluginapi.WorkspaceAccess
	DefaultImage     string
	FallbackImage    string
}

// CreateContainer ensures the image is present, creates the container,
// starts it, and runs the optional setup command (§4.J "createContainer").
func (d *Driver) CreateContainer(ctx context.Context, opts CreateOptions) error {
	if err := d.EnsureDockerImage(ctx, opts.Cfg.Image, opts.DefaultImage, opts.FallbackImage); err != nil {
		return err
	}

	args := BuildSandboxCreateArgs(CreateArgsInput{
		Name:       opts.Name,
		Cfg:        opts.Cfg,
		ScopeKey:   opts.ScopeKey,
		Now:        opts.Now,
		ConfigHash: opts.ConfigHash,
	})

	args = append(args, "--workdir", opts.Cfg.Workdir)
	if opts.WorkspaceAccess != pluginapi.WorkspaceNone && opts.WorkspaceDir != "" {
		bind := opts.WorkspaceDir + ":" + opts.Cfg.Workdir
		if opts.WorkspaceAccess == pluginapi.WorkspaceRO {
			bind += ":ro"
		}
		if opts.Cfg.SelinuxRelabel {
			if opts.WorkspaceAccess == pluginapi.WorkspaceRO {
				bind += ",Z"
			} else {
				bind += ":Z"
			}
		}
		args = append(args, "-v", bind)
	}
	args = append(args, opts.Cfg.Image, "sleep", "infinity")

	if _, err := d.ExecDocker(ctx, args, false); err != nil {
		return errors.Errorf("docker create %s: %w", opts.Name, err)
	}
	if _, err := d.ExecDocker(ctx, []string{"start", opts.Name}, false); err != nil {
		return errors.Errorf("docker start %s: %w", opts.Name, err)
	}

	if setup := strings.TrimSpace(opts.Cfg.SetupCommand); setup != "" {
		cmd, err := guards.ValidateCommand(setup)
		if err != nil {
			return err
		}
		if _, err := d.ExecDocker(ctx, []string{"exec", "-i", opts.Name, "sh", "-c", "--", cmd}, false); err != nil {
			return errors.Errorf("sandbox setup command for %s: %w", opts.Name, err)
		}
	}
	return nil
}

// ExecOptions bundles the optional arguments to ExecInContainer.
type ExecOptions struct {
	Workdir string
	Env     map[string]string
	Timeout time.Duration
}

// ExecInContainer runs command through `sh -c --` in the container,
// validating it with guards.ValidateCommand first (§4.J). Env keys are not
// validated here, mirroring the spec's own carve-out for the non-raw path.
func (d *Driver) ExecInContainer(ctx context.Context, name, command string, opts ExecOptions) (pluginapi.ExecResult, error) {
	cmd, err := guards.ValidateCommand(command)
	if err != nil {
		return pluginapi.ExecResult{}, err
	}

	args := []string{"exec", "-i"}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, name, "sh", "-c", "--", cmd)

	return d.runExec(ctx, args, opts.Timeout)
}

// ExecInContainerRaw runs argv directly in the container, bypassing any
// shell. Every env key is validated (§4.J).
func (d *Driver) ExecInContainerRaw(ctx context.Context, name string, argv []string, opts ExecOptions) (pluginapi.ExecResult, error) {
	if len(argv) == 0 {
		return pluginapi.ExecResult{}, errs.New(errs.KindConfiguration, "execInContainerRaw: argv must not be empty")
	}
	for k := range opts.Env {
		if err := guards.ValidateEnvKey(k); err != nil {
			return pluginapi.ExecResult{}, err
		}
	}

	args := []string{"exec", "-i"}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, name)
	args = append(args, argv...)

	return d.runExec(ctx, args, opts.Timeout)
}

func (d *Driver) runExec(ctx context.Context, args []string, timeout time.Duration) (pluginapi.ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := d.command(ctx, "docker", args...)
	stdout := newLimitedBuffer(defaultOutputCap)
	stderr := newLimitedBuffer(defaultOutputCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() == context.DeadlineExceeded {
			exitCode = -1
		} else {
			return pluginapi.ExecResult{}, errors.Errorf("docker %s: %w", strings.Join(args, " "), runErr)
		}
	}

	return pluginapi.ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		Truncated: stdout.truncated || stderr.truncated,
	}, nil
}
