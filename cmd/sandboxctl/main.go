// Command sandboxctl is the operator CLI for the sandbox plugin: recreate a
// session's container, run a prune pass, or print registry status. Flag
// parsing follows the teacher's own main.go (flaggy subcommands).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/integrii/flaggy"
	"github.com/mgutz/str"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/dockerdriver"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/hostrepo"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/lifecycle"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/logging"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/prune"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/registry"
	"github.com/wopr-network/wopr-plugin-sandbox/internal/sandbox"
	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

var version = "unversioned"

func main() {
	var (
		woprHome    string
		sessionName string
		shared      bool
		debugging   bool
	)

	flaggy.SetName("sandboxctl")
	flaggy.SetDescription("Operator CLI for the wopr sandbox plugin")
	flaggy.SetVersion(version)
	flaggy.String(&woprHome, "", "wopr-home", "Override $WOPR_HOME")
	flaggy.Bool(&debugging, "d", "debug", "Enable debug logging")

	recreateCmd := flaggy.NewSubcommand("recreate")
	recreateCmd.Description = "Force-recreate a session's sandbox container on its next use"
	recreateCmd.String(&sessionName, "s", "session", "Session name")
	recreateCmd.Bool(&shared, "", "shared", "Target the shared-scope container instead")
	flaggy.AttachSubcommand(recreateCmd, 1)

	pruneCmd := flaggy.NewSubcommand("prune")
	pruneCmd.Description = "Run a prune pass now, ignoring the 5-minute debounce"
	var pruneAll bool
	pruneCmd.Bool(&pruneAll, "", "all", "Remove every sandbox container regardless of thresholds")
	flaggy.AttachSubcommand(pruneCmd, 1)

	var statusVerbose bool
	statusCmd := flaggy.NewSubcommand("status")
	statusCmd.Description = "List every known sandbox container"
	statusCmd.Bool(&statusVerbose, "v", "verbose", "Also print live Docker inspect state for each container")
	flaggy.AttachSubcommand(statusCmd, 1)

	var execContainer, execCommandStr string
	execCmd := flaggy.NewSubcommand("exec")
	execCmd.Description = "Run an ad-hoc command in a running sandbox container, bypassing the shell"
	execCmd.String(&execContainer, "c", "container", "Container name")
	execCmd.String(&execCommandStr, "", "command", "Command line to split and run as argv")
	flaggy.AttachSubcommand(execCmd, 1)

	var watchIntervalSeconds int
	watchCmd := flaggy.NewSubcommand("watch")
	watchCmd.Description = "Run the background prune ticker until interrupted"
	watchCmd.Int(&watchIntervalSeconds, "i", "interval", "Seconds between prune passes (default 300)")
	flaggy.AttachSubcommand(watchCmd, 1)

	flaggy.Parse()

	if woprHome == "" {
		woprHome = os.Getenv("WOPR_HOME")
	}
	if woprHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err.Error())
		}
		woprHome = filepath.Join(home, ".wopr")
	}

	entry := logging.New(debugging)
	repo, err := hostrepo.Open(filepath.Join(woprHome, "sandbox", "registry.db"))
	if err != nil {
		log.Fatal(err.Error())
	}
	defer repo.Close()

	reg := registry.New(repo, entry)
	driver := dockerdriver.New(entry)
	pruner := prune.New(reg, driver, entry)
	ctx := context.Background()

	switch {
	case recreateCmd.Used:
		runRecreate(ctx, reg, driver, sessionName, shared)
	case pruneCmd.Used:
		runPrune(ctx, pruner, pruneAll)
	case statusCmd.Used:
		runStatus(ctx, reg, driver, statusVerbose)
	case execCmd.Used:
		runExec(ctx, driver, execContainer, execCommandStr)
	case watchCmd.Used:
		runWatch(pruner, watchIntervalSeconds)
	default:
		flaggy.ShowHelpAndExit("no subcommand given")
	}
}

func runRecreate(ctx context.Context, reg *registry.Registry, driver *dockerdriver.Driver, sessionName string, shared bool) {
	if sessionName == "" && !shared {
		log.Fatal("recreate requires --session or --shared")
	}
	scope := pluginapi.ScopeSession
	if shared {
		scope = pluginapi.ScopeShared
	}
	name := lifecycle.ContainerName(sandbox.DefaultContainerPrefix, scope, sessionName)

	driver.RemoveContainer(ctx, name)
	if err := reg.Remove(ctx, name); err != nil {
		log.Fatalf("removing registry entry for %s: %v", name, err)
	}
	fmt.Printf("removed %s; it will be recreated on next use\n", name)
}

func runPrune(ctx context.Context, pruner *prune.Pruner, all bool) {
	if all {
		n, err := pruner.PruneAll(ctx)
		if err != nil {
			log.Fatalf("prune --all: %v", err)
		}
		fmt.Printf("removed %d container(s)\n", n)
		return
	}
	n, err := pruner.Prune(ctx, pluginapi.SandboxPruneConfig{
		IdleHours:  sandbox.DefaultIdleHours,
		MaxAgeDays: sandbox.DefaultMaxAgeDays,
	}, time.Now().UnixMilli())
	if err != nil {
		log.Fatalf("prune: %v", err)
	}
	fmt.Printf("removed %d container(s)\n", n)
}

// runExec splits an operator-supplied command line into argv with the same
// shell-word-splitting idiom the teacher uses for ExecutableFromString
// (str.ToArgv), then runs it via the raw-exec entry point so it bypasses
// the container's shell entirely.
func runExec(ctx context.Context, driver *dockerdriver.Driver, containerName, commandStr string) {
	if containerName == "" || commandStr == "" {
		log.Fatal("exec requires --container and --command")
	}
	argv := str.ToArgv(commandStr)
	if len(argv) == 0 {
		log.Fatal("exec: --command split to an empty argument list")
	}
	res, err := driver.ExecInContainerRaw(ctx, containerName, argv, dockerdriver.ExecOptions{})
	if err != nil {
		log.Fatalf("exec: %v", err)
	}
	fmt.Print(res.Stdout)
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}
	os.Exit(res.ExitCode)
}

// runWatch starts the push-model prune ticker (supplemented feature 4,
// SPEC_FULL.md) and blocks until SIGINT/SIGTERM, for operators who want
// background reclamation running independently of session resolution.
func runWatch(pruner *prune.Pruner, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("watching for idle/aged sandbox containers every %ds (ctrl-c to stop)\n", intervalSeconds)
	pruner.RunTicker(ctx, time.Duration(intervalSeconds)*time.Second, func() pluginapi.SandboxPruneConfig {
		return pluginapi.SandboxPruneConfig{
			IdleHours:  sandbox.DefaultIdleHours,
			MaxAgeDays: sandbox.DefaultMaxAgeDays,
		}
	}, func() int64 { return time.Now().UnixMilli() })
	fmt.Println("watch stopped")
}

func runStatus(ctx context.Context, reg *registry.Registry, driver *dockerdriver.Driver, verbose bool) {
	entries, err := reg.ListAll(ctx)
	if err != nil {
		log.Fatalf("listing sandbox registry: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("no sandbox containers registered")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-40s session=%-20s image=%-30s lastUsed=%s\n",
			e.ContainerName, e.SessionKey, e.Image, time.UnixMilli(e.LastUsedAtMs).Format(time.RFC3339))
		if !verbose {
			continue
		}
		resp, found, err := driver.InspectContainerJSON(ctx, e.ContainerName)
		if err != nil {
			fmt.Printf("  inspect failed: %v\n", err)
			continue
		}
		if !found {
			fmt.Println("  container no longer exists on the Docker host")
			continue
		}
		status := "unknown"
		if resp.State != nil {
			status = resp.State.Status
		}
		fmt.Printf("  status=%s labels=%v\n", status, resp.Config.Labels)
	}
}
