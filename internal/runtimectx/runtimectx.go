// Package runtimectx holds the process-wide runtime context (§4.B): the
// logger, persistent repository, and host-config getter the host injects at
// plugin init. It is the Go analogue of the teacher's *App struct
// (pkg/app/app.go), which wires Log/Config/OSCommand once at startup and
// passes them down explicitly from there on. NewPlugin in main.go fills it
// once from the host's RuntimeDeps; the other components in this module
// receive their dependencies as constructor arguments and do not read
// runtimectx.
package runtimectx

import (
	"sync"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

var (
	mu       sync.RWMutex
	deps     pluginapi.RuntimeDeps
	inited   bool
)

// Init populates the runtime context. It must be called exactly once, at
// plugin init, before any other component in this module is used. A second
// call panics: re-initialization is a programmer error, not a runtime
// condition to recover from (§9 "avoid re-initialization").
func Init(d pluginapi.RuntimeDeps) {
	mu.Lock()
	defer mu.Unlock()
	if inited {
		panic("runtimectx: Init called more than once")
	}
	if d.Logger == nil || d.Repository == nil || d.GetMainConfig == nil {
		panic("runtimectx: Init requires a non-nil Logger, Repository, and GetMainConfig")
	}
	deps = d
	inited = true
}

// Reset clears the runtime context. Only intended for tests, which need a
// fresh slot per test case; production code never calls this.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	deps = pluginapi.RuntimeDeps{}
	inited = false
}

// mustDeps returns the injected dependencies, panicking if Init was never
// called. Reading before init is a programmer error (§9).
func mustDeps() pluginapi.RuntimeDeps {
	mu.RLock()
	defer mu.RUnlock()
	if !inited {
		panic("runtimectx: accessed before Init")
	}
	return deps
}

// Log returns the injected logger.
func Log() pluginapi.Logger { return mustDeps().Logger }

// Repo returns the injected persistent repository.
func Repo() pluginapi.Repository { return mustDeps().Repository }

// MainConfig fetches the host's current merged configuration.
func MainConfig() pluginapi.MainConfig { return mustDeps().GetMainConfig() }

// Initialized reports whether Init has been called. Components that run
// best-effort background work (e.g. a prune ticker) can use this to no-op
// gracefully if started before the plugin is wired up.
func Initialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return inited
}
