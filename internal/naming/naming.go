// Package naming implements the deterministic name derivation of spec §4.D:
// slugifying a session key into a container-name-safe identifier, deriving
// the scope key, and deriving the per-session workspace directory. Grounded
// on the sanitizeKey helper in the pack's miken90-goclaw sandbox package,
// generalized to the spec's exact truncate-then-hash-suffix scheme.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

const (
	maxSlugBodyLen = 32
	hashSuffixLen  = 8
)

var disallowedRun = regexp.MustCompile(`[^a-z0-9._-]+`)

// SlugifySessionKey derives a deterministic, container-name-safe slug from a
// raw session key: lowercase, collapse disallowed runs to a single hyphen,
// trim leading/trailing hyphens, truncate to 32 characters, then append an
// 8-hex-char SHA-256 suffix of the original trimmed input so that distinct
// inputs collapsing to the same slug body remain distinguishable.
func SlugifySessionKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	source := trimmed
	if source == "" {
		source = "session"
	}

	body := strings.ToLower(source)
	body = disallowedRun.ReplaceAllString(body, "-")
	body = strings.Trim(body, "-")
	if len(body) > maxSlugBodyLen {
		body = body[:maxSlugBodyLen]
		body = strings.Trim(body, "-")
	}
	if body == "" {
		body = "session"
	}

	sum := sha256.Sum256([]byte(trimmed))
	suffix := hex.EncodeToString(sum[:])[:hashSuffixLen]
	return body + "-" + suffix
}

// ResolveSandboxScopeKey derives the scope key used both as the registry's
// sessionKey label and as the input to SlugifySessionKey: "shared" for
// shared scope, else the trimmed session key (or "main" if blank).
func ResolveSandboxScopeKey(scope pluginapi.SandboxScope, sessionKey string) string {
	if scope == pluginapi.ScopeShared {
		return "shared"
	}
	trimmed := strings.TrimSpace(sessionKey)
	if trimmed == "" {
		return "main"
	}
	return trimmed
}

// ResolveSandboxWorkspaceDir joins the workspace root with the slugified
// session key.
func ResolveSandboxWorkspaceDir(root, sessionKey string) string {
	return filepath.Join(root, SlugifySessionKey(sessionKey))
}
