// Package guards implements the shell and identifier validation in spec
// §4.C: single-argument shell quoting, rejection of shell metacharacters in
// command strings passed to the non-raw exec path, and POSIX identifier
// validation for environment keys. The quoting idiom (escape-and-wrap rather
// than shelling out to a library) follows OSCommand.Quote in the teacher's
// pkg/commands/os.go, adapted to POSIX single-quoting because this plugin
// only ever targets `sh -c` inside a Linux container, never a Windows shell.
package guards

import (
	"regexp"
	"strings"

	"github.com/wopr-network/wopr-plugin-sandbox/internal/errs"
)

// metachars are the characters validateCommand refuses to see in a plain
// (non-raw) command string, per spec §4.C.
const metachars = ";&|`$<>\\"

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ShellEscapeArg single-quotes s for safe inclusion as one shell argument,
// escaping embedded single quotes the POSIX way: close the quote, emit an
// escaped quote, reopen the quote. An empty string becomes ''.
func ShellEscapeArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ValidateCommand trims s and rejects it if empty, if it contains a null
// byte, or if it contains any shell metacharacter from §4.C. It returns the
// trimmed command on success. Callers that need shell features (pipes,
// redirection, command substitution) must use the raw-exec entry point
// (execInContainerRaw) instead, which bypasses the shell entirely.
func ValidateCommand(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if strings.ContainsRune(trimmed, 0) {
		return "", errs.New(errs.KindConfiguration, "command contains a null byte; use the raw-exec entry point for binary-safe arguments")
	}
	if trimmed == "" {
		return "", errs.New(errs.KindConfiguration, "command must not be empty")
	}
	if i := strings.IndexAny(trimmed, metachars); i != -1 {
		return "", errs.Newf(errs.KindConfiguration, "command contains shell metacharacter %q; use the raw-exec entry point if you need shell features", trimmed[i])
	}
	return trimmed, nil
}

// ValidateEnvKey reports whether k is a valid POSIX environment variable
// name.
func ValidateEnvKey(k string) error {
	if !envKeyPattern.MatchString(k) {
		return errs.Newf(errs.KindConfiguration, "invalid environment variable name %q: must match %s", k, envKeyPattern.String())
	}
	return nil
}
