package security

import (
	"fmt"
	"strings"
)

// ValidationCode classifies why a launch request was rejected
type ValidationCode string

const (
	CodePathTraversal      ValidationCode = "path_traversal"
	CodeRunnerNotAllowed   ValidationCode = "runner_not_allowed"
	CodeShellMetacharacter ValidationCode = "shell_metacharacter"
	CodeFlagNotAllowed     ValidationCode = "flag_not_allowed"
	CodePackageCount       ValidationCode = "package_count"
	CodePackageNotAllowed  ValidationCode = "package_not_allowed"
	CodeMalformedEnv       ValidationCode = "malformed_environment"
)

// ValidationError is returned when a launch request fails the sandbox checks.
// It is always fatal to the connect attempt.
type ValidationError struct {
	Code   ValidationCode
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("launch rejected (%s): %s", e.Code, e.Reason)
}

func reject(code ValidationCode, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ShellMetacharacters may never appear in a command or argument
const ShellMetacharacters = ";&|`$()<>"

// allowedRunners are the only executables a local-process server may be started with
var allowedRunners = map[string]bool{
	"npx":     true,
	"npx.cmd": true,
}

// allowedFlags are the runner flags a launch may carry
var allowedFlags = map[string]bool{
	"-y":      true,
	"--yes":   true,
	"-q":      true,
	"--quiet": true,
}

// allowedPackages are the only tool server packages that may be launched.
// Matching is exact; there are no wildcards.
var allowedPackages = map[string]bool{
	"@modelcontextprotocol/server-memory":              true,
	"@modelcontextprotocol/server-github":              true,
	"@modelcontextprotocol/server-gitlab":              true,
	"@modelcontextprotocol/server-slack":               true,
	"@modelcontextprotocol/server-brave-search":        true,
	"@modelcontextprotocol/server-google-maps":         true,
	"@modelcontextprotocol/server-puppeteer":           true,
	"@modelcontextprotocol/server-sequential-thinking": true,
	"@modelcontextprotocol/server-everything":          true,
	"@modelcontextprotocol/server-postgres":            true,
	"@modelcontextprotocol/server-redis":               true,
	"@modelcontextprotocol/server-sqlite":              true,
	"@browsermcp/mcp":                                  true,
	"@browsermcp/mcp@latest":                           true,
}

// IsAllowedPackage reports whether pkg is on the package allow-list
func IsAllowedPackage(pkg string) bool {
	return allowedPackages[pkg]
}

// SanitizedCommand is a command line that passed validation
type SanitizedCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Package returns the single positional argument, the package being launched
func (c *SanitizedCommand) Package() string {
	for _, arg := range c.Args {
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
	}
	return ""
}

// ValidateCommand is the only gate through which a local-process server may be spawned.
// Path traversal is checked first, then the runner, metacharacters, flags and the package.
func ValidateCommand(command string, args []string) (*SanitizedCommand, error) {
	for _, arg := range args {
		if err := CheckPathTraversal(arg); err != nil {
			return nil, reject(CodePathTraversal, "%v", err)
		}
	}

	if !allowedRunners[command] {
		return nil, reject(CodeRunnerNotAllowed, "command %q is not an allowed runner", command)
	}

	if strings.ContainsAny(command, ShellMetacharacters) {
		return nil, reject(CodeShellMetacharacter, "command contains shell metacharacters")
	}
	for i, arg := range args {
		if strings.ContainsAny(arg, ShellMetacharacters) {
			return nil, reject(CodeShellMetacharacter, "argument %d contains shell metacharacters", i)
		}
	}

	var packages []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			if !allowedFlags[arg] {
				return nil, reject(CodeFlagNotAllowed, "flag %q is not allowed", arg)
			}
			continue
		}
		packages = append(packages, arg)
	}

	if len(packages) != 1 {
		return nil, reject(CodePackageCount, "expected exactly one package argument, got %d", len(packages))
	}
	if !allowedPackages[packages[0]] {
		return nil, reject(CodePackageNotAllowed, "package %q is not in the allow-list", packages[0])
	}

	sanitized := &SanitizedCommand{
		Command: stripMetacharacters(command),
		Args:    make([]string, len(args)),
	}
	for i, arg := range args {
		sanitized.Args[i] = stripMetacharacters(arg)
	}

	return sanitized, nil
}

func stripMetacharacters(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(ShellMetacharacters, r) {
			return -1
		}
		return r
	}, s)
}
