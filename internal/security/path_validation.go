package security

import (
	"fmt"
	"strings"
)

// sensitivePathPrefixes are absolute locations no launch argument may point into
var sensitivePathPrefixes = []string{
	"/etc",
	"/root",
	"/proc",
	"/sys",
	"/dev",
	"/boot",
	"/var",
	"/usr",
	"/bin",
	"/sbin",
	"c:\\windows",
	"c:/windows",
	"c:\\program files",
	"c:/program files",
	"\\\\",
}

// CheckPathTraversal rejects an argument that could steer a spawned process
// outside its sandbox.
//
// Returns an error if the argument:
//   - Contains a parent directory sequence (..)
//   - Contains a home directory reference (~)
//   - Starts with a sensitive absolute path prefix
func CheckPathTraversal(arg string) error {
	if strings.Contains(arg, "..") {
		return fmt.Errorf("path traversal attempt detected (..) in %q", arg)
	}
	if strings.Contains(arg, "~") {
		return fmt.Errorf("path traversal attempt detected (~) in %q", arg)
	}

	lower := strings.ToLower(arg)
	for _, prefix := range sensitivePathPrefixes {
		if hasPathPrefix(lower, prefix) {
			return fmt.Errorf("path traversal attempt detected: %q targets a sensitive location", arg)
		}
	}

	return nil
}

// hasPathPrefix matches prefix only on a path boundary so "/etc" does not match "/etcetera"
func hasPathPrefix(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	if len(s) == len(prefix) || strings.HasSuffix(prefix, "\\\\") {
		return true
	}
	next := s[len(prefix)]
	return next == '/' || next == '\\'
}
