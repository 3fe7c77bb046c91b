package security

import (
	"runtime"
	"sort"
	"strings"
	"unicode"
)

const (
	posixBaselinePath   = "/usr/local/bin:/usr/bin:/bin"
	windowsBaselinePath = `C:\Windows\System32;C:\Windows;C:\Program Files\nodejs`
	baselineNodeEnv     = "production"
)

// permittedEnv maps a server-type key to the environment variables that server may receive.
// Types mapped to an empty list receive only the baseline.
var permittedEnv = map[string][]string{
	"github":              {"GITHUB_PERSONAL_ACCESS_TOKEN", "GITHUB_USERNAME"},
	"gitlab":              {"GITLAB_PERSONAL_ACCESS_TOKEN", "GITLAB_API_URL"},
	"slack":               {"SLACK_BOT_TOKEN", "SLACK_TEAM_ID"},
	"brave-search":        {"BRAVE_API_KEY"},
	"google-maps":         {"GOOGLE_MAPS_API_KEY"},
	"memory":              {},
	"sequential-thinking": {},
	"puppeteer":           {},
	"everything":          {},
}

// serverTypeKeys holds the table keys, longest first, so "brave-search" wins over shorter matches
var serverTypeKeys = func() []string {
	keys := make([]string, 0, len(permittedEnv))
	for k := range permittedEnv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// ServerTypeKey derives the coarse server type from a label:
// lower-cased, every non-letter turned into a hyphen, runs collapsed.
func ServerTypeKey(label string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(label) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// lookupServerType finds the table entry for a derived key. A table key
// matches when it equals the derived key or appears in it as whole
// hyphen-separated segments ("modelcontextprotocol-server-github" -> "github").
func lookupServerType(key string) (string, bool) {
	if _, ok := permittedEnv[key]; ok {
		return key, true
	}
	padded := "-" + key + "-"
	for _, candidate := range serverTypeKeys {
		if strings.Contains(padded, "-"+candidate+"-") {
			return candidate, true
		}
	}
	return "", false
}

// PermittedEnvKeys returns the variables a server with this label may receive
func PermittedEnvKeys(serverLabel string) []string {
	serverType, ok := lookupServerType(ServerTypeKey(serverLabel))
	if !ok {
		return nil
	}
	return append([]string(nil), permittedEnv[serverType]...)
}

// SanitizeEnvironment builds the complete environment for a spawned server.
// Only variables permitted for the server type are copied from supplied,
// control characters are stripped from their values, and a minimal baseline
// is appended. The ambient process environment is never inherited.
func SanitizeEnvironment(serverLabel string, supplied map[string]string) map[string]string {
	return SanitizeEnvironmentFor(runtime.GOOS, serverLabel, supplied)
}

// SanitizeEnvironmentFor is SanitizeEnvironment for an explicit target OS
func SanitizeEnvironmentFor(goos, serverLabel string, supplied map[string]string) map[string]string {
	safe := make(map[string]string)

	for _, key := range PermittedEnvKeys(serverLabel) {
		if value, ok := supplied[key]; ok {
			safe[key] = stripControlCharacters(value)
		}
	}

	if goos == "windows" {
		safe["PATH"] = windowsBaselinePath
	} else {
		safe["PATH"] = posixBaselinePath
	}
	safe["NODE_ENV"] = baselineNodeEnv

	return safe
}

// DroppedEnvKeys lists the supplied keys SanitizeEnvironment will not pass through, sorted
func DroppedEnvKeys(serverLabel string, supplied map[string]string) []string {
	permitted := make(map[string]bool)
	for _, key := range PermittedEnvKeys(serverLabel) {
		permitted[key] = true
	}

	var dropped []string
	for key := range supplied {
		if !permitted[key] {
			dropped = append(dropped, key)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// ValidateEnvironmentKeys rejects variable names no process environment can represent
func ValidateEnvironmentKeys(supplied map[string]string) error {
	for key := range supplied {
		if key == "" {
			return reject(CodeMalformedEnv, "environment variable name is empty")
		}
		if strings.ContainsAny(key, "=\x00") {
			return reject(CodeMalformedEnv, "environment variable name %q is malformed", key)
		}
	}
	return nil
}

func stripControlCharacters(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
