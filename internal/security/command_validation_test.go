package security

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		args     []string
		wantCode ValidationCode
	}{
		{"allowed package with flag", "npx", []string{"-y", "@modelcontextprotocol/server-memory"}, ""},
		{"windows runner", "npx.cmd", []string{"--yes", "@modelcontextprotocol/server-github"}, ""},
		{"no flags", "npx", []string{"@browsermcp/mcp"}, ""},
		{"runner not allowed", "bash", []string{"-y", "@modelcontextprotocol/server-memory"}, CodeRunnerNotAllowed},
		{"node is not a runner", "node", []string{"@modelcontextprotocol/server-memory"}, CodeRunnerNotAllowed},
		{"absolute runner path", "/usr/bin/npx", nil, CodeRunnerNotAllowed},
		{"traversal beats valid package", "npx", []string{"-y", "@modelcontextprotocol/server-github", "../../etc/passwd"}, CodePathTraversal},
		{"traversal checked before runner", "bash", []string{"../x"}, CodePathTraversal},
		{"home reference", "npx", []string{"~/server"}, CodePathTraversal},
		{"sensitive prefix", "npx", []string{"/etc/shadow"}, CodePathTraversal},
		{"windows sensitive prefix", "npx", []string{`C:\Windows\System32\cmd.exe`}, CodePathTraversal},
		{"semicolon", "npx", []string{"-y", "@modelcontextprotocol/server-memory;rm"}, CodeShellMetacharacter},
		{"subshell", "npx", []string{"$(whoami)"}, CodeShellMetacharacter},
		{"backtick", "npx", []string{"`id`"}, CodeShellMetacharacter},
		{"pipe", "npx", []string{"@modelcontextprotocol/server-memory", "|", "sh"}, CodeShellMetacharacter},
		{"redirect", "npx", []string{">out"}, CodeShellMetacharacter},
		{"flag not allowed", "npx", []string{"--package=evil", "@modelcontextprotocol/server-memory"}, CodeFlagNotAllowed},
		{"no package", "npx", []string{"-y"}, CodePackageCount},
		{"two packages", "npx", []string{"@modelcontextprotocol/server-memory", "@modelcontextprotocol/server-slack"}, CodePackageCount},
		{"unknown package", "npx", []string{"-y", "left-pad"}, CodePackageNotAllowed},
		{"no prefix matching", "npx", []string{"@modelcontextprotocol/server-memory-evil"}, CodePackageNotAllowed},
		{"no scope wildcard", "npx", []string{"@modelcontextprotocol/anything"}, CodePackageNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateCommand(tt.command, tt.args)

			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if got.Command != tt.command {
					t.Errorf("command = %q, want %q", got.Command, tt.command)
				}
				if !reflect.DeepEqual(got.Args, tt.args) {
					t.Errorf("args = %v, want %v", got.Args, tt.args)
				}
				return
			}

			if err == nil {
				t.Fatalf("expected %s rejection, got success", tt.wantCode)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if vErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s (reason: %s)", vErr.Code, tt.wantCode, vErr.Reason)
			}
			if vErr.Reason == "" {
				t.Error("rejection must carry a reason")
			}
			if got != nil {
				t.Error("rejected command must not return a sanitized copy")
			}
		})
	}
}

func TestValidateCommandReturnsCopy(t *testing.T) {
	args := []string{"-y", "@modelcontextprotocol/server-memory"}
	got, err := ValidateCommand("npx", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got.Args[0] = "mutated"
	if args[0] != "-y" {
		t.Error("sanitized args must not alias the caller's slice")
	}
	if got.Package() != "@modelcontextprotocol/server-memory" {
		t.Errorf("Package() = %q", got.Package())
	}
}

func TestStripMetacharacters(t *testing.T) {
	if got := stripMetacharacters("a;b&c|d`e$f(g)h<i>j"); got != "abcdefghij" {
		t.Errorf("stripMetacharacters = %q", got)
	}
}

func TestCheckPathTraversal(t *testing.T) {
	tests := []struct {
		arg     string
		wantErr bool
	}{
		{"@modelcontextprotocol/server-memory", false},
		{"-y", false},
		{"/etcetera", false},
		{"..", true},
		{"a/../b", true},
		{"~", true},
		{"/etc", true},
		{"/proc/self/environ", true},
		{`\\server\share`, true},
		{"c:/program files/x", true},
	}

	for _, tt := range tests {
		err := CheckPathTraversal(tt.arg)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckPathTraversal(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
		}
	}
}
