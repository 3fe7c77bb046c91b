package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	checkName, checkEnv = "", nil
	initGatewayURL, initSecret = "", ""

	root := &cobra.Command{Use: "launcher", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().BoolP("verbose", "v", false, "")
	root.PersistentFlags().StringP("config", "c", "", "")
	root.AddCommand(CheckCmd, ConfigCmd, VersionCmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		contains []string
	}{
		{
			name:     "allowed",
			args:     []string{"check", "npx", "-y", "@modelcontextprotocol/server-github"},
			contains: []string{"✅ Allowed: npx -y @modelcontextprotocol/server-github", "Permitted variables: GITHUB_PERSONAL_ACCESS_TOKEN"},
		},
		{
			name:     "dropped variables",
			args:     []string{"check", "--name", "GitHub", "--env", "GITHUB_PERSONAL_ACCESS_TOKEN=x", "--env", "AWS_SECRET_ACCESS_KEY=y", "npx", "-y", "@modelcontextprotocol/server-github"},
			contains: []string{"Dropped variables: AWS_SECRET_ACCESS_KEY"},
		},
		{
			name:     "baseline only",
			args:     []string{"check", "npx", "@modelcontextprotocol/server-memory"},
			contains: []string{"baseline only"},
		},
		{
			name:     "rejected runner",
			args:     []string{"check", "bash", "-c", "id"},
			wantErr:  true,
			contains: []string{"❌ Rejected (runner_not_allowed)"},
		},
		{
			name:     "rejected package",
			args:     []string{"check", "npx", "-y", "left-pad"},
			wantErr:  true,
			contains: []string{"package_not_allowed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			for _, s := range tt.contains {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launcher.yaml")

	out, err := execute(t, "--config", path, "config", "init", "--gateway-url", "wss://gw.example.com/mcp/launcher", "--secret", "s3cret-value")
	if err != nil {
		t.Fatalf("config init failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Config written to "+path) {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = execute(t, "--config", path, "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	for _, s := range []string{"wss://gw.example.com/mcp/launcher", "s3****ue"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
	if strings.Contains(out, "s3cret-value") {
		t.Error("secret must not be printed")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":           "(not set)",
		"abc":        "****",
		"longsecret": "lo****et",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	AppVersion = "1.2.3"
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "launcher 1.2.3") {
		t.Errorf("unexpected output: %s", out)
	}
}
