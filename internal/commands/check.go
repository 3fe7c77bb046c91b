package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/security"
	"github.com/spf13/cobra"
)

var (
	checkName string
	checkEnv  []string
)

var CheckCmd = &cobra.Command{
	Use:   "check <command> [args...]",
	Short: "Run the launch sandbox against a command line",
	Long: `Runs the same validation the launcher applies before spawning a server and
prints the verdict. Nothing is executed.

Examples:
  launcher check npx -y @modelcontextprotocol/server-github
  launcher check --name GitHub --env GITHUB_PERSONAL_ACCESS_TOKEN=x npx -y @modelcontextprotocol/server-github`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	CheckCmd.Flags().StringVar(&checkName, "name", "", "Server display name used to pick permitted environment variables")
	CheckCmd.Flags().StringArrayVar(&checkEnv, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	// Everything after the command belongs to the command line being checked
	CheckCmd.Flags().SetInterspersed(false)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	sanitized, err := security.ValidateCommand(args[0], args[1:])
	if err != nil {
		var vErr *security.ValidationError
		if errors.As(err, &vErr) {
			fmt.Fprintf(out, "❌ Rejected (%s): %s\n", vErr.Code, vErr.Reason)
		} else {
			fmt.Fprintf(out, "❌ Rejected: %v\n", err)
		}
		return err
	}

	fmt.Fprintf(out, "✅ Allowed: %s %s\n", sanitized.Command, strings.Join(sanitized.Args, " "))
	fmt.Fprintf(out, "📦 Package: %s\n", sanitized.Package())

	env := make(map[string]string)
	for _, kv := range checkEnv {
		key, value, _ := strings.Cut(kv, "=")
		env[key] = value
	}
	if err := security.ValidateEnvironmentKeys(env); err != nil {
		fmt.Fprintf(out, "❌ Environment rejected: %v\n", err)
		return err
	}

	label := checkName
	if label == "" || len(security.PermittedEnvKeys(label)) == 0 {
		if len(security.PermittedEnvKeys(sanitized.Package())) > 0 {
			label = sanitized.Package()
		}
	}

	fmt.Fprintf(out, "🔐 Server type: %s\n", security.ServerTypeKey(label))
	if permitted := security.PermittedEnvKeys(label); len(permitted) > 0 {
		fmt.Fprintf(out, "   Permitted variables: %s\n", strings.Join(permitted, ", "))
	} else {
		fmt.Fprintln(out, "   Permitted variables: none (baseline only)")
	}
	if dropped := security.DroppedEnvKeys(label, env); len(dropped) > 0 {
		fmt.Fprintf(out, "⚠️  Dropped variables: %s\n", strings.Join(dropped, ", "))
	}

	return nil
}
