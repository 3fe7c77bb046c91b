package security

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/models"
)

// LaunchValidator runs the sandbox checks for a local-process server and
// audits every decision. Auditing never changes the result.
type LaunchValidator struct {
	recorder audit.Recorder
}

// NewLaunchValidator creates a validator that reports to recorder (may be nil)
func NewLaunchValidator(recorder audit.Recorder) *LaunchValidator {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &LaunchValidator{recorder: recorder}
}

// Validate checks the command line and builds the sanitized launch config.
// Any error is a *ValidationError.
func (v *LaunchValidator) Validate(ctx context.Context, cfg models.ServerConfig) (*models.LaunchConfig, error) {
	sanitized, err := ValidateCommand(cfg.Command, cfg.Args)

	event := audit.NewEvent(audit.KindCommandValidation, err == nil, "")
	event.ServerID = cfg.ID
	event.ServerName = cfg.Name
	event.Details = map[string]string{
		"command": cfg.Command,
		"args":    strings.Join(cfg.Args, " "),
	}
	if err != nil {
		event.Reason = err.Error()
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			event.Details["code"] = string(vErr.Code)
		}
	}
	v.recorder.Record(ctx, event)

	if err != nil {
		return nil, err
	}

	if err := ValidateEnvironmentKeys(cfg.Env); err != nil {
		envEvent := audit.NewEvent(audit.KindEnvSanitization, false, err.Error())
		envEvent.ServerID = cfg.ID
		envEvent.ServerName = cfg.Name
		v.recorder.Record(ctx, envEvent)
		return nil, err
	}

	label := cfg.Name
	if len(PermittedEnvKeys(label)) == 0 {
		// Fall back to the package name when the display name is not recognizable
		if pkg := sanitized.Package(); len(PermittedEnvKeys(pkg)) > 0 {
			label = pkg
		}
	}

	env := SanitizeEnvironment(label, cfg.Env)

	envEvent := audit.NewEvent(audit.KindEnvSanitization, true, "")
	envEvent.ServerID = cfg.ID
	envEvent.ServerName = cfg.Name
	envEvent.Details = map[string]string{
		"server_type": ServerTypeKey(label),
		"passed":      strings.Join(passedKeys(env), ","),
	}
	if dropped := DroppedEnvKeys(label, cfg.Env); len(dropped) > 0 {
		envEvent.Details["dropped"] = strings.Join(dropped, ",")
	}
	v.recorder.Record(ctx, envEvent)

	return &models.LaunchConfig{
		Command: sanitized.Command,
		Args:    sanitized.Args,
		Env:     env,
	}, nil
}

func passedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == "PATH" || k == "NODE_ENV" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
