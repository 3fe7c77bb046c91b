package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/launcher"
	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/pkg/auth"
	"github.com/spf13/cobra"
)

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Attach to the gateway and serve spawn requests",
	Long: `Starts the launcher in the foreground. It attaches to the gateway over a
websocket, spawns allow-listed tool servers on request, and forwards protocol
requests to them. Every spawn is validated again locally before it runs.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	launcherAuth, err := auth.NewLauncherAuth(cfg.Secret, 0)
	if err != nil {
		return err
	}

	log.Println("🚀 Starting ClaraVerse launcher")
	log.Printf("📍 Config: %s", path)
	log.Printf("🌐 Gateway: %s", cfg.GatewayURL)

	reg := launcher.NewRegistry(launcher.RegistryOptions{
		MaxServers: cfg.MaxServers,
		SpawnRate:  cfg.SpawnRate,
		SpawnBurst: cfg.SpawnBurst,
		Verbose:    cfg.Verbose,
		Recorder:   audit.NewLogRecorder(slog.Default()),
	})

	b := launcher.NewBridge(launcher.BridgeOptions{
		GatewayURL: cfg.GatewayURL,
		Token: func() (string, error) {
			return launcherAuth.IssueToken(cfg.LauncherID)
		},
		Hello: models.LauncherHello{
			LauncherID: cfg.LauncherID,
			Version:    AppVersion,
			Platform:   runtime.GOOS,
		},
		Handler:        reg,
		RequestTimeout: cfg.RequestTimeout,
		Verbose:        cfg.Verbose,
	})

	// The gateway forgets local servers when the link drops, so do we
	b.SetDisconnectHandler(reg.StopAll)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("✅ Launcher running. Press Ctrl+C to exit.")
	err = b.Run(ctx)

	log.Println("🛑 Shutting down...")
	reg.StopAll()

	if errors.Is(err, launcher.ErrAuthenticationFailed) {
		return fmt.Errorf("gateway rejected the launcher: %w", err)
	}
	log.Println("✅ Goodbye!")
	return err
}
