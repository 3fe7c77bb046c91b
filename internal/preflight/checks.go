package preflight

import (
	"fmt"
	"log"

	"github.com/claraverse/mcp-gateway/internal/config"
	"github.com/claraverse/mcp-gateway/internal/database"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before the gateway starts
type Checker struct {
	db  *database.DB
	cfg *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(db *database.DB, cfg *config.Config) *Checker {
	return &Checker{db: db, cfg: cfg}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(),
		c.checkAuditSchema(),
		c.checkLauncherSecret(),
		c.checkServersFile(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkDatabaseConnection() CheckResult {
	if err := c.db.Ping(); err != nil {
		return CheckResult{
			Name:    "Audit Database",
			Status:  "fail",
			Message: "Cannot connect to audit database",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Audit Database",
		Status:  "pass",
		Message: fmt.Sprintf("Connected (%s)", c.db.Dialect),
	}
}

func (c *Checker) checkAuditSchema() CheckResult {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM mcp_audit_log").Scan(&count); err != nil {
		return CheckResult{
			Name:    "Audit Schema",
			Status:  "fail",
			Message: "Table 'mcp_audit_log' not found",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Audit Schema",
		Status:  "pass",
		Message: fmt.Sprintf("mcp_audit_log holds %d events", count),
	}
}

func (c *Checker) checkLauncherSecret() CheckResult {
	if c.cfg.LauncherSecret != "" {
		return CheckResult{
			Name:    "Launcher Secret",
			Status:  "pass",
			Message: "Launcher endpoint enabled",
		}
	}

	status := "warning"
	if c.cfg.IsProduction() {
		status = "fail"
	}
	return CheckResult{
		Name:    "Launcher Secret",
		Status:  status,
		Message: "LAUNCHER_SECRET not set, stdio servers cannot be launched",
	}
}

func (c *Checker) checkServersFile() CheckResult {
	if c.cfg.ServersFile == "" {
		return CheckResult{
			Name:    "Servers File",
			Status:  "pass",
			Message: "Not configured",
		}
	}

	servers, err := config.LoadServers(c.cfg.ServersFile)
	if err != nil {
		return CheckResult{
			Name:    "Servers File",
			Status:  "warning",
			Message: fmt.Sprintf("%s cannot be loaded", c.cfg.ServersFile),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Servers File",
		Status:  "pass",
		Message: fmt.Sprintf("%d enabled servers in %s", len(servers), c.cfg.ServersFile),
	}
}
