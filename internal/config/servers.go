package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claraverse/mcp-gateway/internal/models"
)

const serversDebounce = 500 * time.Millisecond

// ServersFile is the bootstrap file format
type ServersFile struct {
	Servers []models.ServerConfig `json:"servers"`
}

// LoadServers reads server configs from a JSON bootstrap file.
// Disabled entries are skipped; every returned entry passed Validate.
func LoadServers(filePath string) ([]models.ServerConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	var file ServersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse servers JSON: %w", err)
	}

	servers := make([]models.ServerConfig, 0, len(file.Servers))
	seen := make(map[string]bool)
	for _, s := range file.Servers {
		if !s.Enabled {
			continue
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid server entry: %w", err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = true
		servers = append(servers, s)
	}

	return servers, nil
}

// WatchServers re-reads the bootstrap file whenever it changes and hands the
// result to onChange. It blocks until ctx is done.
func WatchServers(ctx context.Context, filePath string, onChange func([]models.ServerConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", filePath, err)
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(serversDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				log.Printf("🔄 Detected changes in %s, reloading servers...", filePath)
				servers, err := LoadServers(filePath)
				if err != nil {
					log.Printf("❌ Failed to reload servers: %v", err)
					return
				}
				onChange(servers)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
