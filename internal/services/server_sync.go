package services

import (
	"context"
	"log"
	"reflect"
	"sync"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// ServerConnector is the part of the connection manager the bootstrap file drives
type ServerConnector interface {
	Connect(ctx context.Context, cfg models.ServerConfig) (*models.Connection, error)
	Disconnect(ctx context.Context, serverID string) error
}

// ServerSync keeps the connections declared in the servers file in line
// with the file. Servers added through the API are never touched.
type ServerSync struct {
	connector ServerConnector

	mu       sync.Mutex
	declared map[string]models.ServerConfig
	failed   map[string]bool
}

// NewServerSync creates a sync for connector
func NewServerSync(connector ServerConnector) *ServerSync {
	return &ServerSync{
		connector: connector,
		declared:  make(map[string]models.ServerConfig),
		failed:    make(map[string]bool),
	}
}

// Apply connects new or changed entries and disconnects entries that
// disappeared from the file. Entries that failed last time are retried.
// It returns how many connects failed.
func (s *ServerSync) Apply(ctx context.Context, servers []models.ServerConfig) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]models.ServerConfig, len(servers))
	for _, cfg := range servers {
		next[cfg.ID] = cfg
	}

	for id := range s.declared {
		if _, keep := next[id]; keep {
			continue
		}
		if err := s.connector.Disconnect(ctx, id); err != nil {
			log.Printf("⚠️  [MCP] Failed to disconnect removed server %s: %v", id, err)
		} else {
			log.Printf("🔌 [MCP] Disconnected %s (removed from servers file)", id)
		}
	}

	failed := make(map[string]bool)
	for id, cfg := range next {
		if prev, ok := s.declared[id]; ok && reflect.DeepEqual(prev, cfg) && !s.failed[id] {
			continue
		}
		if _, ok := s.declared[id]; ok {
			// Changed entry: Connect would return the live connection unchanged
			if err := s.connector.Disconnect(ctx, id); err != nil {
				log.Printf("⚠️  [MCP] Failed to disconnect changed server %s: %v", id, err)
			}
		}
		if _, err := s.connector.Connect(ctx, cfg); err != nil {
			failed[id] = true
			log.Printf("❌ [MCP] Failed to connect %s from servers file: %v", id, err)
		}
	}

	s.declared = next
	s.failed = failed
	return len(failed)
}

// RetryFailed reconnects declared servers whose last connect failed and
// returns how many are still failing
func (s *ServerSync) RetryFailed(ctx context.Context) int {
	s.mu.Lock()
	current := make([]models.ServerConfig, 0, len(s.declared))
	for _, cfg := range s.declared {
		current = append(current, cfg)
	}
	pending := len(s.failed)
	s.mu.Unlock()

	if pending == 0 {
		return 0
	}
	return s.Apply(ctx, current)
}
