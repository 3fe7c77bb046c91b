package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/tools"
)

// ToolSource provides the current tool list and a counter that changes
// whenever that list may have changed
type ToolSource interface {
	GetAllTools() []models.ServerTool
	Generation() uint64
}

// ToolCatalog caches the merged tool list and its per-vendor formatting.
// Entries are keyed by registry generation, so any connect or disconnect
// invalidates them.
type ToolCatalog struct {
	source ToolSource
	cache  *cache.Cache
}

// NewToolCatalog creates a catalog whose entries live for ttl
func NewToolCatalog(source ToolSource, ttl time.Duration) *ToolCatalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ToolCatalog{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Tools returns the merged tool list of all connected servers
func (c *ToolCatalog) Tools() []models.ServerTool {
	key := fmt.Sprintf("tools:%d", c.source.Generation())
	if value, found := c.cache.Get(key); found {
		return value.([]models.ServerTool)
	}

	list := c.source.GetAllTools()
	for name, servers := range ShadowedTools(list) {
		log.Printf("⚠️  [CATALOG] Tool %q is exposed by several servers; using %s, shadowing %s",
			name, servers[0], strings.Join(servers[1:], ", "))
	}

	c.cache.Set(key, list, cache.DefaultExpiration)
	return list
}

// Formatted returns the tool list in vendor's declaration format
func (c *ToolCatalog) Formatted(vendor tools.Vendor) (interface{}, error) {
	key := fmt.Sprintf("formatted:%s:%d", vendor, c.source.Generation())
	if value, found := c.cache.Get(key); found {
		return value, nil
	}

	formatted, err := tools.FormatToolsFor(vendor, c.Tools())
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, formatted, cache.DefaultExpiration)
	return formatted, nil
}

// Flush drops every cached entry
func (c *ToolCatalog) Flush() {
	c.cache.Flush()
}

// ShadowedTools reports tool names exposed by more than one server. Each
// value lists server ids in resolution order; the first one wins.
func ShadowedTools(list []models.ServerTool) map[string][]string {
	owners := make(map[string][]string)
	for _, t := range list {
		owners[t.Name] = append(owners[t.Name], t.ServerID)
	}

	shadowed := make(map[string][]string)
	for name, servers := range owners {
		if len(servers) > 1 {
			shadowed[name] = servers
		}
	}
	return shadowed
}
