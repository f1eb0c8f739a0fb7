package datamodel

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds all known cluster definitions.
type Registry struct {
	mu       sync.RWMutex
	clusters map[ClusterID]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates a registry preloaded with the built-in cluster
// definitions.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		clusters: make(map[ClusterID]*ClusterDef),
		logger:   logger,
	}
	for _, c := range builtinClusters {
		r.Register(c)
	}
	return r
}

// Register adds a cluster definition to the registry. Registering an ID
// twice merges the new attributes into the existing definition.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", uint32(c.ID)), "name", existing.Name)
	} else {
		clone := c
		r.clusters[c.ID] = &clone
		r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", uint32(c.ID)), "name", c.Name)
	}
}

// Get returns a cluster definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id ClusterID) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// All returns all registered cluster definitions as deep copies.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.DeepCopy())
	}
	return result
}

// AttributeName resolves a cluster and attribute pair to display names,
// falling back to hex when unknown.
func (r *Registry) AttributeName(cluster ClusterID, attr AttributeID) (clusterName, attrName string) {
	clusterName = fmt.Sprintf("0x%04X", uint32(cluster))
	attrName = fmt.Sprintf("0x%04X", uint32(attr))
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[cluster]
	if c == nil {
		return
	}
	clusterName = c.Name
	if a := c.FindAttribute(attr); a != nil {
		attrName = a.Name
	}
	return
}
