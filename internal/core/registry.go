package core

import (
	"sync"
)

// PluginSummary is the discovery view of one plugin.
type PluginSummary struct {
	PluginID      string   `json:"plugin_id"`
	DisplayName   string   `json:"display_name"`
	Version       string   `json:"version"`
	Services      []string `json:"services,omitempty"`
	Status        string   `json:"status"`
	HealthMessage string   `json:"health_message,omitempty"`
}

// Registry provides plugin discovery to clients.
type Registry struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistry(plugins []Plugin) *Registry {
	return &Registry{plugins: plugins}
}

func (r *Registry) Summaries() []PluginSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p))
	}
	return out
}

// Describe returns the summary of one plugin.
func (r *Registry) Describe(pluginID string) (PluginSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Manifest().PluginID == pluginID {
			return summarize(p), true
		}
	}
	return PluginSummary{}, false
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:      manifest.PluginID,
		DisplayName:   manifest.DisplayName,
		Version:       manifest.Version,
		Services:      manifest.Services,
		Status:        string(p.Health()),
		HealthMessage: p.HealthMessage(),
	}
}
