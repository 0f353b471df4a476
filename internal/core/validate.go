package core

import (
	"fmt"
	"regexp"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins checks plugin ids and manifests before anything is served.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool, len(plugins))
	for _, plugin := range plugins {
		id := plugin.ID()
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern)
		}
		manifest := plugin.Manifest()
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if manifest.Version == "" {
			return fmt.Errorf("plugin %s: manifest version is empty", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
	}
	return nil
}
