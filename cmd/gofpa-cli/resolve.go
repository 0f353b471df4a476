package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/gofpa/plugins/fpa"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveDevice accepts a device id or a device title.
func resolveDevice(client *fpa.Client, input string) (string, error) {
	options := make(map[string]string)
	for _, device := range client.Devices() {
		if device.DeviceID == input {
			return device.DeviceID, nil
		}
		options[device.Title] = device.DeviceID
	}
	return resolveNamedID("device", input, options)
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	for label, id := range options {
		if normalizeName(label) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(options))
	for label, id := range options {
		available = append(available, fmt.Sprintf("%s (%s)", label, id))
	}
	sort.Strings(available)
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
