package driver

import (
	"fmt"
	"slices"

	"github.com/knadh/koanf/v2"
)

// Definition is one entry of the drivers map in configuration.
type Definition struct {
	// Name is the map key, for example "tg-main". Events and sinks of the
	// runtime carry it as their ID.
	Name    string
	Type    string
	Enabled bool
	// Config is the entry's config sub-tree, handed to the builder as is.
	Config *koanf.Koanf
}

// DefinitionsFromConfig reads the map under path in name order. An entry
// without an enabled key is enabled.
func DefinitionsFromConfig(k *koanf.Koanf, path string) ([]Definition, error) {
	if k == nil {
		return nil, fmt.Errorf("driver definitions: nil config")
	}

	names := k.MapKeys(path)
	slices.Sort(names)

	definitions := make([]Definition, 0, len(names))
	for _, name := range names {
		entry := k.Cut(path + "." + name)
		definition := Definition{
			Name:    name,
			Type:    entry.String("type"),
			Enabled: !entry.Exists("enabled") || entry.Bool("enabled"),
			Config:  entry.Cut("config"),
		}
		if definition.Type == "" {
			return nil, fmt.Errorf("driver definitions %s: missing type", name)
		}
		definitions = append(definitions, definition)
	}

	return definitions, nil
}
