// Package styles loads the catalog of headshot style presets.
package styles

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fpang/pro-headshot/internal/assets"
	"gopkg.in/yaml.v3"
)

// Preset is one selectable headshot style. Presets are immutable once loaded.
type Preset struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description"`
	PromptModifier string `yaml:"prompt_modifier" json:"promptModifier"`
	Accent         string `yaml:"accent" json:"accent"`
}

// Catalog is a versioned, ordered set of presets.
type Catalog struct {
	Version int      `yaml:"version" json:"version"`
	Styles  []Preset `yaml:"styles" json:"styles"`

	byID map[string]int
}

// ErrNotFound is returned by Lookup for an unknown style ID.
var ErrNotFound = errors.New("style not found")

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse style catalog: %w", err)
	}
	if len(c.Styles) == 0 {
		return nil, errors.New("style catalog has no styles")
	}

	c.byID = make(map[string]int, len(c.Styles))
	for i, p := range c.Styles {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("style %d has an empty id", i)
		}
		if p.PromptModifier == "" {
			return nil, fmt.Errorf("style %q has an empty prompt_modifier", id)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("duplicate style id %q", id)
		}
		c.Styles[i].ID = id
		c.byID[id] = i
	}
	return &c, nil
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := Parse(assets.StylesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded style catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from path. An empty path yields the embedded
// catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Lookup returns the preset with the given ID.
func (c *Catalog) Lookup(id string) (Preset, error) {
	i, ok := c.byID[id]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.Styles[i], nil
}

// All returns a copy of the presets in catalog order.
func (c *Catalog) All() []Preset {
	out := make([]Preset, len(c.Styles))
	copy(out, c.Styles)
	return out
}
