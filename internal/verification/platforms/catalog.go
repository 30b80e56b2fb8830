// Package platforms knows which platform owns each provider type and groups
// requested types so that one platform's providers run together.
package platforms

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Generic collects provider types no platform claims.
const Generic = "generic"

// ProviderSpec describes one provider type of a platform. URL is set for
// providers served by an upstream check service.
type ProviderSpec struct {
	Type      string        `yaml:"type"`
	URL       string        `yaml:"url,omitempty"`
	APIKeyEnv string        `yaml:"apiKeyEnv,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

type Platform struct {
	Name      string         `yaml:"name"`
	Providers []ProviderSpec `yaml:"providers"`
}

type document struct {
	Platforms []Platform `yaml:"platforms"`
}

// Catalog is the static platform -> provider table.
type Catalog struct {
	platforms  []Platform
	byProvider map[string]string
}

// NewCatalog indexes platforms. A provider type may belong to one platform only.
func NewCatalog(platforms []Platform) (*Catalog, error) {
	c := &Catalog{
		platforms:  platforms,
		byProvider: make(map[string]string),
	}
	for _, p := range platforms {
		if p.Name == "" {
			return nil, fmt.Errorf("platform without name")
		}
		for _, spec := range p.Providers {
			if spec.Type == "" {
				return nil, fmt.Errorf("platform %s: provider without type", p.Name)
			}
			if owner, dup := c.byProvider[spec.Type]; dup {
				return nil, fmt.Errorf("provider %s listed under %s and %s", spec.Type, owner, p.Name)
			}
			c.byProvider[spec.Type] = p.Name
		}
	}
	return c, nil
}

// Parse reads a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	return NewCatalog(doc.Platforms)
}

// Load reads the YAML catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return Parse(data)
}

func (c *Catalog) Platforms() []Platform {
	return c.platforms
}

// PlatformOf returns the platform owning a requested label. Lookup is by the
// full label: "AllowList#id" belongs to a platform only if listed as such.
func (c *Catalog) PlatformOf(label string) string {
	if name, ok := c.byProvider[label]; ok {
		return name
	}
	return Generic
}

// Group partitions types by platform. Groups appear in order of their first
// member; members keep their input order. Every input lands in exactly one group.
func (c *Catalog) Group(types []string) [][]string {
	index := make(map[string]int)
	var groups [][]string
	for _, t := range types {
		platform := c.PlatformOf(t)
		i, ok := index[platform]
		if !ok {
			i = len(groups)
			index[platform] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}
