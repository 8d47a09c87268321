// Package style loads YAML tag filters for decoded features.
package style

import (
	"fmt"
	"os"

	"github.com/paulmach/osm"
	"gopkg.in/yaml.v3"
)

// Config holds one filter per output geometry kind
type Config struct {
	Points   *FilterConfig `yaml:"points,omitempty"`
	Lines    *FilterConfig `yaml:"lines,omitempty"`
	Polygons *FilterConfig `yaml:"polygons,omitempty"`

	// MinLayer and MaxLayer limit features by their drawing layer
	MinLayer *int `yaml:"min_layer,omitempty"`
	MaxLayer *int `yaml:"max_layer,omitempty"`

	filters map[string]*Filter
}

// FilterConfig defines filtering rules for a geometry kind
type FilterConfig struct {
	// Include lists tag keys and allowed values. An empty value list or "*"
	// accepts any value. If empty, every feature is included.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude is applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny requires at least one of these keys
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML style document
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	if cfg.MinLayer != nil && cfg.MaxLayer != nil && *cfg.MinLayer > *cfg.MaxLayer {
		return nil, fmt.Errorf("min_layer %d is greater than max_layer %d", *cfg.MinLayer, *cfg.MaxLayer)
	}
	cfg.compile()
	return &cfg, nil
}

// DefaultConfig returns a configuration that includes everything
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.compile()
	return cfg
}

func (c *Config) compile() {
	c.filters = map[string]*Filter{
		"point":   NewFilter(c.Points),
		"line":    NewFilter(c.Lines),
		"polygon": NewFilter(c.Polygons),
	}
}

// Filter returns the filter for a geometry kind: "point", "line" or
// "polygon". Safe for concurrent use on a loaded Config.
func (c *Config) Filter(kind string) *Filter {
	if f, ok := c.filters[kind]; ok {
		return f
	}
	switch kind {
	case "point":
		return NewFilter(c.Points)
	case "line":
		return NewFilter(c.Lines)
	case "polygon":
		return NewFilter(c.Polygons)
	}
	return NewFilter(nil)
}

// Allows reports whether a feature of kind with tags passes the style
func (c *Config) Allows(kind string, tags osm.Tags) bool {
	return c.Filter(kind).Match(tags)
}

// AllowsLayer reports whether layer lies within the configured range
func (c *Config) AllowsLayer(layer int8) bool {
	if c.MinLayer != nil && int(layer) < *c.MinLayer {
		return false
	}
	if c.MaxLayer != nil && int(layer) > *c.MaxLayer {
		return false
	}
	return true
}

// Filter checks tags against one FilterConfig
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

// Match returns true if the feature should be included
func (f *Filter) Match(tags osm.Tags) bool {
	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if tags.HasTag(key) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.cfg.Include) > 0 {
		matched := false
		for _, tag := range tags {
			if values, ok := f.cfg.Include[tag.Key]; ok && valueMatches(values, tag.Value) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, tag := range tags {
		if values, ok := f.cfg.Exclude[tag.Key]; ok && valueMatches(values, tag.Value) {
			return false
		}
	}

	return true
}

// valueMatches treats an empty list as "any value"
func valueMatches(values []string, value string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if v == value || v == "*" {
			return true
		}
	}
	return false
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}
