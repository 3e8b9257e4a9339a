// Package normalize converts raw supplier payloads into canonical products
// using declarative per-supplier field mappings.
package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Availability maps a supplier status field onto product status.
type Availability struct {
	Path         string   `yaml:"path"`
	ActiveValues []string `yaml:"active_values"`
}

// Mapping names the payload paths of one supplier. Paths are dotted and may
// index arrays ("options.0.stock").
type Mapping struct {
	Title         string            `yaml:"title"`
	Price         string            `yaml:"price"`
	CostPrice     string            `yaml:"cost_price"`
	CostFromPrice bool              `yaml:"cost_from_price"`
	Stock         string            `yaml:"stock"`
	Category      string            `yaml:"category"`
	Brand         string            `yaml:"brand"`
	Attributes    map[string]string `yaml:"attributes"`
	Availability  *Availability     `yaml:"availability"`
	PriceDecimals int32             `yaml:"price_decimals"`
}

// Mappings is the parsed mapping file, keyed by supplier code.
type Mappings map[string]Mapping

type mappingFile struct {
	Suppliers Mappings `yaml:"suppliers"`
}

// ParseMappings parses a YAML mapping document.
func ParseMappings(data []byte) (Mappings, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}
	for code, m := range f.Suppliers {
		if m.Title == "" || m.Price == "" {
			return nil, fmt.Errorf("mapping %q: title and price paths are required", code)
		}
		if m.PriceDecimals < 0 {
			return nil, fmt.Errorf("mapping %q: negative price_decimals", code)
		}
	}
	if f.Suppliers == nil {
		f.Suppliers = Mappings{}
	}
	return f.Suppliers, nil
}

// LoadMappings reads and parses the mapping file at path.
func LoadMappings(path string) (Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	return ParseMappings(data)
}
