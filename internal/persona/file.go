package persona

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// File is the on-disk persona list used by import and export.
type File struct {
	Personas []Weighted `yaml:"personas"`
}

// ReadFile decodes a persona list. Entries may be plain strings or
// name/weight mappings.
func ReadFile(r io.Reader) ([]Weighted, error) {
	var raw struct {
		Personas []yaml.Node `yaml:"personas"`
	}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode personas: %w", err)
	}

	out := make([]Weighted, 0, len(raw.Personas))
	for i, node := range raw.Personas {
		switch node.Kind {
		case yaml.ScalarNode:
			out = append(out, Weighted{Name: node.Value})
		case yaml.MappingNode:
			var item Weighted
			if err := node.Decode(&item); err != nil {
				return nil, fmt.Errorf("persona %d: %w", i, err)
			}
			out = append(out, item)
		default:
			return nil, fmt.Errorf("persona %d: unsupported yaml node", i)
		}
	}
	return out, nil
}

// WriteFile encodes personas as YAML.
func WriteFile(w io.Writer, personas []Weighted) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Personas: personas}); err != nil {
		return fmt.Errorf("encode personas: %w", err)
	}
	return enc.Close()
}
