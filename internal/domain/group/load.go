package group

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a group seed:
//
//	groups:
//	  - name: bio-101
//	    collections:
//	      - id: 1AbC
//	        tags: [attribute, drake]
type File struct {
	Groups []*Group `yaml:"groups"`
}

// LoadGroups decodes a group seed. Names must be present and unique.
func LoadGroups(r io.Reader) ([]*Group, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode groups: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Groups))
	for i, g := range f.Groups {
		if g == nil {
			return nil, fmt.Errorf("groups[%d]: empty entry", i)
		}
		g.Name = strings.TrimSpace(g.Name)
		if g.Name == "" {
			return nil, fmt.Errorf("groups[%d]: name is required", i)
		}
		if _, dup := seen[g.Name]; dup {
			return nil, fmt.Errorf("groups[%d]: duplicate group %q", i, g.Name)
		}
		seen[g.Name] = struct{}{}
		for j, c := range g.Collections {
			if strings.TrimSpace(c.ID) == "" {
				return nil, fmt.Errorf("group %q collections[%d]: id is required", g.Name, j)
			}
		}
	}
	return f.Groups, nil
}
