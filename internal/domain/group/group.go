// Package group contains the cohort configuration that maps tags to the
// externally stored concept sheets used to build rules.
package group

import (
	"context"
	"errors"
	"strings"
)

// ErrGroupNotFound is returned by repositories when no group has the name.
var ErrGroupNotFound = errors.New("group: not found")

// Collection is one tagged sheet reference.
type Collection struct {
	ID   string   `yaml:"id" json:"id"`
	Tags []string `yaml:"tags" json:"tags"`
}

// Group is a cohort configuration.
type Group struct {
	Name          string       `yaml:"name" json:"name"`
	CacheDisabled bool         `yaml:"cacheDisabled" json:"cacheDisabled"`
	Collections   []Collection `yaml:"collections" json:"collections"`
}

// ParseTags splits a comma separated tag string into normalized tags.
func ParseTags(tags string) []string {
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CollectionIDs returns the ids of collections carrying every tag in the comma
// separated tags string, in declaration order.
func (g *Group) CollectionIDs(tags string) []string {
	want := ParseTags(tags)
	ids := make([]string, 0)
	if len(want) == 0 {
		return ids
	}

	for _, c := range g.Collections {
		have := make(map[string]struct{}, len(c.Tags))
		for _, t := range c.Tags {
			have[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
		}
		matched := true
		for _, t := range want {
			if _, ok := have[t]; !ok {
				matched = false
				break
			}
		}
		if matched {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Repository looks groups up by name.
type Repository interface {
	// FindByName returns ErrGroupNotFound when no group matches.
	FindByName(ctx context.Context, name string) (*Group, error)

	// Save upserts a group and replaces its collections.
	Save(ctx context.Context, g *Group) error
}
