// Package concept holds the rows of the externally maintained concept sheets
// and the port through which they are loaded.
package concept

import (
	"context"
	"time"
)

// Source locates the human-auditable origin of a row.
type Source struct {
	CollectionID string `json:"collectionId"`
	Row          int    `json:"row"`
	URL          string `json:"url"`
}

// AttributeConcept links a trait value of an organism attribute to concepts.
type AttributeConcept struct {
	Attribute  string   `json:"attribute"`
	Target     string   `json:"target"`
	ConceptIDs []string `json:"conceptIds"`
	Source     Source   `json:"source"`
}

// ChallengeConcept links a challenge id to concepts.
type ChallengeConcept struct {
	ChallengeID string   `json:"challengeId"`
	ConceptIDs  []string `json:"conceptIds"`
	Source      Source   `json:"source"`
}

// Row is implemented by every concept row type.
type Row interface {
	AttributeConcept | ChallengeConcept
}

// Loader loads named collections and exposes the resulting rows.
type Loader[T Row] interface {
	// LoadCollections fetches the given collection ids. When cacheDisabled is
	// true every id is fetched from the remote source.
	LoadCollections(ctx context.Context, ids []string, cacheDisabled bool) error

	// Objs returns the rows loaded so far, in collection then row order.
	Objs() []T

	// SheetURL returns the audit URL of a collection.
	SheetURL(id string) string
}

// CacheConfig controls where loaded collections are cached. It is passed
// explicitly to every loader; there is no process-wide cache location.
type CacheConfig struct {
	// Dir is the on-disk cache directory, used by the file backend.
	Dir string
	// TTL is how long a cached collection is served before refetching.
	TTL time.Duration
	// Disabled forces every load to go to the remote source.
	Disabled bool
}

// LoaderFactory creates a fresh Loader. Loaders are not shared between calls.
type LoaderFactory[T Row] func(cache CacheConfig) Loader[T]

// GroupByAttribute returns attribute names in first-seen order and, for each,
// its rows keyed by target value.
func GroupByAttribute(rows []AttributeConcept) ([]string, map[string]map[string]AttributeConcept) {
	order := make([]string, 0)
	grouped := make(map[string]map[string]AttributeConcept)
	for _, r := range rows {
		targets, ok := grouped[r.Attribute]
		if !ok {
			targets = make(map[string]AttributeConcept)
			grouped[r.Attribute] = targets
			order = append(order, r.Attribute)
		}
		targets[r.Target] = r
	}
	return order, grouped
}
