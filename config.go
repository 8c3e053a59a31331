package optimistic

import (
	"time"

	"dario.cat/mergo"
)

const (
	defaultIDField = "id"
)

// ModelConfig controls how a registered model talks to its backend and the cache.
type ModelConfig struct {
	// Namespace is the collection URL, e.g. "/api/people". Item URLs are Namespace + "/" + id.
	Namespace string

	// IDField is the JSON name of the identity field. Defaults to "id".
	IDField string

	// PopulateChildren stores every element of a collection fetch under its item key.
	PopulateChildren bool

	// UseCached answers reads from the cache without a backend call when the key is present.
	UseCached bool

	// UseCachedChildren extends UseCached to item reads.
	UseCachedChildren bool

	// CacheLife is the time-to-live of keys written by this model. Zero never expires.
	CacheLife time.Duration

	// Backend overrides the service-wide backend.
	Backend Backend

	// Cloned makes reads resolve with independent clones instead of cached references.
	Cloned bool

	// Query is appended, sorted, to the collection key and URL of collection reads.
	Query map[string][]string
}

func defaultModelConfig() ModelConfig {
	return ModelConfig{
		IDField:           defaultIDField,
		PopulateChildren:  true,
		UseCachedChildren: true,
	}
}

func (c ModelConfig) withDefaults() ModelConfig {
	if c.IDField == "" {
		c.IDField = defaultIDField
	}
	return c
}

// mergeModelConfig lays the non-zero fields of override over base.
// Reference-typed fields are assigned whole, never merged into.
func mergeModelConfig(base, override ModelConfig) (ModelConfig, error) {
	backend, query := override.Backend, override.Query
	override.Backend, override.Query = nil, nil
	if err := mergo.Merge(&base, override, mergo.WithOverride); err != nil {
		return base, err
	}
	if backend != nil {
		base.Backend = backend
	}
	if query != nil {
		base.Query = query
	}
	return base, nil
}
