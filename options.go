package optimistic

import (
	"log/slog"
	"net/url"
	"time"
)

// ModelOption mutates ModelConfig when registering a model or issuing a call.
type ModelOption func(ModelConfig) ModelConfig

// WithNamespace overrides the collection URL.
func WithNamespace(ns string) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.Namespace = ns
		return cfg
	}
}

// WithIDField sets the JSON name of the identity field.
func WithIDField(field string) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.IDField = field
		return cfg
	}
}

// WithPopulateChildren toggles storing collection elements under their item keys.
func WithPopulateChildren(enabled bool) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.PopulateChildren = enabled
		return cfg
	}
}

// UseCached answers reads from the cache when the key is already present.
func UseCached() ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.UseCached = true
		return cfg
	}
}

// WithUseCachedChildren toggles cache-first item reads while UseCached is set.
func WithUseCachedChildren(enabled bool) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.UseCachedChildren = enabled
		return cfg
	}
}

// WithCacheLife sets the time-to-live of keys written by the model.
func WithCacheLife(ttl time.Duration) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.CacheLife = ttl
		return cfg
	}
}

// WithModelBackend overrides the backend for one model or one call.
func WithModelBackend(b Backend) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.Backend = b
		return cfg
	}
}

// Cloned resolves reads with independent clones of the cached value.
func Cloned() ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.Cloned = true
		return cfg
	}
}

// WithQuery adds query parameters to a collection read.
func WithQuery(q url.Values) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		cfg.Query = q
		return cfg
	}
}

// WithConfig merges the non-zero fields of c into the configuration.
func WithConfig(c ModelConfig) ModelOption {
	return func(cfg ModelConfig) ModelConfig {
		merged, err := mergeModelConfig(cfg, c)
		if err != nil {
			return cfg
		}
		return merged
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackend sets the backend used by models that do not override it.
func WithBackend(b Backend) Option {
	return func(s *Service) {
		s.defaults.Backend = b
	}
}

// WithModelDefaults merges c over the built-in model defaults.
func WithModelDefaults(c ModelConfig) Option {
	return func(s *Service) {
		if merged, err := mergeModelConfig(s.defaults, c); err == nil {
			s.defaults = merged
		}
	}
}
