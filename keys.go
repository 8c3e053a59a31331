package optimistic

import (
	"net/url"
	"strings"
)

// CollectionKey returns the cache key and URL of a collection read.
// Query parameters are encoded sorted by key.
func CollectionKey(namespace string, query url.Values) string {
	if len(query) == 0 {
		return namespace
	}
	return namespace + "?" + query.Encode()
}

// ItemKey returns the cache key and URL of a single entity.
func ItemKey(namespace string, id any) string {
	return namespace + "/" + idString(id)
}

// inNamespace reports whether key is the collection key of namespace, a
// query variant of it, or one of its item keys.
func inNamespace(key, namespace string) bool {
	if key == namespace {
		return true
	}
	rest, ok := strings.CutPrefix(key, namespace)
	return ok && (strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "?"))
}

// isCollectionKey reports whether key is a collection key of namespace.
func isCollectionKey(key, namespace string) bool {
	return key == namespace || strings.HasPrefix(key, namespace+"?")
}
