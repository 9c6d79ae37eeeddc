package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key describes a query in structured form and renders it as the opaque
// string the Store is keyed by.
type Key struct {
	// Resource is the logical data source (e.g., "/users/{id}" or "stats")
	Resource string

	// Params are identifying parameters (e.g., {"id": "1"})
	Params map[string]string

	// Query are optional filter parameters (e.g., {"status": "active"})
	Query url.Values

	// Scope separates otherwise identical queries per tenant or user ("" for shared)
	Scope string
}

// String generates a deterministic cache key string.
// Format: q:resource:param1=val1:query1=val1:scope=s
//
// Example:
//
//	q:users/{id}:id=1:scope=tenant-a
func (k Key) String() string {
	parts := []string{"q"}

	resource := strings.Trim(k.Resource, "/")
	if resource != "" {
		parts = append(parts, resource)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Query[name], ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}
