package route

import (
	"fmt"
	"sort"

	"github.com/mrzor/gatewayd/internal/gateway"
)

// Table holds compiled routes ordered by descending prefix length.
type Table struct {
	routes []*Route
}

// NewTable compiles routes and orders them for longest-prefix matching.
// Names and prefixes must be unique.
func NewTable(routes []*Route) (*Table, error) {
	names := make(map[string]struct{}, len(routes))
	prefixes := make(map[string]string, len(routes))
	for _, r := range routes {
		if err := r.Compile(); err != nil {
			return nil, err
		}
		if _, dup := names[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidRoute, r.Name)
		}
		names[r.Name] = struct{}{}
		if other, dup := prefixes[r.Prefix]; dup {
			return nil, fmt.Errorf("%w: routes %q and %q share prefix %q", ErrInvalidRoute, other, r.Name, r.Prefix)
		}
		prefixes[r.Prefix] = r.Name
	}

	sorted := make([]*Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{routes: sorted}, nil
}

// Routes returns the routes in match order.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Match returns the route with the longest prefix covering path, or
// ErrMethodNotAllowed when that route refuses method.
func (t *Table) Match(method gateway.Method, path string) (*Route, error) {
	for _, r := range t.routes {
		if !r.matches(path) {
			continue
		}
		if !r.Allows(method) {
			return r, fmt.Errorf("%w: %s %s (route %q)", ErrMethodNotAllowed, method, path, r.Name)
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w for %s", ErrNoRoute, path)
}
