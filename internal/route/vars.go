package route

import (
	"sort"

	"github.com/mrzor/gatewayd/internal/gateway"
)

// chain yields a route's fixed variables, then its expression variables.
type chain struct {
	fixed   []gateway.Var
	dynamic gateway.VarSource
}

func (c *chain) Vars(req *gateway.Request, script *gateway.Script) []gateway.Var {
	if c.dynamic == nil {
		return c.fixed
	}
	dynamic := c.dynamic.Vars(req, script)
	out := make([]gateway.Var, 0, len(c.fixed)+len(dynamic))
	out = append(out, c.fixed...)
	return append(out, dynamic...)
}

// fixedVars orders env by name.
func fixedVars(env map[string]string) []gateway.Var {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	vars := make([]gateway.Var, len(names))
	for i, name := range names {
		vars[i] = gateway.Var{Name: name, Value: gateway.Text(env[name])}
	}
	return vars
}
