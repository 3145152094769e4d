package attributes

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mrzor/gatewayd/internal/gateway"
	"github.com/mrzor/gatewayd/internal/log"
)

// Definition is one NAME: expression pair from a route.
type Definition struct {
	Name       string
	Expression string
}

// Evaluator handles compilation and evaluation of custom meta-variable
// expressions.
type Evaluator struct {
	defs          []Definition
	compiledExprs []*vm.Program
}

// NewEvaluator creates a new evaluator.
// It pre-compiles all expressions so that configuration errors surface at
// startup.
func NewEvaluator(defs []Definition) (*Evaluator, error) {
	compiledExprs := make([]*vm.Program, len(defs))
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("expression %q has no name", def.Expression)
		}
		program, err := expr.Compile(def.Expression, expr.Env(exprEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for variable %q: %w", def.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		defs:          defs,
		compiledExprs: compiledExprs,
	}, nil
}

// Len returns the number of definitions.
func (e *Evaluator) Len() int {
	return len(e.defs)
}

// Vars evaluates every definition for req. Failed evaluations are logged and
// skipped.
func (e *Evaluator) Vars(req *gateway.Request, script *gateway.Script) []gateway.Var {
	if len(e.defs) == 0 {
		return nil
	}

	env := requestEnv(req, script)

	var vars []gateway.Var
	for i, def := range e.defs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			log.Get().Warnw("evaluating variable failed", "name", def.Name, "route", script.Route, "error", err)
			continue
		}
		name := varName(def.Name)

		// A map expands into NAME_KEY entries, in key order
		outputValue := reflect.ValueOf(output)
		if outputValue.Kind() != reflect.Map {
			vars = append(vars, gateway.Var{Name: name, Value: gateway.Text(fmt.Sprint(output))})
			continue
		}
		keys := make([]string, 0, outputValue.Len())
		values := make(map[string]interface{}, outputValue.Len())
		for _, key := range outputValue.MapKeys() {
			keyStr := fmt.Sprintf("%v", key.Interface())
			keys = append(keys, keyStr)
			values[keyStr] = outputValue.MapIndex(key).Interface()
		}
		sort.Strings(keys)
		for _, key := range keys {
			vars = append(vars, gateway.Var{
				Name:  name + "_" + varName(key),
				Value: gateway.Text(fmt.Sprintf("%v", values[key])),
			})
		}
	}

	return vars
}

// varName upper-cases name and replaces characters other than letters,
// digits and underscores with underscores.
func varName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			result[i] = c - ('a' - 'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_':
			result[i] = c
		default:
			result[i] = '_'
		}
	}
	return string(result)
}
