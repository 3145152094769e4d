package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrzor/gatewayd/internal/attributes"
	"github.com/mrzor/gatewayd/internal/gateway"
	"github.com/mrzor/gatewayd/internal/route"

	"gopkg.in/yaml.v3"
)

const defaultRouteTimeout = 30 * time.Second

// RouteFile is the YAML layout of the route table.
type RouteFile struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig is one route entry.
type RouteConfig struct {
	Name        string            `yaml:"name"`
	Prefix      string            `yaml:"prefix"`
	Methods     []string          `yaml:"methods"`
	Script      string            `yaml:"script"`
	Interpreter []string          `yaml:"interpreter"`
	Args        []string          `yaml:"args"`
	Dir         string            `yaml:"dir"`
	Timeout     time.Duration     `yaml:"timeout"`
	Flavor      string            `yaml:"flavor"`
	ScriptName  string            `yaml:"script_name"`
	MaxBody     int64             `yaml:"max_body"`
	MaxOutput   int               `yaml:"max_output"`
	TraceID     string            `yaml:"trace_id"`
	ParentID    string            `yaml:"parent_id"`
	Env         map[string]string `yaml:"env"`
	Vars        VarList           `yaml:"vars"`
}

// VarList is a YAML mapping of NAME: expression that keeps document order.
type VarList []attributes.Definition

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *VarList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: vars must be a mapping of NAME: expression", node.Line)
	}
	defs := make(VarList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expression for %q must be a string", value.Line, key.Value)
		}
		defs = append(defs, attributes.Definition{Name: key.Value, Expression: value.Value})
	}
	*v = defs
	return nil
}

// LoadRoutes reads a route file. Relative script and dir paths are resolved
// against the file's directory.
func LoadRoutes(path string) ([]*route.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve routes path: %w", err)
	}
	routes, err := ParseRoutes(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return routes, nil
}

// ParseRoutes decodes a route file. base anchors relative paths.
func ParseRoutes(data []byte, base string) ([]*route.Route, error) {
	var file RouteFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}

	routes := make([]*route.Route, 0, len(file.Routes))
	for i := range file.Routes {
		r, err := file.Routes[i].build(base)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (rc *RouteConfig) build(base string) (*route.Route, error) {
	r := &route.Route{
		Name:        rc.Name,
		Prefix:      rc.Prefix,
		Script:      resolvePath(base, rc.Script),
		Interpreter: rc.Interpreter,
		Args:        rc.Args,
		Dir:         resolvePath(base, rc.Dir),
		Timeout:     rc.Timeout,
		ScriptName:  rc.ScriptName,
		MaxBody:     rc.MaxBody,
		MaxOutput:   rc.MaxOutput,
		Env:         rc.Env,
		Vars:        rc.Vars,
		TraceID:     rc.TraceID,
		ParentID:    rc.ParentID,
	}
	if r.Timeout == 0 {
		r.Timeout = defaultRouteTimeout
	}

	switch strings.ToLower(rc.Flavor) {
	case "", "cgi":
		r.Flavor = gateway.FlavorCGI
	case "wsgi":
		r.Flavor = gateway.FlavorWSGI
	default:
		return nil, fmt.Errorf("route %q: unknown flavor %q", rc.Name, rc.Flavor)
	}

	for _, name := range rc.Methods {
		m, err := gateway.ParseMethod(strings.ToUpper(name))
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.Name, err)
		}
		r.Methods = append(r.Methods, m)
	}
	return r, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}
