// Package dispatch resolves an invocation (module path, method name, params)
// against a read-only registry of allow-listed namespaces and runs the bound
// operation on a bounded set of workers.
//
// Module paths are looked up, never imported or evaluated: a path that was
// not registered at startup is rejected with unknown_module before anything
// else happens.
//
// Every result is rendered as an envelope:
//
//	{"success": true,  "message": "success", "data": <result>}
//	{"success": false, "message": "<safe message>",
//	 "error": {"kind": "<kind>", "code": <business code>, "retryable": <bool>}}
package dispatch

import (
	"context"
	"fmt"
	"sort"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// ParamType is the declared JSON type of a parameter
type ParamType string

const (
	TypeString      ParamType = "string"
	TypeInteger     ParamType = "integer"
	TypeNumber      ParamType = "number"
	TypeBoolean     ParamType = "boolean"
	TypeObject      ParamType = "object"
	TypeArray       ParamType = "array"
	TypeStringArray ParamType = "string_array"
	TypeObjectArray ParamType = "object_array"
	TypeAny         ParamType = "any"
)

// Param declares one named parameter of a method
type Param struct {
	Name        string      `json:"name"`
	Type        ParamType   `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Handler runs a method with bound arguments
type Handler func(ctx context.Context, args Args) (interface{}, error)

// Method is an exported operation of a namespace
type Method struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Namespace is an allow-listed module path and its methods
type Namespace struct {
	Path        string
	Description string
	Aliases     []string
	Methods     []*Method
}

type namespaceEntry struct {
	ns      *Namespace
	methods map[string]*Method
}

// Registry maps module paths to namespaces. It is built once and never
// modified, so lookups need no locking.
type Registry struct {
	entries map[string]*namespaceEntry
	paths   []string
}

// NewRegistry validates and indexes namespaces
func NewRegistry(namespaces ...*Namespace) (*Registry, error) {
	r := &Registry{entries: make(map[string]*namespaceEntry)}

	for _, ns := range namespaces {
		if ns == nil || ns.Path == "" {
			return nil, fmt.Errorf("namespace path cannot be empty")
		}

		entry := &namespaceEntry{ns: ns, methods: make(map[string]*Method)}
		for _, m := range ns.Methods {
			if err := validateMethod(ns.Path, m); err != nil {
				return nil, err
			}
			if _, dup := entry.methods[m.Name]; dup {
				return nil, fmt.Errorf("%s: duplicate method %q", ns.Path, m.Name)
			}
			entry.methods[m.Name] = m
		}

		for _, path := range append([]string{ns.Path}, ns.Aliases...) {
			if _, dup := r.entries[path]; dup {
				return nil, fmt.Errorf("duplicate module path %q", path)
			}
			r.entries[path] = entry
		}
		r.paths = append(r.paths, ns.Path)
	}

	sort.Strings(r.paths)
	return r, nil
}

func validateMethod(path string, m *Method) error {
	if m == nil || m.Name == "" {
		return fmt.Errorf("%s: method name cannot be empty", path)
	}
	if m.Handler == nil {
		return fmt.Errorf("%s.%s: method has no handler", path, m.Name)
	}
	seen := make(map[string]bool, len(m.Params))
	for _, p := range m.Params {
		if p.Name == "" {
			return fmt.Errorf("%s.%s: parameter name cannot be empty", path, m.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%s.%s: duplicate parameter %q", path, m.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Required && p.Default != nil {
			return fmt.Errorf("%s.%s: required parameter %q cannot have a default", path, m.Name, p.Name)
		}
		if p.Default != nil {
			if _, err := coerce(p, p.Default); err != nil {
				return fmt.Errorf("%s.%s: default of %q does not match its type", path, m.Name, p.Name)
			}
		}
	}
	return nil
}

// Lookup resolves a module path and method name
func (r *Registry) Lookup(module, method string) (*Method, error) {
	entry, ok := r.entries[module]
	if !ok {
		return nil, apperrors.Newf(apperrors.UnknownModule, "unknown module: %s", module)
	}
	m, ok := entry.methods[method]
	if !ok {
		return nil, apperrors.Newf(apperrors.UnknownMethod, "unknown method %s in module %s", method, module)
	}
	return m, nil
}

// MethodInfo describes a method for listing
type MethodInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params"`
}

// NamespaceInfo describes a namespace for listing
type NamespaceInfo struct {
	Path        string       `json:"path"`
	Description string       `json:"description,omitempty"`
	Aliases     []string     `json:"aliases,omitempty"`
	Methods     []MethodInfo `json:"methods"`
}

// List describes every namespace, sorted by path, methods sorted by name
func (r *Registry) List() []NamespaceInfo {
	out := make([]NamespaceInfo, 0, len(r.paths))
	for _, path := range r.paths {
		ns := r.entries[path].ns
		info := NamespaceInfo{
			Path:        ns.Path,
			Description: ns.Description,
			Aliases:     append([]string(nil), ns.Aliases...),
			Methods:     make([]MethodInfo, 0, len(ns.Methods)),
		}
		for _, m := range ns.Methods {
			info.Methods = append(info.Methods, MethodInfo{
				Name:        m.Name,
				Description: m.Description,
				Params:      append([]Param{}, m.Params...),
			})
		}
		sort.Slice(info.Methods, func(i, j int) bool { return info.Methods[i].Name < info.Methods[j].Name })
		out = append(out, info)
	}
	return out
}

// Paths returns the canonical module paths, sorted
func (r *Registry) Paths() []string {
	return append([]string(nil), r.paths...)
}

// RegistryNamespace exposes the registry itself as modules.system.registry
func RegistryNamespace(reg func() *Registry) *Namespace {
	return &Namespace{
		Path:        "modules.system.registry",
		Description: "Introspection of the registered modules",
		Methods: []*Method{
			{
				Name:        "list_modules",
				Description: "List every module, its methods and their parameters",
				Params: []Param{
					{Name: "module_name", Type: TypeString, Description: "Only describe this module"},
				},
				Handler: func(ctx context.Context, args Args) (interface{}, error) {
					list := reg().List()
					name := args.String("module_name")
					if name == "" {
						return list, nil
					}
					for _, ns := range list {
						if ns.Path == name {
							return []NamespaceInfo{ns}, nil
						}
						for _, alias := range ns.Aliases {
							if alias == name {
								return []NamespaceInfo{ns}, nil
							}
						}
					}
					return nil, apperrors.Newf(apperrors.UnknownModule, "unknown module: %s", name)
				},
			},
		},
	}
}
