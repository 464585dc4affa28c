// Package action defines the registered-capability table the agent loop uses to
// resolve model-requested actions.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

// SideEffect classifies an action by whether it changes external state.
type SideEffect string

const (
	ReadOnly SideEffect = "read_only"
	Mutating SideEffect = "mutating"
)

// Well-known action names shared by the router and the reference tool set.
const (
	FileExists  = "file_exists"
	ReadFile    = "read_file"
	WriteFile   = "write_file"
	EditFile    = "edit_file"
	ListFiles   = "list_files"
	SearchFiles = "search_files"
	CommitPush  = "commit_push"
	SwitchModel = "switch_model"
	WebSearch   = "web_search"
)

// Handler executes an action. A returned error is reported to the model as
// tool-result text, never propagated past the agent loop.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Param declares a single action parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Registration binds an action name to its handler, side-effect class and
// parameter schema.
type Registration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	SideEffect  SideEffect      `json:"side_effect"`
	Params      []Param         `json:"params,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	// PathParam names the argument that identifies the file an action
	// touches. The scope guard keys on it.
	PathParam string  `json:"path_param,omitempty"`
	Handler   Handler `json:"-"`
}

// Spec is the model-facing description of an action.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrDuplicateAction = errors.New("duplicate action registration")
	ErrMissingParam    = errors.New("missing required parameter")
)

// Validate checks the registration for structural correctness.
func (r *Registration) Validate() error {
	if r.Name == "" {
		return errors.New("action name is required")
	}
	if r.Handler == nil {
		return fmt.Errorf("action %s: handler is required", r.Name)
	}
	switch r.SideEffect {
	case ReadOnly, Mutating:
	default:
		return fmt.Errorf("action %s: invalid side effect %q", r.Name, r.SideEffect)
	}
	return nil
}

// IsReadOnly reports whether the action leaves external state unchanged.
func (r *Registration) IsReadOnly() bool { return r.SideEffect == ReadOnly }

// ValidateArgs checks that every required parameter is present.
func (r *Registration) ValidateArgs(args map[string]any) error {
	var missing []string
	for _, p := range r.Params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(missing, ", "))
	}
	return nil
}

// TargetPath returns the file the call touches, if the action declares one.
// Spellings the workspace resolves to the same file ("./a", "/a", "x/../a",
// "x//a") map to one key.
func (r *Registration) TargetPath(args map[string]any) string {
	if r.PathParam == "" {
		return ""
	}
	s, _ := args[r.PathParam].(string)
	return NormalizePath(s)
}

// NormalizePath cleans p the way the workspace resolves it, relative to the
// root. It returns "" for an empty path or the root itself.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Spec returns the model-facing description. Registrations without an
// explicit schema get one derived from their Params.
func (r *Registration) Spec() Spec {
	params := r.Schema
	if len(params) == 0 {
		params = paramsSchema(r.Params)
	}
	return Spec{Name: r.Name, Description: r.Description, Parameters: params}
}

func paramsSchema(params []Param) json.RawMessage {
	props := make(map[string]map[string]string, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]string{"type": typ, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	data, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return data
}

// SchemaFor reflects a JSON Schema from an argument struct. Field tags follow
// invopop/jsonschema conventions (json names, jsonschema:"required,description=...").
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)
	s.Version = ""
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

// Registry is the static action table. It is built once at startup and only
// read afterwards, so concurrent lookups need no locking.
type Registry struct {
	byName map[string]*Registration
	order  []string
}

// NewRegistry builds a registry from the given registrations.
func NewRegistry(regs ...Registration) (*Registry, error) {
	reg := &Registry{byName: make(map[string]*Registration, len(regs))}
	for i := range regs {
		r := regs[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.byName[r.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, r.Name)
		}
		reg.byName[r.Name] = &r
		reg.order = append(reg.order, r.Name)
	}
	return reg, nil
}

// Lookup resolves an action by name.
func (g *Registry) Lookup(name string) (*Registration, error) {
	r, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return r, nil
}

// Names returns registered action names in registration order.
func (g *Registry) Names() []string {
	return slices.Clone(g.order)
}

// Specs returns the model-facing schema list in registration order.
func (g *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(g.order))
	for _, name := range g.order {
		specs = append(specs, g.byName[name].Spec())
	}
	return specs
}

// IsReadOnly reports whether name resolves to a read-only action. Unknown
// actions count as read-only because they cannot make progress.
func (g *Registry) IsReadOnly(name string) bool {
	r, ok := g.byName[name]
	return !ok || r.IsReadOnly()
}
