package llmtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ToolHandler runs a tool with raw JSON arguments and returns a raw JSON
// result. Errors are surfaced to the model, so they must be short and safe.
type ToolHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ToolDefinition is a callable tool. StableName is lowercase snake_case and
// never changes; behaviour changes bump SemVer.
type ToolDefinition struct {
	StableName  string
	SemVer      string
	Description string
	// JSONSchema describes the argument object.
	JSONSchema json.RawMessage
	Handler    ToolHandler
}

// Registry holds tools by stable name.
type Registry struct {
	defs map[string]ToolDefinition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]ToolDefinition)}
}

var (
	nameRe   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	semverRe = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-[0-9A-Za-z.-]+)?$`)
)

// Register validates def and adds or replaces it.
func (r *Registry) Register(def ToolDefinition) error {
	if !nameRe.MatchString(def.StableName) {
		return fmt.Errorf("invalid stable name %q: must be lowercase snake_case starting with a letter", def.StableName)
	}
	if !semverRe.MatchString(def.SemVer) {
		return fmt.Errorf("invalid semver %q", def.SemVer)
	}
	if !isJSONObject(def.JSONSchema) {
		return errors.New("json schema must be a non-empty JSON object")
	}
	if def.Handler == nil {
		return errors.New("handler must not be nil")
	}
	if r.defs == nil {
		r.defs = make(map[string]ToolDefinition)
	}
	r.defs[def.StableName] = def
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names lists registered tools in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the tool specs in name order so requests are reproducible.
func (r *Registry) Specs() []ToolSpec {
	names := r.Names()
	specs := make([]ToolSpec, 0, len(names))
	for _, name := range names {
		def := r.defs[name]
		specs = append(specs, ToolSpec{
			Name:        def.StableName,
			Description: fmt.Sprintf("%s (version %s)", def.Description, def.SemVer),
			JSONSchema:  def.JSONSchema,
		})
	}
	return specs
}

func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}
