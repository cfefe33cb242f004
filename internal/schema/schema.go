// Package schema validates command params against embedded CUE schemas and
// fills in defaults before they are decoded into typed params.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/protoengine/internal/ir"
)

//go:embed commands.cue
var commandsCUE string

// Validator checks raw or typed params against the schema of a command kind.
// A cue.Context is not safe for concurrent use, so every call is serialized.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[ir.CommandKind]cue.Value
}

// New compiles the embedded schemas. Every registered command kind must have
// a definition of the same name.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(commandsCUE, cue.Filename("commands.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile command schemas: %w", err)
	}

	defs := make(map[ir.CommandKind]cue.Value)
	for _, kind := range ir.AllKinds() {
		def := root.LookupPath(cue.ParsePath("#" + string(kind)))
		if !def.Exists() {
			return nil, fmt.Errorf("no schema for command type %q", kind)
		}
		if err := def.Err(); err != nil {
			return nil, fmt.Errorf("schema for %q: %w", kind, err)
		}
		defs[kind] = def
	}

	return &Validator{ctx: ctx, defs: defs}, nil
}

// MustNew is like New but panics if the embedded schemas do not compile.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks params for kind and returns the typed params with schema
// defaults applied. params may be nil, a typed ir.Params, or any value that
// encodes to a JSON object.
func (v *Validator) Validate(kind ir.CommandKind, params any) (ir.Params, error) {
	def, ok := v.defs[kind]
	if !ok {
		return nil, &ValidationError{Kind: kind, Message: "unknown command type"}
	}
	if p, ok := params.(ir.Params); ok && p.Kind() != kind {
		return nil, &ValidationError{
			Kind:    kind,
			Message: fmt.Sprintf("params are for %q", p.Kind()),
		}
	}

	data := []byte("{}")
	if params != nil {
		b, err := json.Marshal(normalize(params))
		if err != nil {
			return nil, &ValidationError{Kind: kind, Message: "params are not JSON-encodable: " + err.Error()}
		}
		data = b
	}

	resolved, err := v.unify(kind, def, data)
	if err != nil {
		return nil, err
	}

	typed, err := ir.DecodeParams(kind, resolved)
	if err != nil {
		return nil, &ValidationError{Kind: kind, Message: err.Error()}
	}
	return typed, nil
}

func (v *Validator) unify(kind ir.CommandKind, def cue.Value, data []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	input := v.ctx.CompileBytes(data, cue.Filename("params.json"))
	if err := input.Err(); err != nil {
		return nil, &ValidationError{Kind: kind, Message: "params must be a JSON object: " + err.Error()}
	}

	unified := def.Unify(input)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(kind, err)
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(kind, err)
	}
	return out, nil
}

// normalize converts YAML-decoded maps (map[any]any) into JSON-encodable ones.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	default:
		return v
	}
}

// ValidationError reports params that do not satisfy their kind's schema.
type ValidationError struct {
	Kind    ir.CommandKind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s params: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s params: %s", e.Kind, e.Message)
}

// formatCUEError keeps the first CUE error and the field path it points at.
func formatCUEError(kind ir.CommandKind, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Kind: kind, Message: err.Error()}
	}

	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Kind:    kind,
		Field:   strings.Join(trimDefinition(first.Path()), "."),
		Message: fmt.Sprintf(format, args...),
	}
}

// trimDefinition drops the leading #kind selector from a CUE error path.
func trimDefinition(path []string) []string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		return path[1:]
	}
	return path
}
