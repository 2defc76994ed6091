package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
)

var paramSchemas = map[Kind]string{
	KindCreateConversation: `{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "minLength": 1},
			"model": {"type": "string"},
			"systemMessage": {"type": "string"}
		},
		"required": ["prompt"]
	}`,
	KindSendMessage: `{
		"type": "object",
		"properties": {
			"conversationId": {"type": ["string", "integer"], "minLength": 1},
			"prompt": {"type": "string", "minLength": 1},
			"model": {"type": "string"},
			"systemMessage": {"type": "string"},
			"parentIdx": {"type": "integer", "minimum": 0}
		},
		"required": ["conversationId", "prompt"]
	}`,
	KindEvaluate: `{
		"type": "object",
		"properties": {
			"code": {"type": "string", "minLength": 1}
		},
		"required": ["code"]
	}`,
}

// Defaults fill optional parameters a command omits.
type Defaults struct {
	Model         string
	SystemMessage string
}

// Option configures a Registry.
type Option func(*Registry)

// WithEvaluator registers the evaluate command.
func WithEvaluator(e Evaluator) Option {
	return func(r *Registry) { r.eval = e }
}

// WithDefaults sets fallback values for optional parameters.
func WithDefaults(d Defaults) Option {
	return func(r *Registry) { r.defaults = d }
}

// Registry maps command names to handlers. It is fixed at construction.
type Registry struct {
	handlers Handlers
	eval     Evaluator
	defaults Defaults
	schemas  map[Kind]*gojsonschema.Schema
	names    []string
}

// NewRegistry builds the registry for h and compiles every parameter schema.
func NewRegistry(h Handlers, opts ...Option) (*Registry, error) {
	r := &Registry{handlers: h, schemas: map[Kind]*gojsonschema.Schema{}}
	for _, o := range opts {
		o(r)
	}
	kinds := []Kind{KindCreateConversation, KindSendMessage}
	if r.eval != nil {
		kinds = append(kinds, KindEvaluate)
	}
	for _, k := range kinds {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(paramSchemas[k]))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", k, err)
		}
		r.schemas[k] = s
		r.names = append(r.names, string(k))
	}
	return r, nil
}

// Names returns the registered command names.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.schemas[Kind(name)]
	return ok
}

// Decode validates params against the schema of the named command and
// decodes them into its typed parameter struct.
func (r *Registry) Decode(name string, params json.RawMessage) (Command, error) {
	k := Kind(name)
	schema, ok := r.schemas[k]
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}
	raw := bytes.TrimSpace(params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w for %s: %s", ErrInvalidParams, name, strings.Join(msgs, "; "))
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
	}

	switch k {
	case KindCreateConversation:
		var c CreateConversation
		if err := decode(fields, &c); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
		}
		c.Model = fallback(c.Model, r.defaults.Model)
		c.SystemMessage = fallback(c.SystemMessage, r.defaults.SystemMessage)
		return c, nil
	case KindSendMessage:
		var c SendMessage
		if err := decode(fields, &c); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
		}
		c.Model = fallback(c.Model, r.defaults.Model)
		c.SystemMessage = fallback(c.SystemMessage, r.defaults.SystemMessage)
		return c, nil
	case KindEvaluate:
		var c Evaluate
		if err := decode(fields, &c); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
		}
		return c, nil
	}
	return nil, &UnknownCommandError{Name: name}
}

// Dispatch runs cmd on its handler.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case CreateConversation:
		return r.handlers.CreateConversation(ctx, c)
	case SendMessage:
		return r.handlers.SendMessage(ctx, c)
	case Evaluate:
		if r.eval == nil {
			return nil, &UnknownCommandError{Name: string(KindEvaluate)}
		}
		return r.eval.Evaluate(ctx, c)
	default:
		return nil, fmt.Errorf("unhandled command type %T", cmd)
	}
}

func decode(fields map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return d.Decode(fields)
}

func fallback(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
