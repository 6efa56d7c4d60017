package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// compileSchema compiles a JSON Schema document. Empty input yields nil.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// validateJSON checks a JSON text against sch.
func validateJSON(sch *jsonschema.Schema, text []byte) error {
	var v any
	if err := json.Unmarshal(text, &v); err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	return sch.Validate(v)
}

// functions turns tool declarations into engine functions whose handlers
// emit a toolCall event and block on the bridge until the caller answers.
func (s *Service) functions(decls []types.ToolDecl, emit Emitter) (map[string]engine.Function, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	out := make(map[string]engine.Function, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return nil, ErrInvalid("tool name is required")
		}
		if _, dup := out[d.Name]; dup {
			return nil, ErrInvalid("duplicate tool " + d.Name)
		}
		sch, err := compileSchema(d.Parameters)
		if err != nil {
			return nil, ErrInvalid(fmt.Sprintf("tool %s parameters: %v", d.Name, err))
		}
		name := d.Name
		out[name] = engine.Function{
			Description: d.Description,
			Parameters:  d.Parameters,
			Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				return s.callTool(ctx, name, sch, args, emit)
			},
		}
	}
	return out, nil
}

func (s *Service) callTool(ctx context.Context, name string, sch *jsonschema.Schema, args json.RawMessage, emit Emitter) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if sch != nil {
		if err := validateJSON(sch, args); err != nil {
			s.log.Warn().Err(err).Str("tool", name).Msg("tool arguments rejected")
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	id := uuid.NewString()
	p, err := s.cfg.Bridge.Begin(id)
	if err != nil {
		return nil, err
	}
	if err := emit.Emit(types.Event{Type: types.EventToolCall, CallID: id, Name: name, Arguments: args}); err != nil {
		s.cfg.Bridge.Reject(id, err)
		return nil, fmt.Errorf("emit tool call: %w", err)
	}
	s.log.Debug().Str("call_id", id).Str("tool", name).Msg("tool call pending")
	return p.Wait(ctx)
}
