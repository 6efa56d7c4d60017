package api

import (
	"fmt"
	"strings"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// toTurn converts a caller message. Multi-part content is flattened to its
// text parts joined by blank lines.
func toTurn(m types.ChatMessage) (engine.Turn, error) {
	var role engine.Role
	switch strings.ToLower(m.Role) {
	case "system":
		role = engine.RoleSystem
	case "user":
		role = engine.RoleUser
	case "assistant":
		role = engine.RoleAssistant
	default:
		return engine.Turn{}, ErrInvalid(fmt.Sprintf("unknown role %q", m.Role))
	}
	var parts []string
	for _, p := range m.Content {
		switch p.Type {
		case "", "text":
			parts = append(parts, p.Value)
		default:
			return engine.Turn{}, ErrInvalid(fmt.Sprintf("unsupported content type %q", p.Type))
		}
	}
	return engine.Turn{Role: role, Text: strings.Join(parts, "\n\n")}, nil
}

// toTurns converts a message list. A nil input yields nil.
func toTurns(msgs []types.ChatMessage) ([]engine.Turn, error) {
	if msgs == nil {
		return nil, nil
	}
	out := make([]engine.Turn, 0, len(msgs))
	for i, m := range msgs {
		t, err := toTurn(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// splitInput separates the turns to append from the user text to prompt with.
func splitInput(msgs []types.ChatMessage) ([]engine.Turn, string, error) {
	if len(msgs) == 0 {
		return nil, "", ErrInvalid("input is empty")
	}
	turns, err := toTurns(msgs)
	if err != nil {
		return nil, "", err
	}
	last := turns[len(turns)-1]
	if last.Role != engine.RoleUser {
		return nil, "", ErrInvalid("the last input message must have role user")
	}
	return turns[:len(turns)-1], last.Text, nil
}
