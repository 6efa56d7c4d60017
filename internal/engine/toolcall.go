package engine

import (
	"encoding/json"
	"strings"
)

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// FunctionCall is a parsed model request to invoke a function.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseFunctionCall extracts the first <tool_call> block from text.
// It returns the text preceding the block and whether a well-formed call was found.
func ParseFunctionCall(text string) (FunctionCall, string, bool) {
	start := strings.Index(text, toolCallOpen)
	if start < 0 {
		return FunctionCall{}, text, false
	}
	rest := text[start+len(toolCallOpen):]
	end := strings.Index(rest, toolCallClose)
	if end < 0 {
		end = len(rest)
	}
	var call FunctionCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &call); err != nil || call.Name == "" {
		return FunctionCall{}, text, false
	}
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage(`{}`)
	}
	return call, text[:start], true
}

// FormatFunctionResult renders a function result as a tool turn body.
func FormatFunctionResult(name string, result json.RawMessage, err error) string {
	payload := map[string]any{"name": name}
	if err != nil {
		payload["error"] = err.Error()
	} else {
		payload["result"] = result
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// CallFilter forwards streamed text to emit while holding back anything that
// may be the start of a <tool_call> block. Once a block opens, the rest of the
// generation is held until Flush or Discard.
type CallFilter struct {
	emit    func(string) error
	pending string
	inCall  bool
}

// NewCallFilter wraps emit.
func NewCallFilter(emit func(string) error) *CallFilter {
	return &CallFilter{emit: emit}
}

// Write accepts one streamed chunk.
func (f *CallFilter) Write(chunk string) error {
	f.pending += chunk
	if f.inCall {
		return nil
	}
	if i := strings.Index(f.pending, toolCallOpen); i >= 0 {
		f.inCall = true
		out := f.pending[:i]
		f.pending = f.pending[i:]
		return f.send(out)
	}
	keep := partialSuffix(f.pending, toolCallOpen)
	out := f.pending[:len(f.pending)-keep]
	f.pending = f.pending[len(f.pending)-keep:]
	return f.send(out)
}

// Flush forwards held text; used when the output turned out not to be a call.
func (f *CallFilter) Flush() error {
	out := f.pending
	f.pending, f.inCall = "", false
	return f.send(out)
}

// Discard drops held text.
func (f *CallFilter) Discard() {
	f.pending, f.inCall = "", false
}

func (f *CallFilter) send(s string) error {
	if s == "" || f.emit == nil {
		return nil
	}
	return f.emit(s)
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of marker.
func partialSuffix(s, marker string) int {
	for n := min(len(s), len(marker)-1); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
