package engine

import (
	"encoding/json"
	"sort"
	"strings"
)

// Chat templates understood by RenderChat.
const (
	TemplateChatML = "chatml"
	TemplatePlain  = "plain"
)

// RenderChat turns a history into a single prompt ending with an open assistant turn.
// Functions, when present, are described in a leading system block.
func RenderChat(template string, turns []Turn, fns map[string]Function) string {
	var b strings.Builder
	if template == TemplatePlain {
		if len(fns) > 0 {
			b.WriteString(describeFunctions(fns))
			b.WriteString("\n\n")
		}
		for _, t := range turns {
			b.WriteString(string(t.Role))
			b.WriteString(": ")
			b.WriteString(t.Text)
			b.WriteString("\n")
		}
		b.WriteString("assistant: ")
		return b.String()
	}
	if len(fns) > 0 {
		writeChatML(&b, RoleSystem, describeFunctions(fns))
	}
	for _, t := range turns {
		writeChatML(&b, t.Role, t.Text)
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// StopSequences returns the end-of-turn markers for template.
func StopSequences(template string) []string {
	if template == TemplatePlain {
		return []string{"\nuser:"}
	}
	return []string{"<|im_end|>"}
}

func writeChatML(b *strings.Builder, role Role, text string) {
	b.WriteString("<|im_start|>")
	b.WriteString(string(role))
	b.WriteString("\n")
	b.WriteString(text)
	b.WriteString("<|im_end|>\n")
}

func describeFunctions(fns map[string]Function) string {
	names := make([]string, 0, len(fns))
	for n := range fns {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("You may call these functions. To call one, reply with exactly ")
	b.WriteString(`<tool_call>{"name": "<function>", "arguments": {...}}</tool_call>`)
	b.WriteString(" and nothing else. The result is returned in a tool turn.\n")
	for _, n := range names {
		f := fns[n]
		params := f.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		b.WriteString("- ")
		b.WriteString(n)
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString(" parameters=")
		b.Write(params)
		b.WriteString("\n")
	}
	return b.String()
}
