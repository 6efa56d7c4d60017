package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Primitive rules shared by every converted schema, one rule per line.
var grammarPrimitives = map[string]string{
	"ws":      `[ \t\n]*`,
	"value":   `object | array | string | number | boolean | null`,
	"object":  `"{" ws ( string ":" ws value ( "," ws string ":" ws value )* )? "}" ws`,
	"array":   `"[" ws ( value ( "," ws value )* )? "]" ws`,
	"string":  `"\"" ( [^"\\\x7F\x00-\x1F] | "\\" ( ["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] ) )* "\"" ws`,
	"number":  `"-"? ( [0-9] | [1-9] [0-9]* ) ( "." [0-9]+ )? ( [eE] [-+]? [0-9]+ )? ws`,
	"integer": `"-"? ( [0-9] | [1-9] [0-9]* ) ws`,
	"boolean": `( "true" | "false" ) ws`,
	"null":    `"null" ws`,
}

var primitiveDeps = map[string][]string{
	"value":   {"object", "array", "string", "number", "boolean", "null"},
	"object":  {"ws", "string", "value"},
	"array":   {"ws", "value"},
	"string":  {"ws"},
	"number":  {"ws"},
	"integer": {"ws"},
	"boolean": {"ws"},
	"null":    {"ws"},
}

// SchemaGrammar converts a JSON schema into a GBNF grammar whose root rule
// accepts JSON documents of that shape. Object properties are emitted in
// name order. $ref and allOf are not supported.
func SchemaGrammar(schema []byte) (string, error) {
	var node any
	if err := json.Unmarshal(schema, &node); err != nil {
		return "", fmt.Errorf("parse schema: %w", err)
	}
	g := &grammarBuilder{rules: map[string]string{}}
	expr, err := g.visit(node, "root")
	if err != nil {
		return "", err
	}
	if expr != "root" {
		g.define("root", expr)
	}
	return g.String(), nil
}

type grammarBuilder struct {
	rules map[string]string
	order []string
}

// define adds a rule and returns its name, suffixing it when the name is
// taken by a different body.
func (g *grammarBuilder) define(name, body string) string {
	base := name
	for i := 1; ; i++ {
		existing, ok := g.rules[name]
		if !ok {
			g.rules[name] = body
			g.order = append(g.order, name)
			return name
		}
		if existing == body {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func (g *grammarBuilder) primitive(name string) string {
	if _, ok := g.rules[name]; ok {
		return name
	}
	g.rules[name] = grammarPrimitives[name]
	g.order = append(g.order, name)
	for _, dep := range primitiveDeps[name] {
		g.primitive(dep)
	}
	return name
}

func (g *grammarBuilder) visit(node any, name string) (string, error) {
	switch s := node.(type) {
	case bool:
		if !s {
			return "", fmt.Errorf("%s: schema false accepts nothing", name)
		}
		return g.primitive("value"), nil
	case map[string]any:
		return g.visitObject(s, name)
	default:
		return "", fmt.Errorf("%s: unexpected schema node %T", name, node)
	}
}

func (g *grammarBuilder) visitObject(s map[string]any, name string) (string, error) {
	for _, kw := range []string{"$ref", "allOf"} {
		if _, ok := s[kw]; ok {
			return "", fmt.Errorf("%s: %s is not supported", name, kw)
		}
	}
	if v, ok := s["const"]; ok {
		lit, err := jsonLiteral(v)
		if err != nil {
			return "", err
		}
		g.primitive("ws")
		return g.define(name, lit+" ws"), nil
	}
	if raw, ok := s["enum"]; ok {
		vals, _ := raw.([]any)
		if len(vals) == 0 {
			return "", fmt.Errorf("%s: enum must be a non-empty array", name)
		}
		alts := make([]string, 0, len(vals))
		for _, v := range vals {
			lit, err := jsonLiteral(v)
			if err != nil {
				return "", err
			}
			alts = append(alts, lit)
		}
		g.primitive("ws")
		return g.define(name, "( "+strings.Join(alts, " | ")+" ) ws"), nil
	}
	for _, kw := range []string{"anyOf", "oneOf"} {
		if raw, ok := s[kw]; ok {
			subs, _ := raw.([]any)
			return g.alternatives(subs, name)
		}
	}

	switch t := s["type"].(type) {
	case string:
		return g.visitType(s, t, name)
	case []any:
		subs := make([]any, 0, len(t))
		for _, one := range t {
			cp := make(map[string]any, len(s))
			for k, v := range s {
				cp[k] = v
			}
			cp["type"] = one
			subs = append(subs, cp)
		}
		return g.alternatives(subs, name)
	case nil:
		if _, ok := s["properties"]; ok {
			return g.visitType(s, "object", name)
		}
		if _, ok := s["items"]; ok {
			return g.visitType(s, "array", name)
		}
		return g.primitive("value"), nil
	default:
		return "", fmt.Errorf("%s: type must be a string or a list", name)
	}
}

func (g *grammarBuilder) alternatives(subs []any, name string) (string, error) {
	if len(subs) == 0 {
		return "", fmt.Errorf("%s: empty alternative list", name)
	}
	alts := make([]string, 0, len(subs))
	for i, sub := range subs {
		expr, err := g.visit(sub, fmt.Sprintf("%s-%d", name, i))
		if err != nil {
			return "", err
		}
		alts = append(alts, expr)
	}
	return g.define(name, strings.Join(alts, " | ")), nil
}

func (g *grammarBuilder) visitType(s map[string]any, typ, name string) (string, error) {
	switch typ {
	case "string", "number", "integer", "boolean", "null":
		return g.primitive(typ), nil
	case "array":
		items, ok := s["items"]
		if !ok {
			return g.primitive("array"), nil
		}
		item, err := g.visit(items, name+"-item")
		if err != nil {
			return "", err
		}
		g.primitive("ws")
		if n, _ := s["minItems"].(float64); n >= 1 {
			return g.define(name, `"[" ws `+item+` ( "," ws `+item+` )* "]" ws`), nil
		}
		return g.define(name, `"[" ws ( `+item+` ( "," ws `+item+` )* )? "]" ws`), nil
	case "object":
		return g.visitProperties(s, name)
	default:
		return "", fmt.Errorf("%s: unknown type %q", name, typ)
	}
}

func (g *grammarBuilder) visitProperties(s map[string]any, name string) (string, error) {
	props, _ := s["properties"].(map[string]any)
	if len(props) == 0 {
		return g.primitive("object"), nil
	}
	required := map[string]bool{}
	if list, ok := s["required"].([]any); ok {
		for _, r := range list {
			if k, ok := r.(string); ok {
				required[k] = true
			}
		}
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	g.primitive("ws")
	var req, opt []string
	for _, k := range keys {
		val, err := g.visit(props[k], name+"-"+ruleName(k))
		if err != nil {
			return "", err
		}
		key, _ := json.Marshal(k)
		kv := gbnfQuote(string(key)) + ` ws ":" ws ` + val
		if required[k] {
			req = append(req, kv)
		} else {
			opt = append(opt, kv)
		}
	}
	var b strings.Builder
	b.WriteString(`"{" ws `)
	optRule := ""
	if len(opt) > 0 {
		optRule = g.define(name+"-opt", strings.Join(opt, " | "))
	}
	switch {
	case len(req) > 0:
		b.WriteString(strings.Join(req, ` "," ws `))
		if optRule != "" {
			b.WriteString(` ( "," ws ` + optRule + ` )*`)
		}
	case optRule != "":
		b.WriteString(`( ` + optRule + ` ( "," ws ` + optRule + ` )* )?`)
	}
	b.WriteString(` "}" ws`)
	return g.define(name, b.String()), nil
}

// String renders the grammar with the root rule first.
func (g *grammarBuilder) String() string {
	var b strings.Builder
	b.WriteString("root ::= " + g.rules["root"] + "\n")
	for _, name := range g.order {
		if name == "root" {
			continue
		}
		b.WriteString(name + " ::= " + g.rules[name] + "\n")
	}
	return b.String()
}

func jsonLiteral(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode literal: %w", err)
	}
	return gbnfQuote(string(b)), nil
}

func gbnfQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}

// ruleName keeps rule identifiers within [a-zA-Z0-9-].
func ruleName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "prop"
	}
	return b.String()
}
