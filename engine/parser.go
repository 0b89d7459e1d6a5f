package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/model"
)

// ToolCallParser decides whether a model turn requests a tool.
type ToolCallParser interface {
	ParseToolCall(resp *model.Response) (*core.ToolCall, bool)
}

// ParserFunc adapts a function to ToolCallParser.
type ParserFunc func(resp *model.Response) (*core.ToolCall, bool)

// ParseToolCall implements ToolCallParser.
func (f ParserFunc) ParseToolCall(resp *model.Response) (*core.ToolCall, bool) { return f(resp) }

// JSONObjectParser finds the first balanced JSON object in the response text
// that carries both a "tool" string and a "params" object. Text before the
// object becomes the call's reasoning.
//
// The match is lenient: prose that happens to contain such an object is
// treated as a tool request.
type JSONObjectParser struct{}

// ParseToolCall implements ToolCallParser.
func (JSONObjectParser) ParseToolCall(resp *model.Response) (*core.ToolCall, bool) {
	if resp == nil {
		return nil, false
	}
	text := resp.Text
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			if call, ok := decodeToolCall(text[start : end+1]); ok {
				call.Reasoning = strings.TrimSpace(text[:start])
				return call, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the object opened at
// start, or -1. Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeToolCall(raw string) (*core.ToolCall, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	rawTool, okTool := obj["tool"]
	rawParams, okParams := obj["params"]
	if !okTool || !okParams {
		return nil, false
	}
	var name string
	if err := json.Unmarshal(rawTool, &name); err != nil || name == "" {
		return nil, false
	}
	var params map[string]any
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, false
	}
	if params == nil {
		params = map[string]any{}
	}
	return &core.ToolCall{Name: name, Params: params}, true
}

// NativeParser accepts only tool calls the gateway returned as typed fields.
type NativeParser struct{}

// ParseToolCall implements ToolCallParser.
func (NativeParser) ParseToolCall(resp *model.Response) (*core.ToolCall, bool) {
	if resp == nil || resp.ToolCall == nil || resp.ToolCall.Name == "" {
		return nil, false
	}
	call := *resp.ToolCall
	if call.Params == nil {
		call.Params = map[string]any{}
	}
	if call.Reasoning == "" {
		call.Reasoning = strings.TrimSpace(resp.Text)
	}
	return &call, true
}

// ChainParser returns the first match of its parsers.
type ChainParser []ToolCallParser

// ParseToolCall implements ToolCallParser.
func (c ChainParser) ParseToolCall(resp *model.Response) (*core.ToolCall, bool) {
	for _, p := range c {
		if call, ok := p.ParseToolCall(resp); ok {
			return call, true
		}
	}
	return nil, false
}

// ParserByName maps a configuration value to a parser: "json", "native" or
// "chain" (native first, then json).
func ParserByName(name string) (ToolCallParser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONObjectParser{}, nil
	case "native":
		return NativeParser{}, nil
	case "chain":
		return ChainParser{NativeParser{}, JSONObjectParser{}}, nil
	}
	return nil, fmt.Errorf("unknown tool call parser %q", name)
}
