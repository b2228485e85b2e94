package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/datalookup/internal/extract"
	"github.com/nugget/datalookup/internal/llm"
	"github.com/nugget/datalookup/internal/tools"
)

// step is what one model reply asks the loop to do. Exactly one of
// invocation, final or toolErr is set.
type step struct {
	thought    string
	invocation *tools.Invocation
	final      string
	hasFinal   bool
	// toolErr is set when the reply named a tool but the call could not
	// be built, e.g. an unknown tool name.
	toolErr error
	// echo is the assistant message recorded in the transcript.
	echo string
}

var finalAnswerLine = regexp.MustCompile(`(?is)(?:^|\n)\s*\**final answer\**\s*:\s*(.+)$`)

// parseStep interprets a cleaned completion. Sources are tried in order:
// native tool call, JSON object, "Final Answer:" line, bare SQL. When
// plainFinal is set, prose with none of these is the final answer.
func parseStep(comp *llm.Completion, plainFinal bool) (step, error) {
	if len(comp.ToolCalls) > 0 {
		call := comp.ToolCalls[0]
		st := step{echo: renderAction(call.Function.Name, call.Function.Arguments)}
		inv, err := tools.ParseInvocation(call.Function.Name, call.Function.Arguments)
		if err != nil {
			st.toolErr = err
			return st, nil
		}
		st.invocation = &inv
		return st, nil
	}

	content := strings.TrimSpace(comp.Content)
	if content == "" {
		return step{}, fmt.Errorf("%w: reply was empty", ErrParseFailure)
	}

	if raw, err := extract.Structured(content, extract.KindJSON); err == nil {
		if st, ok := parseJSONStep(raw); ok {
			st.echo = content
			return st, nil
		}
	}

	if m := finalAnswerLine.FindStringSubmatch(content); m != nil {
		answer := strings.TrimSpace(m[1])
		if answer != "" {
			thought := strings.TrimSpace(content[:strings.Index(content, m[0])])
			return step{thought: thought, final: answer, hasFinal: true, echo: content}, nil
		}
	}

	if sql, err := extract.Structured(content, extract.KindSQL); err == nil {
		inv := tools.Invocation{Kind: tools.KindRunQuery, SQL: sql}
		return step{invocation: &inv, echo: content}, nil
	}

	if plainFinal {
		return step{final: content, hasFinal: true, echo: content}, nil
	}
	return step{echo: content}, fmt.Errorf("%w: no JSON object with an action or final_answer was found", ErrParseFailure)
}

// parseJSONStep reads the {thought, action, action_input} and
// {thought, final_answer} shapes, plus {name, arguments} as emitted
// inside <tool_call> tags. ok is false for objects of any other shape.
func parseJSONStep(raw string) (step, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return step{}, false
	}
	thought, _ := obj["thought"].(string)
	st := step{thought: strings.TrimSpace(thought)}

	if final, ok := obj["final_answer"]; ok {
		st.final = strings.TrimSpace(stringify(final))
		st.hasFinal = true
		return st, true
	}

	action := firstString(obj, "action", "name", "tool")
	if action == "" {
		return step{}, false
	}
	input := firstValue(obj, "action_input", "arguments", "input", "args")
	inv, err := tools.ParseInvocation(action, input)
	if err != nil {
		st.toolErr = err
		return st, true
	}
	st.invocation = &inv
	return st, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstValue(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			// Some models double-encode the input as a JSON string.
			if s, isString := v.(string); isString && strings.HasPrefix(strings.TrimSpace(s), "{") {
				var nested map[string]any
				if json.Unmarshal([]byte(s), &nested) == nil {
					return nested
				}
			}
			return v
		}
	}
	return nil
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// renderAction writes a native tool call in the JSON protocol shape so
// the transcript reads the same for both modes.
func renderAction(name string, args map[string]any) string {
	b, err := json.Marshal(map[string]any{"action": name, "action_input": args})
	if err != nil {
		return name
	}
	return string(b)
}
