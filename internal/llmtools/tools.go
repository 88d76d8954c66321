package llmtools

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ToolSpec is one function exposed to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	JSONSchema  json.RawMessage `json:"json_schema"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// EncodeTools converts specs into the OpenAI tools array.
func EncodeTools(specs []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.JSONSchema,
			},
		})
	}
	return out
}

// ParseToolCalls returns the function calls of the first choice.
func ParseToolCalls(resp openai.ChatCompletionResponse) []ToolCall {
	if len(resp.Choices) == 0 {
		return nil
	}
	var out []ToolCall
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args)})
	}
	return out
}

var xmlFinalRe = regexp.MustCompile(`(?s)<final>(.*?)</final>`)

// FinalContent returns the assistant's closing text, preferring a
// <final>...</final> block when the model emits one.
func FinalContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	content := resp.Choices[0].Message.Content
	if m := xmlFinalRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// validateArgs checks value against the subset of JSON Schema the collector
// tools use: type, properties, required, additionalProperties=false.
func validateArgs(value any, schema json.RawMessage) error {
	var s map[string]any
	if err := json.Unmarshal(schema, &s); err != nil {
		return err
	}
	typ, _ := s["type"].(string)
	switch typ {
	case "", "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return errors.New("expected object")
		}
		if req, ok := s["required"].([]any); ok {
			for _, r := range req {
				name, _ := r.(string)
				if _, present := obj[name]; name != "" && !present {
					return errors.New("missing required field: " + name)
				}
			}
		}
		props, _ := s["properties"].(map[string]any)
		for k, v := range obj {
			if sub, ok := props[k]; ok {
				b, _ := json.Marshal(sub)
				if err := validateArgs(v, b); err != nil {
					return errors.New("property " + k + ": " + err.Error())
				}
				continue
			}
			if ap, ok := s["additionalProperties"].(bool); ok && !ap {
				return errors.New("additional property not allowed: " + k)
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			return errors.New("expected string")
		}
	case "integer":
		if f, ok := value.(float64); !ok || f != float64(int64(f)) {
			return errors.New("expected integer")
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return errors.New("expected boolean")
		}
	}
	return nil
}
