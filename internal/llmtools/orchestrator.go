// Package llmtools runs a tool-calling chat loop in which the model drives
// collection: it fetches pages, extracts events and writes them through
// registered tools.
package llmtools

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/eventcollector/internal/budget"
	"github.com/hyperifyio/eventcollector/internal/fetch"
)

const (
	DefaultMaxToolCalls   = 32
	DefaultPerToolTimeout = 2 * time.Minute
	// latest tool results kept verbatim; older ones are compressed
	keepToolResults = 2
)

// Error codes placed in failed tool envelopes.
const (
	CodeArgs        = "E_ARGS"
	CodeFetch       = "E_FETCH"
	CodeTimeout     = "E_TIMEOUT"
	CodeUnknownTool = "E_UNKNOWN_TOOL"
	CodeTool        = "E_TOOL"
)

var ErrMaxToolCalls = errors.New("max tool calls exceeded")

// ChatClient is the chat call the loop needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Orchestrator sends the registry's tools with each request, executes the
// calls the model returns and feeds results back as tool messages until the
// model answers without calls.
type Orchestrator struct {
	Client   ChatClient
	Registry *Registry
	// MaxToolCalls bounds the calls executed in one Run. Zero means 32.
	MaxToolCalls int
	// MaxWallClock bounds the whole Run. Zero means only ctx applies.
	MaxWallClock time.Duration
	// PerToolTimeout bounds each handler. Zero means 2 minutes, enough for
	// a fetch with retries and a browser render.
	PerToolTimeout time.Duration
}

// envelope is the JSON content of every tool message.
type envelope struct {
	OK    bool           `json:"ok"`
	Tool  string         `json:"tool"`
	Data  any            `json:"data,omitempty"`
	Error *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run seeds the conversation with system and user and loops. It returns the
// model's final text and the transcript.
func (o *Orchestrator) Run(ctx context.Context, baseReq openai.ChatCompletionRequest, system, user string) (string, []openai.ChatCompletionMessage, error) {
	if o.Client == nil || o.Registry == nil {
		return "", nil, errors.New("orchestrator not configured")
	}
	if o.MaxWallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.MaxWallClock)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessage
	if system != "" {
		if afford := promptAffordances(o.Registry); afford != "" {
			system += "\n\n" + afford
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	tools := EncodeTools(o.Registry.Specs())
	maxCalls := o.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = DefaultMaxToolCalls
	}
	used := 0
	for {
		req := baseReq
		req.Messages = budgetMessages(messages, baseReq)
		req.Tools = tools
		resp, err := o.Client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", messages, fmt.Errorf("chat call: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", messages, errors.New("chat call: no choices")
		}
		messages = append(messages, resp.Choices[0].Message)

		calls := ParseToolCalls(resp)
		if len(calls) == 0 {
			return FinalContent(resp), messages, nil
		}
		if used+len(calls) > maxCalls {
			return "", messages, fmt.Errorf("%w: used=%d pending=%d max=%d", ErrMaxToolCalls, used, len(calls), maxCalls)
		}
		for _, call := range calls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    o.execute(ctx, call),
			})
			used++
		}
		messages = compressOlderToolMessages(messages, keepToolResults)
	}
}

// execute runs one call and returns the JSON envelope for the transcript.
func (o *Orchestrator) execute(ctx context.Context, call ToolCall) string {
	started := time.Now()
	env := envelope{Tool: call.Name}
	def, ok := o.Registry.Get(call.Name)
	var argVal any
	switch {
	case !ok:
		env.Error = &envelopeError{Code: CodeUnknownTool, Message: "unknown tool"}
	case json.Unmarshal(call.Arguments, &argVal) != nil:
		env.Error = &envelopeError{Code: CodeArgs, Message: "invalid args: not JSON"}
	default:
		if err := validateArgs(argVal, def.JSONSchema); err != nil {
			env.Error = &envelopeError{Code: CodeArgs, Message: "invalid args: " + err.Error()}
			break
		}
		per := o.PerToolTimeout
		if per <= 0 {
			per = DefaultPerToolTimeout
		}
		toolCtx, cancel := context.WithTimeout(ctx, per)
		raw, err := def.Handler(toolCtx, call.Arguments)
		cancel()
		if err != nil {
			env.Error = &envelopeError{Code: classifyToolError(err), Message: err.Error()}
			break
		}
		var data any
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &data)
		}
		env.OK, env.Data = true, data
	}
	b, _ := json.Marshal(env)

	sum := sha256.Sum256(call.Arguments)
	log.Info().
		Str("stage", "tool").
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Str("args_hash", fmt.Sprintf("%x", sum[:8])).
		Bool("ok", env.OK).
		Int("result_bytes", len(b)).
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Msg("tool call")
	return string(b)
}

// classifyToolError maps handler errors to stable codes so the model can
// follow the skip rule for fetch failures.
func classifyToolError(err error) string {
	msg := err.Error()
	switch {
	case fetch.IsFetchError(msg):
		return CodeFetch
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case strings.Contains(msg, "invalid args"), strings.Contains(msg, "missing "):
		return CodeArgs
	default:
		return CodeTool
	}
}

func promptAffordances(r *Registry) string {
	names := r.Names()
	if len(names) == 0 {
		return ""
	}
	lines := []string{"Tools available:"}
	for _, name := range names {
		def, _ := r.Get(name)
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", def.StableName, def.SemVer, def.Description))
	}
	lines = append(lines,
		"Call tools via tool_calls with minimal valid JSON args.",
		`Results are {"ok":true,"data":...} or {"ok":false,"error":{"code","message"}}. Codes: E_FETCH (page could not be fetched, skip the source), E_ARGS, E_TIMEOUT, E_TOOL.`)
	return strings.Join(lines, "\n")
}

// budgetMessages drops the oldest non-system turns until the transcript fits
// the model's window with output reservation and headroom.
func budgetMessages(messages []openai.ChatCompletionMessage, baseReq openai.ChatCompletionRequest) []openai.ChatCompletionMessage {
	out := append([]openai.ChatCompletionMessage(nil), messages...)
	reserved := baseReq.MaxTokens
	if reserved <= 0 {
		reserved = 1024
	}
	limit := budget.RemainingContextWithHeadroom(baseReq.Model, reserved, 0)
	total := func() int {
		n := 0
		for _, m := range out {
			n += budget.EstimateTokens(m.Content)
		}
		return n
	}
	for len(out) > 2 && total() > limit {
		if out[0].Role == openai.ChatMessageRoleSystem {
			out = append(out[:1], out[2:]...)
		} else {
			out = out[1:]
		}
	}
	return out
}

// compressOlderToolMessages shortens all but the last keep tool results.
// Page text is only needed by the next extract_events call.
func compressOlderToolMessages(messages []openai.ChatCompletionMessage, keep int) []openai.ChatCompletionMessage {
	var idx []int
	for i, m := range messages {
		if m.Role == openai.ChatMessageRoleTool {
			idx = append(idx, i)
		}
	}
	if len(idx) <= keep {
		return messages
	}
	out := append([]openai.ChatCompletionMessage(nil), messages...)
	for _, i := range idx[:len(idx)-keep] {
		out[i].Content = compressToolContent(out[i].Content)
	}
	return out
}

const compressMaxString = 256

func compressToolContent(content string) string {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return shorten(content)
	}
	if m, ok := compressNode(v).(map[string]any); ok {
		m["compressed"] = true
		v = m
	} else {
		v = compressNode(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return shorten(content)
	}
	return string(b)
}

func compressNode(v any) any {
	switch t := v.(type) {
	case string:
		return shorten(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = compressNode(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = compressNode(vv)
		}
		return out
	default:
		return v
	}
}

func shorten(s string) string {
	r := []rune(s)
	if len(r) <= compressMaxString {
		return s
	}
	return string(r[:200]) + fmt.Sprintf("… (%d chars, truncated)", len(r))
}
