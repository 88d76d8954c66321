// Package oracle turns cleaned page text into candidate events with a chat
// model.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/eventcollector/internal/budget"
	"github.com/hyperifyio/eventcollector/internal/cache"
	"github.com/hyperifyio/eventcollector/internal/clock"
	"github.com/hyperifyio/eventcollector/internal/event"
	"github.com/hyperifyio/eventcollector/internal/extract"
	"github.com/hyperifyio/eventcollector/internal/llm"
)

const (
	DefaultModel           = "mistral-small-latest"
	DefaultTemperature     = 0.1
	DefaultMaxOutputTokens = 4096
)

// Oracle extracts events from page text. No events found is an empty slice,
// not an error.
type Oracle interface {
	Extract(ctx context.Context, pageText, sourceURL string) ([]event.Event, error)
}

// DefaultSystemPrompt asks for the {"events":[...]} contract.
const DefaultSystemPrompt = `You extract upcoming local events from Norwegian web pages for an events calendar covering Brønnøysund.

Respond with strict JSON only, no narration, in the form {"events": [...]}. Each event is an object with:
- "id": kebab-case slug <source-domain>-<title-slug>-<YYYY-MM-DD>
- "title": the event title as written on the page
- "description": one or two sentences in Norwegian
- "category": one of "kultur", "sport", "næringsliv", "kommunalt", "annet"
- "startDate": ISO 8601 datetime, e.g. 2026-03-07T19:00:00; date only if no time is given
- "endDate", "location", "url": optional, omit when unknown
- "source": domain name of the source, e.g. "bronnoy.kommune.no"
- "collectedAt": the current time given in the message

Rules:
- Only include events with a concrete date. Use the current time to resolve dates without a year.
- Do not invent events, times or places that are not on the page.
- If the page lists no events, respond with {"events": []}.`

// LLM is an Oracle backed by an OpenAI-compatible chat endpoint.
type LLM struct {
	Client llm.Client
	Model  string
	// Temperature zero means DefaultTemperature.
	Temperature float32
	// SystemPrompt empty means DefaultSystemPrompt.
	SystemPrompt string
	// MaxOutputTokens is reserved from the context window when sizing the
	// page text. Zero means DefaultMaxOutputTokens.
	MaxOutputTokens int
	Cache           *cache.LLMCache
	Clock           clock.Clock
}

type response struct {
	Events []event.Event `json:"events"`
}

// Extract prompts the model with the source URL, the current time and the
// page text, then normalises and validates every returned event. Invalid
// events are dropped with a warning. A response that is not the expected
// JSON is an error.
func (o *LLM) Extract(ctx context.Context, pageText, sourceURL string) ([]event.Event, error) {
	if o.Client == nil {
		return nil, errors.New("oracle not configured")
	}
	model := o.model()
	system := o.systemPrompt()
	now := clock.OrSystem(o.Clock).Now()
	pageText = o.fitPageText(model, system, pageText)
	user := UserPrompt(sourceURL, event.Timestamp(now), pageText)

	key := cache.KeyFrom(model, system, sourceURL, pageText)
	if o.Cache != nil {
		if raw, ok, _ := o.Cache.Get(ctx, key); ok {
			if events, err := o.parse(string(raw), sourceURL, now); err == nil {
				log.Debug().Str("stage", "oracle").Str("url", sourceURL).Msg("llm cache hit")
				return events, nil
			}
		}
	}

	temp := o.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:    temp,
		N:              1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("extraction call: no choices")
	}
	raw := llm.FirstContent(resp)
	events, err := o.parse(raw, sourceURL, now)
	if err != nil {
		return nil, err
	}
	if o.Cache != nil {
		_ = o.Cache.Save(ctx, key, []byte(stripFences(raw)))
	}
	log.Info().
		Str("stage", "oracle").
		Str("url", sourceURL).
		Str("model", model).
		Int("events", len(events)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Msg("events extracted")
	return events, nil
}

// UserPrompt is the user message sent for one page.
func UserPrompt(sourceURL, now, pageText string) string {
	return "Source URL: " + sourceURL + "\n\nCurrent time: " + now + "\n\n" + pageText
}

// parse accepts {"events":[...]} or a bare array, optionally inside a
// markdown code fence.
func (o *LLM) parse(raw, sourceURL string, now time.Time) ([]event.Event, error) {
	body := stripFences(raw)
	var candidates []event.Event
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &candidates); err != nil {
			return nil, fmt.Errorf("parse extraction json: %w", err)
		}
	} else {
		var r response
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("parse extraction json: %w", err)
		}
		candidates = r.Events
	}

	out := make([]event.Event, 0, len(candidates))
	for _, c := range candidates {
		e := event.Normalize(c, sourceURL, now)
		if err := e.Validate(); err != nil {
			log.Warn().Err(err).Str("stage", "oracle").Str("url", sourceURL).Msg("dropping invalid event")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// fitPageText shrinks pageText when the prompt would not leave room for the
// output reservation in the model's window.
func (o *LLM) fitPageText(model, system, pageText string) string {
	reserved := o.MaxOutputTokens
	if reserved <= 0 {
		reserved = DefaultMaxOutputTokens
	}
	// URL and timestamp framing is small; 64 tokens covers it
	avail := budget.RemainingContextWithHeadroom(model, reserved, budget.EstimateTokens(system)+64)
	if budget.EstimateTokens(pageText) <= avail {
		return pageText
	}
	limit := budget.CharsForTokens(avail)
	if limit <= 0 {
		return ""
	}
	log.Warn().Str("stage", "oracle").Str("model", model).Int("limit", limit).Msg("page text exceeds context, truncating")
	return extract.Truncate(pageText, limit)
}

func (o *LLM) model() string {
	if m := strings.TrimSpace(o.Model); m != "" {
		return m
	}
	return DefaultModel
}

func (o *LLM) systemPrompt() string {
	if strings.TrimSpace(o.SystemPrompt) != "" {
		return o.SystemPrompt
	}
	return DefaultSystemPrompt
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. "json"
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
