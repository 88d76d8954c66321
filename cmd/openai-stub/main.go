// Command openai-stub is a minimal OpenAI-compatible server for running the
// collector end to end without a real model. It answers the extraction
// prompt with one synthetic event per page and, for requests carrying
// tools, plays an agent that walks the listed sources.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	log.Info().Str("addr", addr).Str("model", model).Msg("openai-stub listening")
	if err := http.ListenAndServe(addr, newMux(model, time.Now)); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

func newMux(model string, now func() time.Time) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		switch {
		case len(req.Tools) > 0:
			msg = nextAgentStep(req.Messages)
		case isExtraction(req.Messages):
			msg.Content = extractionReply(req.Messages, now())
		default:
			http.Error(w, "unexpected system", http.StatusBadRequest)
			return
		}
		writeJSON(w, openai.ChatCompletionResponse{
			ID:      "stub-1",
			Object:  "chat.completion",
			Created: now().Unix(),
			Model:   model,
			Choices: []openai.ChatCompletionChoice{{Message: msg, FinishReason: openai.FinishReasonStop}},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func isExtraction(msgs []openai.ChatCompletionMessage) bool {
	if len(msgs) == 0 {
		return false
	}
	sys := msgs[0].Content
	return strings.Contains(sys, "Respond with strict JSON only") && strings.Contains(sys, "events")
}

var sourceLineRe = regexp.MustCompile(`(?m)^Source URL: (\S+)`)

// extractionReply returns one event two weeks ahead, attributed to the page
// host.
func extractionReply(msgs []openai.ChatCompletionMessage, now time.Time) string {
	host := "example.com"
	if m := sourceLineRe.FindStringSubmatch(msgs[len(msgs)-1].Content); m != nil {
		if u, err := url.Parse(m[1]); err == nil && u.Hostname() != "" {
			host = strings.TrimPrefix(u.Hostname(), "www.")
		}
	}
	start := now.UTC().AddDate(0, 0, 14).Format("2006-01-02") + "T19:00:00"
	b, _ := json.Marshal(map[string]any{
		"events": []map[string]string{{
			"title":       "Stub event at " + host,
			"description": "Synthetic event for end-to-end runs.",
			"category":    "annet",
			"startDate":   start,
			"source":      host,
		}},
	})
	return string(b)
}

var listedSourceRe = regexp.MustCompile(`(?m)^\d+\. (https?://\S+)`)

type envelope struct {
	OK   bool   `json:"ok"`
	Tool string `json:"tool"`
	Data struct {
		Text string `json:"text"`
	} `json:"data"`
}

// nextAgentStep replays the transcript to find which source and step the
// run is at, then returns the next tool call or the final answer.
func nextAgentStep(msgs []openai.ChatCompletionMessage) openai.ChatCompletionMessage {
	var urls []string
	for _, m := range msgs {
		if m.Role == openai.ChatMessageRoleUser {
			for _, sm := range listedSourceRe.FindAllStringSubmatch(m.Content, -1) {
				urls = append(urls, sm[1])
			}
		}
	}
	idx, step, pageText, calls := 0, 0, "", 0
	for _, m := range msgs {
		if m.Role != openai.ChatMessageRoleTool {
			continue
		}
		calls++
		var env envelope
		_ = json.Unmarshal([]byte(m.Content), &env)
		switch m.Name {
		case "fetch_page":
			if env.OK {
				step, pageText = 1, env.Data.Text
			} else {
				idx, step = idx+1, 0
			}
		case "extract_events":
			step = 2
		case "write_events":
			idx, step = idx+1, 0
		}
	}

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	if idx >= len(urls) {
		msg.Content = fmt.Sprintf("<final>Processed %d source(s).</final>", len(urls))
		return msg
	}
	var name string
	var args any
	switch step {
	case 0:
		name, args = "fetch_page", map[string]string{"url": urls[idx]}
	case 1:
		name, args = "extract_events", map[string]string{"pageText": pageText, "sourceUrl": urls[idx]}
	default:
		name, args = "write_events", map[string]string{}
	}
	b, _ := json.Marshal(args)
	msg.ToolCalls = []openai.ToolCall{{
		ID:       fmt.Sprintf("call-%d", calls+1),
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: name, Arguments: string(b)},
	}}
	return msg
}
