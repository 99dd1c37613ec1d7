package proxy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	echoModel  = "echo"
	echoPrefix = "Echo: "
)

// Wire types for the responses the gateway builds itself. Proxied responses
// are relayed as raw bytes and never pass through these.
type (
	completionUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	completionMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	completionChoice struct {
		Index        int               `json:"index"`
		Message      completionMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	}

	completionResponse struct {
		ID      string             `json:"id"`
		Object  string             `json:"object"`
		Model   string             `json:"model"`
		Choices []completionChoice `json:"choices"`
		Usage   completionUsage    `json:"usage"`
	}

	chunkDelta struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chunkChoice struct {
		Index        int        `json:"index"`
		Delta        chunkDelta `json:"delta"`
		FinishReason string     `json:"finish_reason"`
	}

	completionChunk struct {
		ID      string        `json:"id"`
		Object  string        `json:"object"`
		Choices []chunkChoice `json:"choices"`
	}
)

// buildCompletion assembles a single-choice completion document.
func buildCompletion(id, model, content string, promptTokens, completionTokens int) completionResponse {
	return completionResponse{
		ID:     id,
		Object: "chat.completion",
		Model:  model,
		Choices: []completionChoice{
			{
				Index:        0,
				Message:      completionMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: completionUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// buildChunk assembles the single streamed chunk carrying the whole content.
func buildChunk(id, content string) completionChunk {
	return completionChunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Choices: []chunkChoice{
			{
				Index:        0,
				Delta:        chunkDelta{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
	}
}

// countTokens approximates token usage as the number of whitespace-separated
// fields. Both sides of the usage math use the same rule.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

// echo answers the request locally with "Echo: " + the last user message.
func (g *Gateway) echo(ctx *fasthttp.RequestCtx, reqID string, req *chatRequest, start time.Time) {
	prompt := req.lastUserPrompt()
	content := echoPrefix + prompt
	promptTokens := countTokens(prompt)
	completionTokens := countTokens(content)
	path := string(ctx.Path())

	if req.Stream {
		writeEchoStream(ctx, buildChunk(reqID, content), func() {
			g.finish(reqID, modeEcho, path, fasthttp.StatusOK,
				time.Since(start), promptTokens, completionTokens, true)
		})
		return
	}

	writeJSON(ctx, buildCompletion(reqID, echoModel, content, promptTokens, completionTokens))
	g.finish(reqID, modeEcho, path, fasthttp.StatusOK,
		time.Since(start), promptTokens, completionTokens, false)

	g.log.DebugContext(ctx, "echo_ok",
		slog.String("request_id", reqID),
		slog.Int("prompt_tokens", promptTokens),
		slog.Int("completion_tokens", completionTokens),
	)
}

// writeEchoStream emits an echo completion as a two-frame SSE stream: one
// data frame carrying the full content, then the [DONE] terminator.
func writeEchoStream(ctx *fasthttp.RequestCtx, chunk completionChunk, onComplete func()) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = recover() // client may disconnect mid-stream
		}()

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush() //nolint:errcheck

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck

		if onComplete != nil {
			onComplete()
		}
	})
}
