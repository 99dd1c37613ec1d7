package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/backend"
	"github.com/nulpointcorp/inference-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// proxyBuffered forwards a non-streaming chat request and relays the reply.
//
// The upstream body is decoded only to stamp the gateway request id into it
// and lift out the usage counters; everything else, status code included, is
// passed through as-is.
func (g *Gateway) proxyBuffered(ctx *fasthttp.RequestCtx, reqID string, start time.Time) {
	path := string(ctx.Path())

	res, err := g.backend.Complete(ctx, ctx.PostBody())
	if err != nil {
		status := g.failBackend(ctx, reqID, err)
		g.finish(reqID, modeBackend, path, status, time.Since(start), 0, 0, false)
		return
	}

	if res.StatusCode >= 500 {
		g.log.ErrorContext(ctx, "backend_status",
			slog.String("request_id", reqID),
			slog.Int("status", res.StatusCode),
		)
		apierr.Write(ctx, fasthttp.StatusBadGateway, apierr.CodeBackendError)
		g.finish(reqID, modeBackend, path, fasthttp.StatusBadGateway,
			time.Since(start), 0, 0, false)
		return
	}

	var data map[string]any
	if err := json.Unmarshal(res.Body, &data); err != nil || data == nil {
		g.log.ErrorContext(ctx, "backend_invalid_response",
			slog.String("request_id", reqID),
			slog.Int("status", res.StatusCode),
		)
		apierr.Write(ctx, fasthttp.StatusBadGateway, apierr.CodeBackendInvalidResponse)
		g.finish(reqID, modeBackend, path, fasthttp.StatusBadGateway,
			time.Since(start), 0, 0, false)
		return
	}

	data["id"] = reqID
	promptTokens, completionTokens := usageTokens(data)

	body, _ := json.Marshal(data)
	ctx.SetStatusCode(res.StatusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)

	g.finish(reqID, modeBackend, path, res.StatusCode,
		time.Since(start), promptTokens, completionTokens, false)

	g.log.DebugContext(ctx, "relay_ok",
		slog.String("request_id", reqID),
		slog.Int("status", res.StatusCode),
	)
}

// proxyStream forwards a streaming chat request and relays the upstream SSE
// body without reframing it. An upstream 5xx seen before any bytes are
// relayed still becomes a buffered JSON error; once relaying starts the 200
// is already on the wire, so a mid-stream failure can only end the stream.
func (g *Gateway) proxyStream(ctx *fasthttp.RequestCtx, reqID string, start time.Time) {
	path := string(ctx.Path())

	st, err := g.backend.OpenStream(ctx, ctx.PostBody())
	if err != nil {
		status := g.failBackend(ctx, reqID, err)
		g.finish(reqID, modeBackendStream, path, status, time.Since(start), 0, 0, true)
		return
	}

	if st.StatusCode >= 500 {
		st.Body.Close()
		g.log.ErrorContext(ctx, "backend_status",
			slog.String("request_id", reqID),
			slog.Int("status", st.StatusCode),
			slog.Bool("stream", true),
		)
		apierr.Write(ctx, fasthttp.StatusBadGateway, apierr.CodeBackendError)
		g.finish(reqID, modeBackendStream, path, fasthttp.StatusBadGateway,
			time.Since(start), 0, 0, true)
		return
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	// The stream writer runs after the handler returns, so it must not
	// touch ctx; everything it needs is captured here.
	log := g.log
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = recover() // client may disconnect mid-stream
		}()
		defer st.Body.Close()

		if err := relayLines(st.Body, w); err != nil {
			log.Error("relay_interrupted",
				slog.String("request_id", reqID),
				slog.String("error", err.Error()),
			)
		}

		// The client already got the 200 before relaying began; that is
		// what the counters see even when the upstream dies mid-stream.
		g.finish(reqID, modeBackendStream, path, fasthttp.StatusOK,
			time.Since(start), 0, 0, true)
	})
}

// relayLines copies r to w line by line, writing each line with a single
// trailing newline and flushing as it goes, then terminates the SSE framing
// with one blank line. CRLF endings are normalized to LF. A client write
// failure stops the relay silently; an upstream read failure is returned.
func relayLines(r io.Reader, w *bufio.Writer) error {
	br := bufio.NewReader(r)
	var readErr error
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if _, werr := w.WriteString(strings.TrimRight(line, "\r\n") + "\n"); werr != nil {
				return nil
			}
			if werr := w.Flush(); werr != nil {
				return nil
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	w.WriteString("\n") //nolint:errcheck
	w.Flush()           //nolint:errcheck
	return readErr
}

// proxyModels relays GET /v1/models to the upstream, status and body
// verbatim. Model listings do not feed the request counters.
func (g *Gateway) proxyModels(ctx *fasthttp.RequestCtx) {
	reqID, _ := ctx.UserValue("request_id").(string)

	res, err := g.backend.Models(ctx)
	if err != nil {
		g.failBackend(ctx, reqID, err)
		return
	}

	ctx.SetStatusCode(res.StatusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(res.Body)
}

// failBackend writes the client-facing translation of a failed upstream call
// and returns the status it chose:
//
//	timeout (tagged or context deadline) -> 504 gateway_timeout
//	anything else                        -> 502 backend_unavailable
func (g *Gateway) failBackend(ctx *fasthttp.RequestCtx, reqID string, err error) int {
	g.log.ErrorContext(ctx, "backend_unreachable",
		slog.String("request_id", reqID),
		slog.String("error", err.Error()),
	)

	if backend.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return fasthttp.StatusGatewayTimeout
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, apierr.CodeBackendUnavailable)
	return fasthttp.StatusBadGateway
}

// usageTokens lifts prompt/completion token counts out of a decoded upstream
// body, defaulting to zero when the usage block is missing or malformed.
func usageTokens(data map[string]any) (prompt, completion int) {
	usage, ok := data["usage"].(map[string]any)
	if !ok {
		return 0, 0
	}
	return intField(usage, "prompt_tokens"), intField(usage, "completion_tokens")
}

func intField(m map[string]any, key string) int {
	f, ok := m[key].(float64)
	if !ok {
		return 0
	}
	return int(f)
}
