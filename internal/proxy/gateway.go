// Package proxy is the core chat-completion dispatcher.
//
// The Gateway receives an incoming OpenAI-compatible request, validates it,
// and either answers it itself by echoing the last user message (echo mode)
// or forwards it verbatim to the configured upstream (proxy mode). Either way
// the response carries the resolved request id, counters are recorded exactly
// once, and one structured log line is emitted per request.
//
// Key design constraints:
//   - The echo/proxy branch is taken per request from injected immutable
//     state; nothing re-reads the environment after startup.
//   - Metrics recorder and async logger are optional and nil-safe.
//   - Exactly one upstream attempt per client request. Failures map onto a
//     small fixed error taxonomy instead of leaking transport details.
//   - Streaming responses are SSE pass-through; the upstream body is released
//     on every exit path.
package proxy

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/backend"
	"github.com/nulpointcorp/inference-gateway/internal/logger"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// Dispatch modes as they appear in logs and metric labels.
const (
	modeEcho          = "echo"
	modeBackend       = "backend"
	modeBackendStream = "backend-stream"
	modeRejected      = "rejected"
)

// GatewayOptions holds the injected dependencies of a Gateway. Everything
// except Backend is nil-safe; a nil Backend selects echo mode.
type GatewayOptions struct {
	// Logger is the structured logger used for request events.
	// Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// Backend is the upstream client. nil means every chat request is
	// answered locally in echo mode.
	Backend *backend.Client

	// Metrics is the request counter recorder. When nil, counters are
	// disabled and GET /metrics serves zeros.
	Metrics *metrics.Recorder

	// RequestLogger is the async per-request logger. Optional.
	RequestLogger *logger.Logger
}

// Gateway is the dispatcher — all dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	backend   *backend.Client
	log       *slog.Logger
	metrics   *metrics.Recorder
	reqLogger *logger.Logger

	// CORS allowed origins. Empty or ["*"] means allow all.
	corsOrigins []string

	srv *fasthttp.Server
}

// New creates a Gateway from its options.
func New(opts GatewayOptions) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Gateway{
		backend:   opts.Backend,
		log:       log,
		metrics:   opts.Metrics,
		reqLogger: opts.RequestLogger,
	}
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// dispatchChat is the core handler for POST /v1/chat/completions.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)
	path := string(ctx.Path())

	req, err := parseChatRequest(ctx.PostBody())
	if err != nil {
		code := apierr.CodeInvalidJSON
		if errors.Is(err, errInvalidMessages) {
			code = apierr.CodeInvalidMessages
		}
		g.log.WarnContext(ctx, "bad_request",
			slog.String("request_id", reqID),
			slog.String("code", code),
		)
		apierr.Write(ctx, fasthttp.StatusBadRequest, code)
		g.finish(reqID, modeRejected, path, fasthttp.StatusBadRequest,
			time.Since(start), 0, 0, false)
		return
	}

	if g.backend != nil {
		if req.Stream {
			g.proxyStream(ctx, reqID, start)
			return
		}
		g.proxyBuffered(ctx, reqID, start)
		return
	}

	g.echo(ctx, reqID, req, start)
}

// finish records the counters and the async request log entry for one
// dispatched chat request. Every dispatch path reaches it exactly once;
// streamed responses call it from the body stream writer after the stream
// drains, so it must not touch the RequestCtx.
func (g *Gateway) finish(
	reqID, mode, path string,
	status int,
	latency time.Duration,
	promptTokens, completionTokens int,
	stream bool,
) {
	if g.metrics != nil {
		g.metrics.Record(mode, status, latency, promptTokens, completionTokens)
	}
	if g.reqLogger != nil {
		g.reqLogger.Log(logger.RequestLog{
			RequestID:        reqID,
			Mode:             mode,
			Path:             path,
			Status:           uint16(status),
			PromptTokens:     uint32(promptTokens),
			CompletionTokens: uint32(completionTokens),
			LatencyMs:        uint32(latency.Milliseconds()),
			Stream:           stream,
			CreatedAt:        time.Now(),
		})
	}
}
