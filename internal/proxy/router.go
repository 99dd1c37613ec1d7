package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/pkg/apierr"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the core routes.
type ManagementRoutes struct {
	Prometheus RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to skip the management endpoints.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
//
// Anything outside the route table, wrong method included, gets the JSON 404.
// The router never redirects on trailing slashes or near-miss paths.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	g.srv = &fasthttp.Server{
		Handler:     g.buildHandler(mgmt),
		ReadTimeout: 60 * time.Second,
		// No WriteTimeout: an SSE relay stays open for as long as the
		// upstream keeps sending.
	}
	return g.srv.ListenAndServe(addr)
}

// Shutdown gracefully stops a server started by Start or StartWithRoutes.
func (g *Gateway) Shutdown() error {
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown()
}

// buildHandler assembles the route table and wraps it in the middleware chain.
func (g *Gateway) buildHandler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false
	r.NotFound = handleNotFound

	r.POST("/v1/chat/completions", g.handleChatCompletions)
	r.GET("/v1/models", g.handleModels)
	r.GET("/healthz", g.handleHealthz)
	r.GET("/metrics", g.handleMetrics)

	if mgmt != nil && mgmt.Prometheus != nil {
		r.GET("/metrics/prometheus", mgmt.Prometheus)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	g.dispatchChat(ctx)
}

// handleModels serves the model listing: proxied verbatim when an upstream is
// configured, otherwise the static echo entry.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	if g.backend != nil {
		g.proxyModels(ctx)
		return
	}
	writeJSON(ctx, modelList{
		Object: "list",
		Data: []modelEntry{
			{ID: echoModel, Object: "model", OwnedBy: "inference-gateway"},
		},
	})
}

func (g *Gateway) handleHealthz(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMetrics(ctx *fasthttp.RequestCtx) {
	if g.metrics == nil {
		writeJSON(ctx, metrics.Snapshot{})
		return
	}
	writeJSON(ctx, g.metrics.Snapshot())
}

func handleNotFound(ctx *fasthttp.RequestCtx) {
	apierr.WriteNotFound(ctx)
}

// Model listing documents served in echo mode.
type (
	modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	modelList struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
)

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
