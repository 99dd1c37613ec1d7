// Package apierr defines the gateway's client-facing error codes and the
// flat JSON body they are written with.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Code constants. These are the only error identifiers clients ever see.
const (
	CodeInvalidJSON            = "invalid_json"
	CodeInvalidMessages        = "invalid_messages"
	CodeBackendError           = "backend_error"
	CodeBackendInvalidResponse = "backend_invalid_response"
	CodeBackendUnavailable     = "backend_unavailable"
	CodeGatewayTimeout         = "gateway_timeout"
	CodeNotFound               = "not_found"
	CodeInternalError          = "internal_error"
)

// envelope is the wire shape of every error response: {"error":"<code>"}.
type envelope struct {
	Error string `json:"error"`
}

// Write writes the error code as JSON to the fasthttp response with the given
// HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: code})
	ctx.SetBody(body)
}

// WriteTimeout writes a 504 for an upstream call that ran out of time.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, CodeGatewayTimeout)
}

// WriteNotFound writes the 404 body used for every unmatched route.
func WriteNotFound(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusNotFound, CodeNotFound)
}
