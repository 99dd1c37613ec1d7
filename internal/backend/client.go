// Package backend implements the outbound HTTP client for the configured
// OpenAI-compatible upstream.
//
// The gateway forwards request bodies byte-for-byte and relays replies
// byte-for-byte, so this package deliberately uses net/http directly instead
// of a provider SDK: an SDK's request/response types would re-frame payloads
// the gateway has promised not to touch. Failures are reported as *Error
// values tagged with a Kind from a closed set.
package backend

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout       = 60 * time.Second
	DefaultModelsTimeout = 10 * time.Second

	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"
)

// Client talks to a single upstream base URL. Use New; the zero value has no
// transports configured.
type Client struct {
	baseURL string

	// chat bounds the whole buffered call including the body read. stream
	// bounds only dialing and waiting for response headers, so an open SSE
	// relay can outlive the budget. models is the short listing budget.
	chat   *http.Client
	stream *http.Client
	models *http.Client
}

// Options tunes the per-call budgets. Zero fields fall back to the defaults.
type Options struct {
	Timeout       time.Duration
	ModelsTimeout time.Duration
}

// New builds a Client for the given base URL. Trailing slashes on the base
// URL are ignored.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ModelsTimeout <= 0 {
		opts.ModelsTimeout = DefaultModelsTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		chat:    &http.Client{Timeout: opts.Timeout},
		stream: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: opts.Timeout}).DialContext,
				TLSHandshakeTimeout:   opts.Timeout,
				ResponseHeaderTimeout: opts.Timeout,
			},
		},
		models: &http.Client{Timeout: opts.ModelsTimeout},
	}
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Response is a fully buffered upstream reply. Any HTTP status is a valid
// Response; only transport failures become errors.
type Response struct {
	StatusCode int
	Body       []byte
}

// Stream is an upstream reply whose body has not been consumed. The caller
// owns Body and must close it on every path.
type Stream struct {
	StatusCode int
	Body       io.ReadCloser
}

// Complete POSTs a chat-completion body to the upstream and buffers the reply.
func (c *Client) Complete(ctx context.Context, body []byte) (*Response, error) {
	req, err := c.newJSONRequest(ctx, c.baseURL+completionsPath, body)
	if err != nil {
		return nil, classify("complete", err)
	}

	resp, err := c.chat.Do(req)
	if err != nil {
		return nil, classify("complete", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify("complete", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// OpenStream POSTs a chat-completion body and returns the reply with its body
// unconsumed, for line-level relaying.
func (c *Client) OpenStream(ctx context.Context, body []byte) (*Stream, error) {
	req, err := c.newJSONRequest(ctx, c.baseURL+completionsPath, body)
	if err != nil {
		return nil, classify("stream", err)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, classify("stream", err)
	}

	return &Stream{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// Models GETs the upstream model listing and buffers the reply.
func (c *Client) Models(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return nil, classify("models", err)
	}

	resp, err := c.models.Do(req)
	if err != nil {
		return nil, classify("models", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify("models", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (c *Client) newJSONRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
