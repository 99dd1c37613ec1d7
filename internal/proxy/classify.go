package proxy

import (
	"encoding/json"
	"errors"
)

// Parse failures for inbound chat bodies. The two cases map onto distinct
// client-facing codes, so they are separate sentinels.
var (
	errInvalidJSON     = errors.New("body is not a JSON object")
	errInvalidMessages = errors.New("messages must be a non-empty array")
)

type (
	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// chatRequest is the validated view of an inbound body. Only the fields
	// the gateway acts on are decoded; in proxy mode the raw bytes are
	// forwarded untouched.
	chatRequest struct {
		Messages []chatMessage
		Stream   bool
	}
)

// parseChatRequest validates an inbound chat-completion body.
//
// The body must be a JSON object and messages must be a non-empty array of
// message objects. A missing, malformed or non-boolean stream field counts
// as false rather than rejecting the request.
func parseChatRequest(body []byte) (*chatRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errInvalidJSON
	}

	rawMsgs, ok := raw["messages"]
	if !ok {
		return nil, errInvalidMessages
	}
	var msgs []chatMessage
	if err := json.Unmarshal(rawMsgs, &msgs); err != nil || len(msgs) == 0 {
		return nil, errInvalidMessages
	}

	req := &chatRequest{Messages: msgs}
	if rawStream, ok := raw["stream"]; ok {
		_ = json.Unmarshal(rawStream, &req.Stream)
	}
	return req, nil
}

// lastUserPrompt returns the content of the most recent message with the
// user role, or "" when the conversation has none.
func (r *chatRequest) lastUserPrompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}
