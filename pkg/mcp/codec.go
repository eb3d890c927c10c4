package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// DecodeMessage deserializes JSON-RPC wire format data.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the
// message content. This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message with
// the current timestamp.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// Reply is a JSON-RPC 2.0 response frame assembled by hand. Responses are
// built from raw parts rather than the SDK types so the original request
// ID round-trips byte for byte.
type Reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ReplyError     `json:"error,omitempty"`
}

// ReplyError is the error member of a JSON-RPC response.
type ReplyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResult builds a success response echoing the given raw ID.
func NewResult(id json.RawMessage, result any) *Reply {
	return &Reply{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

// NewError builds an error response echoing the given raw ID.
func NewError(id json.RawMessage, code int, message string) *Reply {
	return &Reply{JSONRPC: "2.0", ID: normalizeID(id), Error: &ReplyError{Code: code, Message: message}}
}

// Encode serializes the reply to its wire format.
func (r *Reply) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// normalizeID maps an absent ID to explicit null so the id member is
// always emitted, as required for responses.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
