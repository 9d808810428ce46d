// Package protocol implements the frames of the legacy graphql-ws
// subscription protocol.
// See: https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Subprotocol is the websocket subprotocol identifier negotiated for graphql-ws.
const Subprotocol = "graphql-ws"

type MessageType string

const (
	TypeConnectionInit  MessageType = "connection_init"
	TypeConnectionAck   MessageType = "connection_ack"
	TypeConnectionError MessageType = "connection_error"
	TypeKeepAlive       MessageType = "ka"
	TypeStart           MessageType = "start"
	TypeData            MessageType = "data"
	TypeError           MessageType = "error"
	TypeComplete        MessageType = "complete"
	TypeStop            MessageType = "stop"
)

var ErrInvalidMessage = errors.New("invalid message")

var nullPayload = json.RawMessage("null")

// Message is a single graphql-ws frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the payload of a start frame.
type StartPayload struct {
	Query     string          `json:"query"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

func ConnectionInit(payload json.RawMessage) Message {
	return Message{Type: TypeConnectionInit, Payload: payload}
}

func Start(id string, payload StartPayload) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal start payload: %w", err)
	}
	return Message{ID: id, Type: TypeStart, Payload: raw}, nil
}

func Stop(id string) Message {
	return Message{ID: id, Type: TypeStop}
}

func Encode(message Message) ([]byte, error) {
	return json.Marshal(message)
}

func Decode(data []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return Message{}, fmt.Errorf("%w: %q must be JSON parsable: %w", ErrInvalidMessage, data, err)
	}
	return message, nil
}

// Data returns the data field of a data frame payload. A missing field
// yields JSON null so that it cannot be mistaken for the end of a stream.
func Data(payload json.RawMessage) json.RawMessage {
	data := gjson.GetBytes(payload, "data")
	if !data.Exists() {
		return nullPayload
	}
	return json.RawMessage(data.Raw)
}

// Errors wraps the payload of an error frame into a GraphQL response.
func Errors(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		payload = json.RawMessage(`[{"message":"subscription error"}]`)
	}
	out, err := sjson.SetRawBytes(nil, "errors", payload)
	if err != nil {
		return nullPayload
	}
	return out
}
