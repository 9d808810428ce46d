package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("connection_init", func(t *testing.T) {
		data, err := Encode(ConnectionInit(nil))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"connection_init"}`, string(data))
	})

	t.Run("start", func(t *testing.T) {
		message, err := Start("1", StartPayload{
			Query:     "subscription { updated }",
			Variables: json.RawMessage(`{"id":1}`),
		})
		require.NoError(t, err)
		data, err := Encode(message)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"1","type":"start","payload":{"query":"subscription { updated }","variables":{"id":1}}}`, string(data))
	})

	t.Run("stop", func(t *testing.T) {
		data, err := Encode(Stop("1"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"1","type":"stop"}`, string(data))
	})
}

func TestDecode(t *testing.T) {
	t.Run("data", func(t *testing.T) {
		message, err := Decode([]byte(`{"id":"1","type":"data","payload":{"data":{"updated":true}}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", message.ID)
		assert.Equal(t, TypeData, message.Type)
		assert.JSONEq(t, `{"updated":true}`, string(Data(message.Payload)))
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Decode([]byte(`{"id":`))
		assert.ErrorIs(t, err, ErrInvalidMessage)
	})
}

func TestData(t *testing.T) {
	assert.Equal(t, "null", string(Data(json.RawMessage(`{"errors":[]}`))))
	assert.Equal(t, "null", string(Data(json.RawMessage(`{"data":null}`))))
}

func TestErrors(t *testing.T) {
	assert.JSONEq(t, `{"errors":[{"message":"boom"}]}`, string(Errors(json.RawMessage(`[{"message":"boom"}]`))))
	assert.JSONEq(t, `{"errors":[{"message":"subscription error"}]}`, string(Errors(nil)))
}
