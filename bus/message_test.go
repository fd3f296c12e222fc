package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/corebus/bus"
)

func TestRpcMessageRoundTrip(t *testing.T) {
	msg := bus.NewRpcMessage("example.test", "my_method", map[string]any{"f": float64(123)}, "")
	msg.ReturnPath = "reply.example.test"

	decoded, err := bus.RpcMessageFromDict(msg.ToDict())
	require.NoError(t, err)

	assert.Equal(t, msg.RpcID, decoded.RpcID)
	assert.Equal(t, msg.ApiName, decoded.ApiName)
	assert.Equal(t, msg.ProcedureName, decoded.ProcedureName)
	assert.Equal(t, msg.ReturnPath, decoded.ReturnPath)
	assert.Equal(t, msg.Kwargs, decoded.Kwargs)
	assert.Equal(t, "example.test.my_method", msg.CanonicalName())
}

func TestNewRpcMessageGeneratesID(t *testing.T) {
	a := bus.NewRpcMessage("a", "b", nil, "")
	b := bus.NewRpcMessage("a", "b", nil, "")
	assert.NotEmpty(t, a.RpcID)
	assert.NotEqual(t, a.RpcID, b.RpcID)
}

func TestRpcMessageFromDictMissingRequiredKey(t *testing.T) {
	_, err := bus.RpcMessageFromDict(map[string]any{
		"api_name":       "example.test",
		"procedure_name": "my_method",
	})
	assert.ErrorIs(t, err, bus.ErrInvalidRpcMessage)
}

func TestRpcMessageFromDictEmptyRequiredKey(t *testing.T) {
	_, err := bus.RpcMessageFromDict(map[string]any{
		"api_name":       "",
		"procedure_name": "my_method",
		"rpc_id":         "abc",
	})
	assert.ErrorIs(t, err, bus.ErrInvalidRpcMessage)
}

func TestResultMessageRoundTripSuccess(t *testing.T) {
	msg := bus.NewResultMessage("abc123", "value")
	decoded, err := bus.ResultMessageFromDict(msg.ToDict())
	require.NoError(t, err)
	assert.Equal(t, "abc123", decoded.RpcID)
	assert.Equal(t, "value", decoded.Result)
	assert.False(t, decoded.Error)
}

func TestResultMessageRoundTripError(t *testing.T) {
	msg := bus.NewErrorResultMessage("abc123", assertError{"boom"}, "trace goes here")
	decoded, err := bus.ResultMessageFromDict(msg.ToDict())
	require.NoError(t, err)
	assert.True(t, decoded.Error)
	assert.Equal(t, "boom", decoded.Result)
	assert.Equal(t, "trace goes here", decoded.Trace)
}

func TestResultMessageFromDictMissingResult(t *testing.T) {
	_, err := bus.ResultMessageFromDict(map[string]any{"rpc_id": "abc"})
	assert.ErrorIs(t, err, bus.ErrInvalidRpcMessage)
}

func TestEventMessageRoundTrip(t *testing.T) {
	msg := bus.NewEventMessage("example.test", "my_event", map[string]any{"f": float64(123)})
	decoded, err := bus.EventMessageFromDict(msg.ToDict())
	require.NoError(t, err)
	assert.Equal(t, msg.ApiName, decoded.ApiName)
	assert.Equal(t, msg.EventName, decoded.EventName)
	assert.Equal(t, msg.Kwargs, decoded.Kwargs)
	assert.Equal(t, "example.test.my_event", msg.CanonicalName())
}

func TestEventMessageFromDictMissingRequiredKey(t *testing.T) {
	_, err := bus.EventMessageFromDict(map[string]any{"api_name": "example.test"})
	assert.ErrorIs(t, err, bus.ErrInvalidRpcMessage)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
