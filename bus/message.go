package bus

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// kwPrefix is the reserved key prefix used to flatten keyword arguments
// into an envelope's canonical dict form. Any top-level key that does not
// carry this prefix is envelope metadata, never a keyword argument, so the
// two namespaces never collide.
const kwPrefix = "kw:"

// newRpcID generates a fresh, time-ordered, URL-safe identifier for an
// RpcMessage that was not given one explicitly. It is a UUIDv1 (time +
// node based, so lexically roughly time-ordered) base64-encoded without
// padding, matching the "16-byte time-ordered identifier" wire contract.
func newRpcID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		// uuid.NewUUID only fails if the host cannot read random/clock
		// state; fall back to a pure-random UUID rather than panicking.
		id = uuid.New()
	}
	raw, _ := id.MarshalBinary()
	return base64.RawURLEncoding.EncodeToString(raw)
}

// RpcMessage is the envelope for a single remote procedure call.
//
// RpcID, ApiName and ProcedureName must all be non-empty on any envelope
// that is handed to a transport. ReturnPath may legitimately be empty
// until the Result transport has allocated one.
type RpcMessage struct {
	RpcID         string
	ApiName       string
	ProcedureName string
	Kwargs        map[string]any
	ReturnPath    string
}

// NewRpcMessage constructs an RpcMessage, generating an RpcID if one is
// not supplied.
func NewRpcMessage(apiName, procedureName string, kwargs map[string]any, rpcID string) *RpcMessage {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if rpcID == "" {
		rpcID = newRpcID()
	}
	return &RpcMessage{
		RpcID:         rpcID,
		ApiName:       apiName,
		ProcedureName: procedureName,
		Kwargs:        kwargs,
	}
}

// CanonicalName is the dotted address this message targets.
func (m *RpcMessage) CanonicalName() string {
	return m.ApiName + "." + m.ProcedureName
}

// ToDict flattens the envelope to its wire (canonical dict) form.
func (m *RpcMessage) ToDict() map[string]any {
	d := map[string]any{
		"rpc_id":         m.RpcID,
		"api_name":       m.ApiName,
		"procedure_name": m.ProcedureName,
		"return_path":    m.ReturnPath,
	}
	for k, v := range m.Kwargs {
		d[kwPrefix+k] = v
	}
	return d
}

// RpcMessageFromDict decodes a wire dict back into an RpcMessage,
// validating that rpc_id, api_name and procedure_name are present and
// non-empty.
func RpcMessageFromDict(d map[string]any) (*RpcMessage, error) {
	for _, required := range []string{"api_name", "procedure_name", "rpc_id"} {
		v, ok := d[required]
		if !ok {
			return nil, fmt.Errorf("%w: required key %q missing", ErrInvalidRpcMessage, required)
		}
		s, _ := v.(string)
		if s == "" {
			return nil, fmt.Errorf("%w: required key %q present but empty", ErrInvalidRpcMessage, required)
		}
	}

	m := &RpcMessage{
		RpcID:         d["rpc_id"].(string),
		ApiName:       d["api_name"].(string),
		ProcedureName: d["procedure_name"].(string),
		Kwargs:        map[string]any{},
	}
	if rp, ok := d["return_path"].(string); ok {
		m.ReturnPath = rp
	}
	for k, v := range d {
		if strings.HasPrefix(k, kwPrefix) {
			m.Kwargs[strings.TrimPrefix(k, kwPrefix)] = v
		}
	}
	return m, nil
}

// ResultMessage is the envelope carrying the outcome of an RpcMessage,
// either a success value or a stringified error plus trace.
type ResultMessage struct {
	RpcID  string
	Result any
	Error  bool
	Trace  string
}

// NewResultMessage builds a success ResultMessage.
func NewResultMessage(rpcID string, result any) *ResultMessage {
	return &ResultMessage{RpcID: rpcID, Result: result}
}

// NewErrorResultMessage builds a ResultMessage from a failed invocation.
// Error is always forced true and Trace is populated from trace, or from
// err's message when trace is empty.
func NewErrorResultMessage(rpcID string, err error, trace string) *ResultMessage {
	if trace == "" {
		trace = err.Error()
	}
	return &ResultMessage{
		RpcID:  rpcID,
		Result: err.Error(),
		Error:  true,
		Trace:  trace,
	}
}

// ToDict flattens the envelope to its wire form. The trace key is only
// present when Error is true.
func (m *ResultMessage) ToDict() map[string]any {
	d := map[string]any{
		"rpc_id": m.RpcID,
		"result": m.Result,
		"error":  m.Error,
	}
	if m.Error {
		d["trace"] = m.Trace
	}
	return d
}

// ResultMessageFromDict decodes a wire dict back into a ResultMessage.
func ResultMessageFromDict(d map[string]any) (*ResultMessage, error) {
	if _, ok := d["result"]; !ok {
		return nil, fmt.Errorf("%w: required key \"result\" missing", ErrInvalidRpcMessage)
	}
	rpcID, _ := d["rpc_id"].(string)
	if rpcID == "" {
		return nil, fmt.Errorf("%w: required key \"rpc_id\" missing or empty", ErrInvalidRpcMessage)
	}
	m := &ResultMessage{RpcID: rpcID, Result: d["result"]}
	if errFlag, ok := d["error"].(bool); ok {
		m.Error = errFlag
	}
	if trace, ok := d["trace"].(string); ok {
		m.Trace = trace
	}
	return m, nil
}

// EventMessage is the envelope for a fire-and-forget event emission.
type EventMessage struct {
	ApiName   string
	EventName string
	Kwargs    map[string]any
}

// NewEventMessage constructs an EventMessage.
func NewEventMessage(apiName, eventName string, kwargs map[string]any) *EventMessage {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &EventMessage{ApiName: apiName, EventName: eventName, Kwargs: kwargs}
}

// CanonicalName is the dotted address this event was fired under.
func (m *EventMessage) CanonicalName() string {
	return m.ApiName + "." + m.EventName
}

// ToDict flattens the envelope to its wire form.
func (m *EventMessage) ToDict() map[string]any {
	d := map[string]any{
		"api_name":   m.ApiName,
		"event_name": m.EventName,
	}
	for k, v := range m.Kwargs {
		d[kwPrefix+k] = v
	}
	return d
}

// EventMessageFromDict decodes a wire dict back into an EventMessage.
func EventMessageFromDict(d map[string]any) (*EventMessage, error) {
	for _, required := range []string{"api_name", "event_name"} {
		v, ok := d[required]
		if !ok {
			return nil, fmt.Errorf("%w: required key %q missing", ErrInvalidRpcMessage, required)
		}
		s, _ := v.(string)
		if s == "" {
			return nil, fmt.Errorf("%w: required key %q present but empty", ErrInvalidRpcMessage, required)
		}
	}
	m := &EventMessage{
		ApiName:   d["api_name"].(string),
		EventName: d["event_name"].(string),
		Kwargs:    map[string]any{},
	}
	for k, v := range d {
		if strings.HasPrefix(k, kwPrefix) {
			m.Kwargs[strings.TrimPrefix(k, kwPrefix)] = v
		}
	}
	return m, nil
}
