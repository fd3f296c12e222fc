package bus

import (
	"context"
	"fmt"
)

// dispatcher resolves "<api>.<procedure>" against a Registry and invokes
// the matching Procedure. It never panics: Api.Call already recovers
// handler panics into errors, and dispatcher itself turns a missing api
// or procedure into the same ErrUnknownApi/ErrProcedureNotFound a direct
// Registry.Get/Api.Call would produce, so a serve loop can treat every
// outcome uniformly as (result, err).
type dispatcher struct {
	registry *Registry
}

func newDispatcher(reg *Registry) *dispatcher {
	return &dispatcher{registry: reg}
}

// dispatch invokes msg against the registry, returning the procedure's
// result or an error describing why it could not be invoked or what it
// returned.
func (d *dispatcher) dispatch(ctx context.Context, msg *RpcMessage) (any, error) {
	api, err := d.registry.Get(msg.ApiName)
	if err != nil {
		return nil, err
	}
	result, err := api.Call(ctx, msg.ProcedureName, msg.Kwargs)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", msg.CanonicalName(), err)
	}
	return result, nil
}
