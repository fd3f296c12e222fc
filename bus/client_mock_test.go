package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arc-self/corebus/bus"
	"github.com/arc-self/corebus/bus/mock"
	"github.com/arc-self/corebus/bus/transport/memory"
)

// TestClientCallSurfacesRemoteError scripts the ResultTransport with a
// mock so the remote handler's failure can be asserted without standing
// up a real serve loop: the memory transport only needs to accept the
// outbound call, and the mock is what decides what comes back.
func TestClientCallSurfacesRemoteError(t *testing.T) {
	ctrl := gomock.NewController(t)

	reg := bus.NewRegistry()
	api, err := bus.NewApi(bus.ApiOptions{Name: "example.test"}, reg)
	require.NoError(t, err)
	api.AddProcedure("boom", func(context.Context, map[string]any) (any, error) { return nil, nil })

	tr := memory.New()
	resultT := mock.NewMockResultTransport(ctrl)

	client := bus.NewClient(reg, tr, resultT, tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultT.EXPECT().
		GetReturnPath(gomock.Any()).
		Return("example.test-return-path")

	resultT.EXPECT().
		ReceiveResult(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rpcMsg *bus.RpcMessage, _ bus.Options) (*bus.ResultMessage, error) {
			return bus.NewErrorResultMessage(rpcMsg.RpcID, assert.AnError, ""), nil
		})

	_, err = client.Call(ctx, "example.test", "boom", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote error")
}
