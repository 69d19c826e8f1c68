package pluginrt_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/internal/errkind"
	"github.com/qcsim/qcsim/internal/pluginrt"
	"github.com/qcsim/qcsim/internal/wire"
	"github.com/qcsim/qcsim/internal/wiretest"
	"github.com/qcsim/qcsim/plugin"
	"github.com/qcsim/qcsim/qubit"
	"github.com/qcsim/qcsim/quantum"
)

const controllerIDBase = uint64(1) << 63

func startBackendRuntime(t *testing.T, def *plugin.Definition) *wire.Duplex {
	t.Helper()
	pluginSide, hostSide := wiretest.NewPair()
	rt := pluginrt.NewRuntime(def, pluginSide)
	go func() { _ = rt.Serve() }()
	host := wire.NewDuplex(hostSide, controllerIDBase, nil, nil)
	t.Cleanup(func() { _ = host.Close() })
	return host
}

func callInitialize(t *testing.T, host *wire.Duplex, seed uint64, idx int) {
	t.Helper()
	payload, err := wire.EncodePayload(wire.InitializeReq{SimSeed: seed, PluginIndex: idx})
	require.NoError(t, err)
	_, err = host.Call(wire.KindInitializeReq, payload)
	require.NoError(t, err)
}

func TestRuntimeAllocateAndGateDispatch(t *testing.T) {
	var nextRef uint64
	b := plugin.NewBuilder(plugin.Backend, "backend-test", "qcsim", "0.1.0")
	_, err := b.SetAllocate(func(_ *plugin.Context, count uint32, _ *arbdata.ArbCmdQueue) (*qubit.Set, error) {
		out := qubit.NewSet()
		for i := uint32(0); i < count; i++ {
			out.Push(qubit.Ref(atomic.AddUint64(&nextRef, 1)))
		}
		return out, nil
	})
	require.NoError(t, err)
	_, err = b.SetGate(func(_ *plugin.Context, g *quantum.Gate) (*quantum.MeasurementSet, error) {
		out := quantum.NewMeasurementSet()
		for _, q := range g.Measured.Refs() {
			out.Put(quantum.NewMeasurement(q, quantum.One, nil))
		}
		return out, nil
	})
	require.NoError(t, err)
	def, err := b.Build()
	require.NoError(t, err)

	host := startBackendRuntime(t, def)
	callInitialize(t, host, 7, 1)

	allocPayload, err := wire.EncodePayload(wire.AllocateReq{Count: 2, InitCmdCBOR: nil})
	require.NoError(t, err)
	resp, err := host.Call(wire.KindAllocateReq, allocPayload)
	require.NoError(t, err)
	var allocResp wire.AllocateResp
	require.NoError(t, wire.DecodePayload(resp.Payload, &allocResp))
	require.Len(t, allocResp.Qubits, 2)

	mgate, err := quantum.NewMeasurementGate(qubit.NewSetFrom(qubit.Ref(allocResp.Qubits[0])), nil)
	require.NoError(t, err)
	gateCBOR, err := mgate.MarshalCBOR()
	require.NoError(t, err)
	gatePayload, err := wire.EncodePayload(wire.GateReq{GateCBOR: gateCBOR})
	require.NoError(t, err)
	resp, err = host.Call(wire.KindGateReq, gatePayload)
	require.NoError(t, err)
	var gateResp wire.GateResp
	require.NoError(t, wire.DecodePayload(resp.Payload, &gateResp))
	measured := quantum.NewMeasurementSet()
	require.NoError(t, measured.UnmarshalCBOR(gateResp.MeasurementsCBOR))
	m, ok := measured.Get(qubit.Ref(allocResp.Qubits[0]))
	require.True(t, ok)
	assert.Equal(t, quantum.One, m.Value)
}

func TestRuntimeCallbackErrorBecomesUserCallbackKind(t *testing.T) {
	b := plugin.NewBuilder(plugin.Backend, "backend-fail", "qcsim", "0.1.0")
	_, err := b.SetAllocate(func(_ *plugin.Context, _ uint32, _ *arbdata.ArbCmdQueue) (*qubit.Set, error) {
		return nil, errkind.New(errkind.InvalidArgument, "", "no qubits left")
	})
	require.NoError(t, err)
	def, err := b.Build()
	require.NoError(t, err)

	host := startBackendRuntime(t, def)
	callInitialize(t, host, 1, 0)

	payload, err := wire.EncodePayload(wire.AllocateReq{Count: 1})
	require.NoError(t, err)
	_, err = host.Call(wire.KindAllocateReq, payload)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.UserCallback))
}

func TestRuntimeStartWaitSendRecvCycle(t *testing.T) {
	b := plugin.NewBuilder(plugin.Frontend, "frontend-test", "qcsim", "0.1.0")
	_, err := b.SetRun(func(_ *plugin.Context, state plugin.RunningState, arg *arbdata.ArbData) (*arbdata.ArbData, error) {
		state.Send(arbdata.NewWithJSON(map[string]any{"ack": true}, nil))
		msg, err := state.Recv()
		if err != nil {
			return nil, err
		}
		out := arbdata.NewWithJSON(map[string]any{"echo": msg.Json()["ping"]}, nil)
		return out, nil
	})
	require.NoError(t, err)
	def, err := b.Build()
	require.NoError(t, err)

	host := startBackendRuntime(t, def)
	callInitialize(t, host, 1, 0)

	startPayload, err := wire.EncodePayload(wire.StartReq{})
	require.NoError(t, err)
	_, err = host.Call(wire.KindStartReq, startPayload)
	require.NoError(t, err)

	recvResp, err := host.Call(wire.KindRecvReq, nil)
	require.NoError(t, err)
	var rr wire.RecvResp
	require.NoError(t, wire.DecodePayload(recvResp.Payload, &rr))
	ackData := arbdata.New()
	require.NoError(t, ackData.UnmarshalCBOR(rr.DataCBOR))
	assert.Equal(t, true, ackData.Json()["ack"])

	sendData := arbdata.NewWithJSON(map[string]any{"ping": "pong"}, nil)
	sendCBOR, err := sendData.MarshalCBOR()
	require.NoError(t, err)
	sendPayload, err := wire.EncodePayload(wire.SendReq{DataCBOR: sendCBOR})
	require.NoError(t, err)
	_, err = host.Call(wire.KindSendReq, sendPayload)
	require.NoError(t, err)

	waitResp, err := host.Call(wire.KindWaitReq, nil)
	require.NoError(t, err)
	var wr wire.WaitResp
	require.NoError(t, wire.DecodePayload(waitResp.Payload, &wr))
	result := arbdata.New()
	require.NoError(t, result.UnmarshalCBOR(wr.DataCBOR))
	assert.Equal(t, "pong", result.Json()["echo"])
}

func TestRuntimeDropSignalsServeCompletion(t *testing.T) {
	dropped := make(chan struct{})
	b := plugin.NewBuilder(plugin.Backend, "backend-drop", "qcsim", "0.1.0")
	_, err := b.SetDrop(func(_ *plugin.Context) error {
		close(dropped)
		return nil
	})
	require.NoError(t, err)
	def, err := b.Build()
	require.NoError(t, err)

	pluginSide, hostSide := wiretest.NewPair()
	rt := pluginrt.NewRuntime(def, pluginSide)
	serveDone := make(chan error, 1)
	go func() { serveDone <- rt.Serve() }()
	host := wire.NewDuplex(hostSide, controllerIDBase, nil, nil)
	defer host.Close()

	callInitialize(t, host, 1, 0)

	_, err = host.Call(wire.KindDropReq, nil)
	require.NoError(t, err)

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("drop callback did not run")
	}
	select {
	case err := <-serveDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after drop")
	}
}
