package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/internal/errkind"
	"github.com/qcsim/qcsim/qubit"
	"github.com/qcsim/qcsim/quantum"
)

func TestBuildRequiresRunCallbackOnlyForFrontend(t *testing.T) {
	_, err := NewBuilder(Frontend, "f", "qcsim", "0.1.0").Build()
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidArgument))

	_, err = NewBuilder(Operator, "o", "qcsim", "0.1.0").Build()
	require.NoError(t, err)

	_, err = NewBuilder(Backend, "b", "qcsim", "0.1.0").Build()
	require.NoError(t, err)
}

func TestSetRunRejectsNonFrontendKinds(t *testing.T) {
	b := NewBuilder(Operator, "o", "qcsim", "0.1.0")
	_, err := b.SetRun(func(*Context, RunningState, *arbdata.ArbData) (*arbdata.ArbData, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.TypeMismatch))
}

func TestSetAllocateRejectsFrontend(t *testing.T) {
	b := NewBuilder(Frontend, "f", "qcsim", "0.1.0")
	_, err := b.SetAllocate(func(*Context, uint32, *arbdata.ArbCmdQueue) (*qubit.Set, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.TypeMismatch))
}

func TestSetModifyMeasurementIsOperatorOnly(t *testing.T) {
	_, err := NewBuilder(Backend, "b", "qcsim", "0.1.0").SetModifyMeasurement(nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.TypeMismatch))

	_, err = NewBuilder(Operator, "o", "qcsim", "0.1.0").SetModifyMeasurement(nil)
	require.NoError(t, err)
}

func TestOperatorDefaultGateForwardsAsyncAndAnswersEmpty(t *testing.T) {
	b := NewBuilder(Operator, "o", "qcsim", "0.1.0")
	def, err := b.Build()
	require.NoError(t, err)

	ds := &fakeDownstream{}
	ctx := &Context{Downstream: ds}
	gate, err := quantum.NewMeasurementGate(qubit.NewSetFrom(qubit.Ref(1)), nil)
	require.NoError(t, err)

	result, err := def.Gate(ctx, gate)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Len(), "the default gate must not wait for a downstream answer")
	require.True(t, ds.asyncCalled, "the default gate must forward through GateAsync rather than Gate")
}

func TestOperatorDefaultModifyMeasurementIsIdentity(t *testing.T) {
	def, err := NewBuilder(Operator, "o", "qcsim", "0.1.0").Build()
	require.NoError(t, err)

	m := quantum.NewMeasurement(qubit.Ref(1), quantum.One, nil)
	modified, err := def.ModifyMeasurement(nil, m)
	require.NoError(t, err)
	assert.Equal(t, quantum.One, modified.Value)
}

func TestBackendDefaultsAreHarmlessNoops(t *testing.T) {
	def, err := NewBuilder(Backend, "b", "qcsim", "0.1.0").Build()
	require.NoError(t, err)

	qubits, err := def.Allocate(nil, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, qubits.Size(), "an unconfigured backend allocates nothing by default")

	cycles, err := def.Advance(nil, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cycles, "the default advance is identity")
}

func TestSetTimeoutsOverridesDefaults(t *testing.T) {
	b := NewBuilder(Backend, "b", "qcsim", "0.1.0")
	def, err := b.SetTimeouts(7, 9).Build()
	require.NoError(t, err)
	assert.EqualValues(t, 7, def.AcceptTimeout)
	assert.EqualValues(t, 9, def.ShutdownTimeout)
}

type fakeDownstream struct {
	measured    *quantum.MeasurementSet
	asyncCalled bool
}

func (*fakeDownstream) Allocate(uint32, *arbdata.ArbCmdQueue) (*qubit.Set, error) { return nil, nil }
func (*fakeDownstream) Free(*qubit.Set) error                                    { return nil }
func (d *fakeDownstream) Gate(*quantum.Gate) (*quantum.MeasurementSet, error)     { return d.measured, nil }
func (d *fakeDownstream) GateAsync(*quantum.Gate) error                          { d.asyncCalled = true; return nil }
func (*fakeDownstream) Advance(cycles uint64) (uint64, error)                    { return cycles, nil }
func (*fakeDownstream) UpstreamArb(*arbdata.ArbCmd) (*arbdata.ArbData, error)    { return nil, nil }
