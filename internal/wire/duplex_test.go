package wire_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcsim/qcsim/internal/errkind"
	"github.com/qcsim/qcsim/internal/wire"
	"github.com/qcsim/qcsim/internal/wiretest"
)

const controllerIDBase = uint64(1) << 63

func echoHandler(f *wire.Frame) (*wire.Frame, error) {
	return &wire.Frame{Kind: f.Kind, Payload: f.Payload}, nil
}

func TestDuplexCallResponseRoundTrip(t *testing.T) {
	ta, tb := wiretest.NewPair()
	a := wire.NewDuplex(ta, 0, echoHandler, nil)
	b := wire.NewDuplex(tb, controllerIDBase, nil, nil)
	defer a.Close()
	defer b.Close()

	resp, err := b.Call(wire.KindAllocateReq, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp.Payload)
}

func TestDuplexBothSidesCallConcurrentlyWithoutIDCollision(t *testing.T) {
	ta, tb := wiretest.NewPair()
	a := wire.NewDuplex(ta, 0, echoHandler, nil)
	b := wire.NewDuplex(tb, controllerIDBase, echoHandler, nil)
	defer a.Close()
	defer b.Close()

	done := make(chan error, 2)
	go func() {
		_, err := a.Call(wire.KindGateReq, []byte("from-a"))
		done <- err
	}()
	go func() {
		_, err := b.Call(wire.KindGateReq, []byte("from-b"))
		done <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent bidirectional calls")
		}
	}
}

func TestDuplexHandlerErrorBecomesClassifiedError(t *testing.T) {
	ta, tb := wiretest.NewPair()
	failing := func(f *wire.Frame) (*wire.Frame, error) {
		return nil, errkind.New(errkind.UserCallback, "gate", "callback exploded")
	}
	a := wire.NewDuplex(ta, 0, failing, nil)
	b := wire.NewDuplex(tb, controllerIDBase, nil, nil)
	defer a.Close()
	defer b.Close()

	_, err := b.Call(wire.KindGateReq, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.UserCallback))
}

func TestDuplexNoHandlerRespondsWithProtocolError(t *testing.T) {
	ta, tb := wiretest.NewPair()
	a := wire.NewDuplex(ta, 0, nil, nil)
	b := wire.NewDuplex(tb, controllerIDBase, nil, nil)
	defer a.Close()
	defer b.Close()

	_, err := b.Call(wire.KindGateReq, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Protocol))
}

func TestDuplexCallAsyncDeliversResponsesInIssueOrderWithoutBlockingTheSend(t *testing.T) {
	ta, tb := wiretest.NewPair()
	order := make(chan string, 3)
	sequencing := func(f *wire.Frame) (*wire.Frame, error) {
		order <- string(f.Payload)
		return &wire.Frame{Kind: f.Kind, Payload: f.Payload}, nil
	}
	a := wire.NewDuplex(ta, 0, sequencing, nil)
	b := wire.NewDuplex(tb, controllerIDBase, nil, nil)
	defer a.Close()
	defer b.Close()

	first := b.CallAsync(wire.KindGateReq, []byte("1"))
	second := b.CallAsync(wire.KindGateReq, []byte("2"))
	third := b.CallAsync(wire.KindGateReq, []byte("3"))

	for _, want := range []string{"1", "2", "3"} {
		select {
		case got := <-order:
			assert.Equal(t, want, got, "requests fired without waiting must still reach the handler in issue order")
		case <-time.After(2 * time.Second):
			t.Fatal("handler never saw a request that CallAsync claims it sent")
		}
	}

	resp3, err := third.Wait()
	require.NoError(t, err)
	assert.Equal(t, "3", string(resp3.Payload))
	resp1, err := first.Wait()
	require.NoError(t, err)
	assert.Equal(t, "1", string(resp1.Payload))
	resp2, err := second.Wait()
	require.NoError(t, err)
	assert.Equal(t, "2", string(resp2.Payload))
}

func TestDuplexNotifyIsUnsolicitedAndReachesOnEvent(t *testing.T) {
	ta, tb := wiretest.NewPair()
	received := make(chan *wire.Frame, 1)
	a := wire.NewDuplex(ta, 0, nil, nil)
	b := wire.NewDuplex(tb, controllerIDBase, nil, func(f *wire.Frame) { received <- f })
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Notify(wire.KindMeasurementEvent, []byte("measured")))

	select {
	case f := <-received:
		assert.Equal(t, wire.KindMeasurementEvent, f.Kind)
		assert.Equal(t, "measured", string(f.Payload))
		assert.Zero(t, f.RequestID, "a notification carries no request id to correlate a response with")
	case <-time.After(2 * time.Second):
		t.Fatal("onEvent never saw the notification")
	}
}

func TestDuplexCloseFailsPendingCalls(t *testing.T) {
	ta, tb := wiretest.NewPair()
	block := make(chan struct{})
	blocking := func(f *wire.Frame) (*wire.Frame, error) {
		<-block
		return &wire.Frame{Kind: f.Kind}, nil
	}
	a := wire.NewDuplex(ta, 0, blocking, nil)
	b := wire.NewDuplex(tb, controllerIDBase, nil, nil)
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Call(wire.KindAdvanceReq, nil)
		errCh <- err
	}()

	// give the call time to register as pending before closing the transport
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Close())
	close(block)

	select {
	case err := <-errCh:
		assert.Error(t, err, "a closed transport must fail any pending call rather than hang")
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed after Close")
	}
}

func ExampleDuplex_Call() {
	ta, tb := wiretest.NewPair()
	a := wire.NewDuplex(ta, 0, echoHandler, nil)
	defer a.Close()
	b := wire.NewDuplex(tb, controllerIDBase, nil, nil)
	defer b.Close()

	resp, err := b.Call(wire.KindFreeReq, []byte("ping"))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(resp.Payload))
	// Output: ping
}
