package wire

import (
	"sync"

	"github.com/qcsim/qcsim/internal/errkind"
)

// Handler answers one inbound request frame with a response frame. The
// response's RequestID is filled in by the Duplex before it is sent.
type Handler func(f *Frame) (*Frame, error)

// Duplex multiplexes a connection that carries calls initiated by both
// ends at once: the controller calls a plugin (initialize, drop, host
// channel, gatestream-to-this-plugin) while that same plugin calls back
// through the same connection to relay a gatestream request to the next
// plugin downstream. idBase distinguishes the two sides' request-id spaces
// on one wire so a reply is never mistaken for a fresh inbound request;
// callers on one end of a connection must agree to use a idBase of 0 and
// their peer 1<<63 (see controller.go and pluginrt.Runtime).
type Duplex struct {
	t       Transport
	idBase  uint64
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Frame
	handler Handler
	onEvent func(*Frame)
}

// NewDuplex starts serving t. handler answers inbound requests that don't
// match a pending outbound call, one at a time in arrival order; onEvent,
// if non-nil, receives frames with
// RequestID == 0 (e.g. log records).
func NewDuplex(t Transport, idBase uint64, handler Handler, onEvent func(*Frame)) *Duplex {
	d := &Duplex{t: t, idBase: idBase, pending: map[uint64]chan *Frame{}, handler: handler, onEvent: onEvent}
	go d.readLoop()
	return d
}

func (d *Duplex) readLoop() {
	// Inbound requests are handled one at a time, in arrival order, on a
	// goroutine of their own, so a handler that waits on one of this
	// connection's outbound calls never blocks the response it needs.
	inbound := make(chan *Frame, 1024)
	defer close(inbound)
	go func() {
		for f := range inbound {
			d.serveOne(f)
		}
	}()
	for {
		f, err := d.t.Recv()
		if err != nil {
			d.failAll(err)
			return
		}
		if f.RequestID == 0 {
			if d.onEvent != nil {
				d.onEvent(f)
			}
			continue
		}
		d.mu.Lock()
		ch, ok := d.pending[f.RequestID]
		if ok {
			delete(d.pending, f.RequestID)
		}
		d.mu.Unlock()
		if ok {
			ch <- f
			continue
		}
		inbound <- f
	}
}

func (d *Duplex) serveOne(f *Frame) {
	if d.handler == nil {
		payload, _ := EncodePayload(ErrorResp{Kind: "protocol", Message: "peer has no request handler"})
		_ = d.t.Send(&Frame{RequestID: f.RequestID, Kind: KindErrorResp, Payload: payload})
		return
	}
	resp, err := d.handler(f)
	if err != nil {
		payload, _ := EncodePayload(ErrorResp{Kind: errkind.KindOf(err).String(), Message: err.Error()})
		_ = d.t.Send(&Frame{RequestID: f.RequestID, Kind: KindErrorResp, Payload: payload})
		return
	}
	resp.RequestID = f.RequestID
	_ = d.t.Send(resp)
}

func (d *Duplex) failAll(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.pending {
		payload, _ := EncodePayload(ErrorResp{Kind: errkind.IO.String(), Message: err.Error()})
		ch <- &Frame{RequestID: id, Kind: KindErrorResp, Payload: payload}
		delete(d.pending, id)
	}
}

// Pending is a request whose frame has already been written to the wire;
// its response is collected later with Wait. Issuing several Pending
// calls back to back before waiting on any of them is how a connection
// pipelines: the sends all go out immediately, and the round trips happen
// concurrently instead of one after another.
type Pending struct {
	ch <-chan *Frame
}

// Wait blocks for this request's response, converting an ErrorResp
// payload into a classified error exactly as Call does.
func (p *Pending) Wait() (*Frame, error) {
	f := <-p.ch
	if f.Kind == KindErrorResp {
		var er ErrorResp
		_ = DecodePayload(f.Payload, &er)
		return nil, errkind.New(errkind.ParseKind(er.Kind), "", er.Message)
	}
	return f, nil
}

// CallAsync writes one request to the wire and returns immediately,
// without waiting for its response. The caller collects the result later
// with Pending.Wait, in the same order the requests were issued (the
// transport delivers responses in FIFO order on a given connection).
func (d *Duplex) CallAsync(kind Kind, payload []byte) *Pending {
	d.mu.Lock()
	d.nextID++
	id := d.idBase | d.nextID
	ch := make(chan *Frame, 1)
	d.pending[id] = ch
	d.mu.Unlock()
	if err := d.t.Send(&Frame{RequestID: id, Kind: kind, Payload: payload}); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		payload, _ := EncodePayload(ErrorResp{Kind: errkind.IO.String(), Message: "send request: " + err.Error()})
		ch <- &Frame{RequestID: id, Kind: KindErrorResp, Payload: payload}
	}
	return &Pending{ch: ch}
}

// Call sends one request on this end's id space and blocks for its
// response. It is CallAsync immediately followed by Wait, kept as its own
// entry point for call sites that have no pipelining to do.
func (d *Duplex) Call(kind Kind, payload []byte) (*Frame, error) {
	return d.CallAsync(kind, payload).Wait()
}

// Notify sends an unsolicited frame (RequestID 0) that expects no
// response, for traffic delivered out of band of the request/response
// cycle — e.g. a measurement computed after its gate request already
// answered empty.
func (d *Duplex) Notify(kind Kind, payload []byte) error {
	if err := d.t.Send(&Frame{RequestID: 0, Kind: kind, Payload: payload}); err != nil {
		return errkind.Wrap(errkind.IO, "", "send notification", err)
	}
	return nil
}

// Close closes the underlying transport.
func (d *Duplex) Close() error { return d.t.Close() }
