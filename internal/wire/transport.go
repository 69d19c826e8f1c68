package wire

import (
	"fmt"
	"io"
	"sync"

	"github.com/qcsim/qcsim/internal/errkind"
)

// Transport is one end of a framed connection between adjacent plugins, or
// between a plugin and the controller. A Transport serializes its own
// writes but Recv must only ever be called from a single goroutine, since
// the runtime reads each connection from exactly one dedicated I/O task.
type Transport interface {
	Send(f *Frame) error
	Recv() (*Frame, error)
	Close() error
}

// streamTransport adapts any io.ReadWriteCloser (a Unix socket connection,
// a named pipe, or an in-process net.Pipe half) to Transport.
type streamTransport struct {
	rwc io.ReadWriteCloser
	mu  sync.Mutex
}

// NewStreamTransport wraps rwc as a Transport.
func NewStreamTransport(rwc io.ReadWriteCloser) Transport {
	return &streamTransport{rwc: rwc}
}

func (t *streamTransport) Send(f *Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := WriteFrame(t.rwc, f); err != nil {
		return errkind.Wrap(errkind.IO, "", "write frame", err)
	}
	return nil
}

func (t *streamTransport) Recv() (*Frame, error) {
	f, err := ReadFrame(t.rwc)
	if err != nil {
		if err == io.EOF {
			return nil, errkind.Wrap(errkind.IO, "", "connection closed", err)
		}
		return nil, errkind.Wrap(errkind.IO, "", "read frame", err)
	}
	return f, nil
}

func (t *streamTransport) Close() error { return t.rwc.Close() }

// ExchangeHandshake writes this side's version handshake and reads the
// peer's, failing with a Protocol error on major mismatch.
func ExchangeHandshake(t Transport) error {
	payload, err := EncodePayload(VersionHandshake{Major: ProtocolMajor, Minor: ProtocolMinor})
	if err != nil {
		return errkind.Wrap(errkind.Protocol, "", "encode handshake", err)
	}
	if err := t.Send(&Frame{RequestID: 0, Kind: KindVersionHandshake, Payload: payload}); err != nil {
		return err
	}
	f, err := t.Recv()
	if err != nil {
		return err
	}
	if f.Kind != KindVersionHandshake {
		return errkind.New(errkind.Protocol, fmt.Sprintf("kind=%d", f.Kind), "expected version handshake frame")
	}
	var peer VersionHandshake
	if err := DecodePayload(f.Payload, &peer); err != nil {
		return errkind.Wrap(errkind.Protocol, "", "decode handshake", err)
	}
	if peer.Major != ProtocolMajor {
		return errkind.New(errkind.Protocol, fmt.Sprintf("peer_major=%d local_major=%d", peer.Major, ProtocolMajor), "protocol major version mismatch")
	}
	return nil
}
