// Package wire implements the gatestream/host-channel frame codec: a
// 32-bit big-endian length prefix around a CBOR-encoded tagged-union
// envelope, matching the transport framing the katzenpost cborplugin
// client uses for its own length-delimited CBOR command stream, adapted
// here to a single Frame envelope type instead of per-command Marshal
// methods.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameLen bounds a single frame's payload to guard against a
// corrupted length prefix exhausting memory.
const MaxFrameLen = 64 << 20

// Kind enumerates every request/response/event variant carried on the
// wire. Kind 0 is reserved for the version handshake.
type Kind uint8

const (
	KindVersionHandshake Kind = iota
	KindAllocateReq
	KindAllocateResp
	KindFreeReq
	KindFreeResp
	KindGateReq
	KindGateResp
	KindAdvanceReq
	KindAdvanceResp
	KindUpstreamArbReq
	KindUpstreamArbResp
	KindStartReq
	KindStartResp
	KindWaitReq
	KindWaitResp
	KindSendReq
	KindSendResp
	KindRecvReq
	KindRecvResp
	KindHostArbReq
	KindHostArbResp
	KindYieldReq
	KindYieldResp
	KindErrorResp
	KindLogEvent
	KindInitializeReq
	KindInitializeResp
	KindDropReq
	KindDropResp
	KindMeasurementEvent
)

// Frame is one message on the wire: a request id (0 for unsolicited
// events), a kind discriminant, and a kind-specific CBOR payload.
type Frame struct {
	RequestID uint64
	Kind      Kind
	Payload   []byte
}

// EncodePayload CBOR-encodes v into a Frame's Payload field.
func EncodePayload(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// DecodePayload CBOR-decodes a Frame's Payload into v.
func DecodePayload(payload []byte, v any) error {
	return cbor.Unmarshal(payload, v)
}

type onWireFrame struct {
	RequestID uint64 `cbor:"id"`
	Kind      Kind   `cbor:"kind"`
	Payload   []byte `cbor:"payload"`
}

// WriteFrame encodes f and writes it to w as a length-prefixed frame.
func WriteFrame(w io.Writer, f *Frame) error {
	body, err := cbor.Marshal(onWireFrame{RequestID: f.RequestID, Kind: f.Kind, Payload: f.Payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > MaxFrameLen {
		return fmt.Errorf("frame body too large: %d bytes", len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes the next length-prefixed frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", n, MaxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	var owf onWireFrame
	if err := cbor.Unmarshal(body, &owf); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &Frame{RequestID: owf.RequestID, Kind: owf.Kind, Payload: owf.Payload}, nil
}
