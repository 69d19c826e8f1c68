// Package arbdata implements the structured-value types shared across the
// gatestream and host channel protocols: ArbData, ArbCmd, and ArbCmdQueue.
// ArbData pairs a CBOR-encodable value with an ordered list of binary blobs;
// ArbCmd qualifies one with an (interface, operation) identifier pair.
package arbdata

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/fxamacker/cbor/v2"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ArbData is a CBOR-encoded structured value plus an ordered list of
// opaque byte blobs. The zero value is a valid empty ArbData (an empty
// structured value and no blobs).
type ArbData struct {
	json  map[string]any
	blobs [][]byte
}

// New returns an empty ArbData.
func New() *ArbData {
	return &ArbData{json: map[string]any{}}
}

// NewWithJSON returns an ArbData whose structured value is v and whose blob
// list is a copy of blobs.
func NewWithJSON(v map[string]any, blobs [][]byte) *ArbData {
	a := &ArbData{json: v}
	if a.json == nil {
		a.json = map[string]any{}
	}
	a.blobs = append(a.blobs, blobs...)
	return a
}

// Json returns the structured value view.
func (a *ArbData) Json() map[string]any {
	if a.json == nil {
		return map[string]any{}
	}
	return a.json
}

// SetJson replaces the structured value view.
func (a *ArbData) SetJson(v map[string]any) {
	if v == nil {
		v = map[string]any{}
	}
	a.json = v
}

// BlobCount returns the number of blobs.
func (a *ArbData) BlobCount() int { return len(a.blobs) }

// resolveIndex converts a Python-style index (negative counts from the end)
// to an absolute offset, or reports it out of range.
func resolveIndex(n, i int) (int, bool) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// GetBlob returns the blob at index i (Python-style negative indices allowed).
func (a *ArbData) GetBlob(i int) ([]byte, error) {
	idx, ok := resolveIndex(len(a.blobs), i)
	if !ok {
		return nil, fmt.Errorf("blob index %d out of range (len %d)", i, len(a.blobs))
	}
	return a.blobs[idx], nil
}

// SetBlob overwrites the blob at index i.
func (a *ArbData) SetBlob(i int, b []byte) error {
	idx, ok := resolveIndex(len(a.blobs), i)
	if !ok {
		return fmt.Errorf("blob index %d out of range (len %d)", i, len(a.blobs))
	}
	a.blobs[idx] = b
	return nil
}

// PushBlob appends a blob.
func (a *ArbData) PushBlob(b []byte) {
	a.blobs = append(a.blobs, b)
}

// PopBlob removes and returns the last blob.
func (a *ArbData) PopBlob() ([]byte, error) {
	if len(a.blobs) == 0 {
		return nil, fmt.Errorf("pop from empty blob list")
	}
	b := a.blobs[len(a.blobs)-1]
	a.blobs = a.blobs[:len(a.blobs)-1]
	return b, nil
}

// InsertBlob inserts b so that it becomes element i.
func (a *ArbData) InsertBlob(i int, b []byte) error {
	idx, ok := resolveIndex(len(a.blobs)+1, i)
	if !ok {
		return fmt.Errorf("blob index %d out of range (len %d)", i, len(a.blobs))
	}
	a.blobs = append(a.blobs, nil)
	copy(a.blobs[idx+1:], a.blobs[idx:])
	a.blobs[idx] = b
	return nil
}

// RemoveBlob removes and returns the blob at index i.
func (a *ArbData) RemoveBlob(i int) ([]byte, error) {
	idx, ok := resolveIndex(len(a.blobs), i)
	if !ok {
		return nil, fmt.Errorf("blob index %d out of range (len %d)", i, len(a.blobs))
	}
	b := a.blobs[idx]
	a.blobs = append(a.blobs[:idx], a.blobs[idx+1:]...)
	return b, nil
}

// Assign copies other's contents into a, replacing a's prior value.
func (a *ArbData) Assign(other *ArbData) {
	jsonCopy := make(map[string]any, len(other.json))
	for k, v := range other.json {
		jsonCopy[k] = v
	}
	a.json = jsonCopy
	a.blobs = append([][]byte(nil), other.blobs...)
}

// Equal reports deep equality of the CBOR-relevant content: the encoded
// forms are compared rather than the Go maps, since CBOR is the contract.
func (a *ArbData) Equal(other *ArbData) bool {
	ab, err1 := a.MarshalCBOR()
	bb, err2 := other.MarshalCBOR()
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// cborEnvelope is the on-wire shape of an ArbData: structured value plus
// blob list, matching the wire protocol's self-describing binary encoding.
type cborEnvelope struct {
	Json  map[string]any `cbor:"json"`
	Blobs [][]byte       `cbor:"blobs"`
}

// MarshalCBOR encodes a to its canonical CBOR wire form.
func (a *ArbData) MarshalCBOR() ([]byte, error) {
	env := cborEnvelope{Json: a.Json(), Blobs: a.blobs}
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(env)
}

// UnmarshalCBOR decodes b into a, replacing its prior contents.
func (a *ArbData) UnmarshalCBOR(b []byte) error {
	var env cborEnvelope
	// Integers decode as int64, the type NewWithJSON callers store, so a
	// round trip yields values equal to the ones that were encoded.
	mode, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		return err
	}
	if err := mode.Unmarshal(b, &env); err != nil {
		return err
	}
	a.json = env.Json
	if a.json == nil {
		a.json = map[string]any{}
	}
	a.blobs = env.Blobs
	return nil
}

// ArbCmd qualifies an ArbData with a (interface, operation) identifier
// pair. Identifiers are immutable after construction and must match
// [A-Za-z0-9_]+.
type ArbCmd struct {
	Iface string
	Oper  string
	Data  *ArbData
}

// NewCmd validates iface and oper and constructs an ArbCmd.
func NewCmd(iface, oper string, data *ArbData) (*ArbCmd, error) {
	if !identPattern.MatchString(iface) {
		return nil, fmt.Errorf("invalid interface identifier %q", iface)
	}
	if !identPattern.MatchString(oper) {
		return nil, fmt.Errorf("invalid operation identifier %q", oper)
	}
	if data == nil {
		data = New()
	}
	return &ArbCmd{Iface: iface, Oper: oper, Data: data}, nil
}

// Is reports whether the command's (iface, oper) pair matches, using
// case-sensitive comparison.
func (c *ArbCmd) Is(iface, oper string) bool {
	return c.Iface == iface && c.Oper == oper
}

// cmdEnvelope is the on-wire shape of an ArbCmd.
type cmdEnvelope struct {
	Iface    string `cbor:"iface"`
	Oper     string `cbor:"oper"`
	DataCBOR []byte `cbor:"data"`
}

// MarshalCBOR encodes c to its canonical CBOR wire form.
func (c *ArbCmd) MarshalCBOR() ([]byte, error) {
	data, err := c.Data.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(cmdEnvelope{Iface: c.Iface, Oper: c.Oper, DataCBOR: data})
}

// UnmarshalCBOR decodes b into c, replacing its prior contents.
func (c *ArbCmd) UnmarshalCBOR(b []byte) error {
	var env cmdEnvelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return err
	}
	data := New()
	if err := data.UnmarshalCBOR(env.DataCBOR); err != nil {
		return err
	}
	c.Iface, c.Oper, c.Data = env.Iface, env.Oper, data
	return nil
}

// ArbCmdQueue is an ordered, destructively-iterated sequence of ArbCmd.
type ArbCmdQueue struct {
	cmds   []*ArbCmd
	cursor int
}

// NewQueue returns an empty queue.
func NewQueue() *ArbCmdQueue {
	return &ArbCmdQueue{}
}

// Push appends a command to the queue.
func (q *ArbCmdQueue) Push(c *ArbCmd) {
	q.cmds = append(q.cmds, c)
}

// Len returns the number of commands remaining to be drained.
func (q *ArbCmdQueue) Len() int {
	return len(q.cmds) - q.cursor
}

// Next returns the next command and advances the cursor past it, or
// reports ok=false if the queue is drained. Iteration is destructive and
// monotone: a command cannot be revisited once returned.
func (q *ArbCmdQueue) Next() (c *ArbCmd, ok bool) {
	if q.cursor >= len(q.cmds) {
		return nil, false
	}
	c = q.cmds[q.cursor]
	q.cursor++
	return c, true
}

// MarshalCBOR encodes the queue's remaining (undrained) commands, in order.
func (q *ArbCmdQueue) MarshalCBOR() ([]byte, error) {
	remaining := q.cmds[q.cursor:]
	encoded := make([][]byte, len(remaining))
	for i, c := range remaining {
		b, err := c.MarshalCBOR()
		if err != nil {
			return nil, err
		}
		encoded[i] = b
	}
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(encoded)
}

// UnmarshalCBOR decodes b into a fresh queue, replacing q's prior contents.
func (q *ArbCmdQueue) UnmarshalCBOR(b []byte) error {
	var encoded [][]byte
	if err := cbor.Unmarshal(b, &encoded); err != nil {
		return err
	}
	cmds := make([]*ArbCmd, len(encoded))
	for i, eb := range encoded {
		c := &ArbCmd{}
		if err := c.UnmarshalCBOR(eb); err != nil {
			return err
		}
		cmds[i] = c
	}
	q.cmds, q.cursor = cmds, 0
	return nil
}
