package wire

// VersionHandshake is the first frame exchanged on every connection. A
// major mismatch is fatal to the connection.
type VersionHandshake struct {
	Major uint32 `cbor:"major"`
	Minor uint32 `cbor:"minor"`
}

// ProtocolMajor and ProtocolMinor identify this runtime's wire version.
const (
	ProtocolMajor = 1
	ProtocolMinor = 0
)

// Gatestream payloads (§4.5). ArbData/Gate/MeasurementSet values are
// carried as pre-encoded CBOR blobs produced by the arbdata/quantum
// packages' own MarshalCBOR methods, so this package stays agnostic of
// their Go representation.

type AllocateReq struct {
	Count       uint32 `cbor:"count"`
	InitCmdCBOR []byte `cbor:"init_cmds"`
}

type AllocateResp struct {
	Qubits []uint64 `cbor:"qubits"`
}

type FreeReq struct {
	Qubits []uint64 `cbor:"qubits"`
}

type FreeResp struct{}

type GateReq struct {
	GateCBOR []byte `cbor:"gate"`
}

type GateResp struct {
	MeasurementsCBOR []byte `cbor:"measurements"`
}

type AdvanceReq struct {
	Cycles uint64 `cbor:"cycles"`
}

type AdvanceResp struct {
	NewCycleCount uint64 `cbor:"new_cycle_count"`
}

type UpstreamArbReq struct {
	CmdCBOR []byte `cbor:"cmd"`
}

type UpstreamArbResp struct {
	DataCBOR []byte `cbor:"data"`
}

// Host channel payloads (§4.6).

type StartReq struct {
	ArgCBOR []byte `cbor:"arg"`
}

type StartResp struct{}

type WaitReq struct{}

type WaitResp struct {
	DataCBOR []byte `cbor:"data"`
}

type SendReq struct {
	DataCBOR []byte `cbor:"data"`
}

type SendResp struct{}

type RecvReq struct{}

type RecvResp struct {
	DataCBOR []byte `cbor:"data"`
}

type HostArbReq struct {
	Plugin  string `cbor:"plugin"`
	CmdCBOR []byte `cbor:"cmd"`
}

type HostArbResp struct {
	DataCBOR []byte `cbor:"data"`
}

type YieldReq struct{}

type YieldResp struct{}

// InitializeReq is sent downstream-first during the controller's initialize
// phase. SimSeed and PluginIndex are delivered here, rather than on the
// command line, so the plugin can derive its two PRNG streams before its
// first callback runs.
type InitializeReq struct {
	InitCmdsCBOR [][]byte `cbor:"init_cmds"`
	SimSeed      uint64   `cbor:"sim_seed"`
	PluginIndex  int      `cbor:"plugin_index"`
}

type InitializeResp struct{}

// DropReq instructs a plugin to run its drop callback and exit, sent
// downstream-first during the controller's drop phase.
type DropReq struct{}

type DropResp struct{}

// ErrorResp carries a classified failure back to the peer that issued the
// request named by the enclosing Frame.RequestID.
type ErrorResp struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
}

// MeasurementEvent is an unsolicited frame (RequestID == 0) carrying
// measurements a gate request answered asynchronously: the downstream
// peer's response to the gate request it came from already returned
// (possibly empty), and this frame delivers the modify_measurement
// result out of band once it is actually known.
type MeasurementEvent struct {
	MeasurementsCBOR []byte `cbor:"measurements"`
}

// LogEvent is an unsolicited frame (RequestID == 0) carrying one log
// record toward the controller's sink.
type LogEvent struct {
	Message    string `cbor:"message"`
	LoggerName string `cbor:"logger_name"`
	Severity   string `cbor:"severity"`
	Module     string `cbor:"module"`
	File       string `cbor:"file"`
	Line       int    `cbor:"line"`
	UnixNano   int64  `cbor:"unix_nano"`
	Pid        int    `cbor:"pid"`
	Tid        int64  `cbor:"tid"`
}
