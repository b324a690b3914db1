// Package ofp defines the typed OpenFlow 1.3 message surface the Agent
// binds to. It stands in for the wire encoder/decoder library the design
// assumes is available externally: these are the shapes such a library
// would hand back, not a byte-level codec.
package ofp

// Xid is a per-connection transaction id stamped on every outgoing
// message and echoed in its reply.
type Xid uint32

// Wildcard values that single-item queries must reject.
const (
	PortAny  uint32 = 0xffffffff // OFPP_ANY
	QueueAll uint32 = 0xffffffff // OFPQ_ALL
	GroupAll uint32 = 0xfffffffc // OFPG_ALL
	MeterAll uint32 = 0xffffffff // OFPM_ALL
)

// TableAll selects every table in a flow-stats selector's TableID field,
// as opposed to restricting the request to one table.
const TableAll uint8 = 0xff // OFPTT_ALL

// Reserved port numbers relevant to link discovery's port enumeration.
const (
	PortMax  uint32 = 0xffffff00 // OFPP_MAX: highest valid physical port number
	PortLocal uint32 = 0xfffffffe // OFPP_LOCAL: switch's local (management) port
)

// Connection is the collaborator the Agent sends through and checks
// liveness on. A concrete implementation owns the physical socket and the
// wire codec; both are out of scope here.
type Connection interface {
	// Send transmits msg stamped with xid. Implementations may surface a
	// delivery failure asynchronously through other means; Send only
	// reports synchronous failures (e.g. a write that fails immediately).
	Send(xid Xid, msg any) error
	// Alive reports whether the connection can currently accept sends.
	Alive() bool
}

// --- single-shot reply payloads ---

// SwitchConfig is the reply to a get-config request.
type SwitchConfig struct {
	Flags       uint16
	MissSendLen uint16
}

// SwitchDesc is the reply to a switch-description request.
type SwitchDesc struct {
	MfrDesc   string
	HWDesc    string
	SWDesc    string
	SerialNum string
	DPDesc    string
}

// Role is the reply to a role request.
type Role struct {
	Role         uint32
	GenerationID uint64
}

// MeterFeatures is the reply to a meter-features request.
type MeterFeatures struct {
	MaxMeter     uint32
	BandTypes    uint32
	Capabilities uint32
	MaxBands     uint8
	MaxColor     uint8
}

// FlowAggregate is the reply to a flow-aggregate-stats request.
type FlowAggregate struct {
	PacketCount uint64
	ByteCount   uint64
	FlowCount   uint32
}

// --- multipart item payloads ---

// PortDesc describes one switch port.
type PortDesc struct {
	PortNo uint32
	HWAddr [6]byte
	Name   string
}

// PortStats carries per-port counters.
type PortStats struct {
	PortNo   uint32
	RxPacket uint64
	TxPacket uint64
	RxBytes  uint64
	TxBytes  uint64
}

// QueueStats carries per-queue counters.
type QueueStats struct {
	PortNo   uint32
	QueueID  uint32
	TxBytes  uint64
	TxPacket uint64
}

// FlowStats carries a single flow entry's counters and match.
type FlowStats struct {
	TableID      uint8
	Priority     uint16
	Cookie       uint64
	PacketCount  uint64
	ByteCount    uint64
	DurationSec  uint32
	DurationNSec uint32
}

// GroupDesc describes a group's buckets.
type GroupDesc struct {
	GroupID uint32
	Type    uint8
}

// GroupStats carries a single group's counters.
type GroupStats struct {
	GroupID     uint32
	RefCount    uint32
	PacketCount uint64
	ByteCount   uint64
}

// TableStats carries a single table's counters.
type TableStats struct {
	TableID      uint8
	ActiveCount  uint32
	LookupCount  uint64
	MatchedCount uint64
}

// MeterStats carries a single meter's counters.
type MeterStats struct {
	MeterID     uint32
	FlowCount   uint32
	PacketCount uint64
	ByteCount   uint64
}

// MeterConfig describes a single meter's configured bands.
type MeterConfig struct {
	MeterID uint32
	Flags   uint16
}

// --- requests (outgoing) ---

// FlowMod installs or removes a flow entry.
type FlowMod struct {
	Cookie   uint64
	TableID  uint8
	Priority uint16
	Command  uint8

	// MatchEthType, when nonzero, restricts the entry to frames of this
	// ethertype; link discovery uses it to match the beacon ethertype.
	MatchEthType uint16

	// IdleTimeout and HardTimeout are both zero for an entry meant to
	// live until explicitly removed.
	IdleTimeout uint16
	HardTimeout uint16

	// ControllerAction, when set, is an output-to-controller instruction
	// with MaxLen bytes of the packet copied (OFPCMLNoBuffer sends the
	// whole frame and buffers nothing at the switch).
	ControllerAction bool
	ControllerMaxLen uint16
}

// OFPCMLNoBuffer requests the full packet with no switch-side buffering.
const OFPCMLNoBuffer uint16 = 0xffff

// GroupMod installs, modifies, or removes a group.
type GroupMod struct {
	GroupID uint32
	Type    uint8
	Command uint8
}

// MeterMod installs, modifies, or removes a meter.
type MeterMod struct {
	MeterID uint32
	Command uint8
}

// Barrier is the explicit synchronization request: every message sent
// before it is processed before the switch answers it.
type Barrier struct{}

// Error is the protocol-level refusal the switch sends in place of a
// normal reply.
type Error struct {
	Type uint16
	Code uint16
}

// --- packet in/out ---

// PacketAction is one action applied to a packet a PacketOut emits. The
// closed set is Output and SetQueue; implementations are marked with an
// unexported method so no other package can add a third variant.
type PacketAction interface {
	isPacketAction()
}

// Output emits the packet out of Port.
type Output struct{ Port uint32 }

func (Output) isPacketAction() {}

// SetQueue selects QueueID for the subsequent Output action.
type SetQueue struct{ QueueID uint32 }

func (SetQueue) isPacketAction() {}

// PacketOut injects a packet out of one or more switch ports. Used by
// link discovery to emit beacon frames; it never expects a reply and is
// sent outside the Agent's session table under a caller-chosen xid.
type PacketOut struct {
	Data    []byte
	InPort  uint32
	Actions []PacketAction
}

// PacketIn is a packet punted to the controller, e.g. a reflected beacon.
type PacketIn struct {
	DPID   uint64
	InPort uint32
	Data   []byte
}
