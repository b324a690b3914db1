package ofp

// ReplyKind tags the shape of an incoming reply so the Agent can dispatch
// on a single closed set of handlers instead of a type switch over every
// possible wire message.
type ReplyKind int

const (
	// ReplyError is a protocol-level error carrying the failed request's xid.
	ReplyError ReplyKind = iota
	ReplyBarrier
	ReplySwitchConfig
	ReplySwitchDesc
	ReplyRole
	ReplyMeterFeatures
	ReplyFlowAggregate
	ReplyPortDesc
	ReplyPortStats
	ReplyQueueStats
	ReplyFlowStats
	ReplyGroupDesc
	ReplyGroupStats
	ReplyTableStats
	ReplyMeterStats
	ReplyMeterConfig
)

// Reply is the inbound message shape the Agent's receive handler
// dispatches on. For single-shot kinds, Payload carries the one typed
// value. For multipart kinds, Items carries this frame's items and More
// indicates whether further frames will follow with the same xid.
type Reply struct {
	Xid  Xid
	Kind ReplyKind

	// Single-shot payload (SwitchConfig, SwitchDesc, Role, MeterFeatures,
	// FlowAggregate). Unused for multipart kinds, which carry Items.
	Payload any

	// Multipart-only fields.
	More  bool
	Items []any

	// Error-only fields.
	ErrType uint16
	ErrCode uint16
}
