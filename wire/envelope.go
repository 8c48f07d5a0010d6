// Package wire implements the length-delimited binary envelope described
// in spec.md §4.4/§6: a start byte, a four-byte total length, a set of
// length-prefixed fields, and an end byte.
package wire

const (
	// StartByte marks the beginning of an envelope.
	StartByte byte = 0x02
	// EndByte marks the end of an envelope.
	EndByte byte = 0x03

	// headerFieldCount is the number of 4-byte fields in the envelope
	// besides the variable-length payloads: pk_len, req_id_len,
	// method_name_len, err_code, err_info_len, checksum.
	headerFieldCount = 6
	fieldWidth       = 4
	// markerBytes counts the leading start byte and trailing end byte.
	markerBytes = 2
)

// ChecksumMode selects how the reserved checksum field is produced and
// verified. spec.md §4.4 leaves this as a placeholder (the constant 1,
// unverified); SPEC_FULL.md §9 decides CRC32 is the real implementation
// while keeping the constant-1 mode for wire compatibility with peers
// that still emit it.
type ChecksumMode int

const (
	// ChecksumCompat writes the constant 1 and never verifies, matching
	// the original placeholder behavior. This is the default, since
	// spec.md requires staying wire-compatible with peers that emit it.
	ChecksumCompat ChecksumMode = iota
	// ChecksumCRC32 computes and verifies a CRC32-IEEE checksum over the
	// header fields and payload.
	ChecksumCRC32
)

// Envelope is one decoded frame: a request or response record carried
// over the wire, per spec.md §3/§6.
type Envelope struct {
	MsgID        string
	MethodName   string
	ErrCode      int32
	ErrInfo      string
	Payload      []byte
	ParseSuccess bool
}

// NewRequest builds an outgoing request envelope for msgID/method with
// an already-serialized payload.
func NewRequest(msgID, method string, payload []byte) *Envelope {
	return &Envelope{MsgID: msgID, MethodName: method, Payload: payload, ParseSuccess: true}
}

// NewResponse builds a response envelope that carries the same MsgID and
// MethodName as the request it answers, per spec.md §4.9.
func NewResponse(req *Envelope) *Envelope {
	return &Envelope{MsgID: req.MsgID, MethodName: req.MethodName, ParseSuccess: true}
}
