package wire

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/a2535171138/rpcgo/buffer"
	"github.com/a2535171138/rpcgo/metrics"
	"github.com/sirupsen/logrus"
)

// Codec converts between buffered bytes and decoded Envelope records, per
// spec.md §4.4. It is stateless except for its checksum mode and is safe
// to share across connections.
type Codec struct {
	Checksum ChecksumMode
	Log      logrus.FieldLogger
	Collect  *metrics.Collectors
}

// NewCodec builds a Codec. A nil logger falls back to a no-output
// logrus.Logger, matching the "Sink is optional" nil-safety rule in
// SPEC_FULL.md §8. collect may be nil; every Collectors method tolerates
// that.
func NewCodec(mode ChecksumMode, log logrus.FieldLogger, collect *metrics.Collectors) *Codec {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Codec{Checksum: mode, Log: log, Collect: collect}
}

// Encode serializes one envelope's wire form and appends it to out.
func (c *Codec) Encode(env *Envelope, out *buffer.ByteBuffer) {
	reqID := []byte(env.MsgID)
	method := []byte(env.MethodName)
	errInfo := []byte(env.ErrInfo)

	pkLen := markerBytes + headerFieldCount*fieldWidth + len(reqID) + len(method) + len(errInfo) + len(env.Payload)

	frame := make([]byte, pkLen)
	frame[0] = StartByte
	off := 1
	putU32(frame[off:], uint32(pkLen))
	off += fieldWidth
	putU32(frame[off:], uint32(len(reqID)))
	off += fieldWidth
	off += copy(frame[off:], reqID)
	putU32(frame[off:], uint32(len(method)))
	off += fieldWidth
	off += copy(frame[off:], method)
	putU32(frame[off:], uint32(env.ErrCode))
	off += fieldWidth
	putU32(frame[off:], uint32(len(errInfo)))
	off += fieldWidth
	off += copy(frame[off:], errInfo)
	off += copy(frame[off:], env.Payload)

	checksumStart := 5 // right after start byte + pk_len
	var checksum uint32 = 1
	if c.Checksum == ChecksumCRC32 {
		checksum = crc32.ChecksumIEEE(frame[checksumStart:off])
	}
	putU32(frame[off:], checksum)
	off += fieldWidth
	frame[off] = EndByte

	out.Write(frame)
}

// Decode scans in.Bytes() for as many complete envelopes as are
// available, advancing in's read index past each one it consumes. An
// incomplete trailing frame is left in the buffer for the next call, per
// spec.md §4.4/§8 (frame resynchronization and chunk-independence).
func (c *Codec) Decode(in *buffer.ByteBuffer) []*Envelope {
	var out []*Envelope
	for {
		env, consumed := c.decodeOne(in)
		if consumed == 0 {
			return out
		}
		if err := in.MoveReadIndex(consumed); err != nil {
			c.Log.Errorf("wire: move read index: %v", err)
			return out
		}
		if env != nil {
			out = append(out, env)
		}
	}
}

// decodeOne attempts to decode a single frame from the head of in's
// readable region. It returns (nil, 0) if no complete frame is present
// yet. It returns (env, n) where n is the number of bytes to advance the
// read index by — this is true even when env.ParseSuccess is false,
// since a malformed frame still has a known length and must be skipped
// rather than retried.
func (c *Codec) decodeOne(in *buffer.ByteBuffer) (*Envelope, int) {
	data := in.Bytes()
	for i := 0; i < len(data); i++ {
		if data[i] != StartByte {
			continue
		}
		if i+fieldWidth+1 > len(data) {
			// not enough bytes yet even for the length field
			return nil, 0
		}
		pkLen := int(binary.BigEndian.Uint32(data[i+1 : i+1+fieldWidth]))
		if pkLen <= 0 {
			continue // false positive start byte
		}
		end := i + pkLen - 1
		if end >= len(data) {
			// frame incomplete, wait for more bytes
			return nil, 0
		}
		if data[end] != EndByte {
			// false positive: this 0x02 was not a real frame start
			continue
		}
		if i > 0 {
			c.Collect.IncFramesResynced()
		}
		env := c.parseFrame(data[i:end+1], pkLen)
		// consumed counts from the head of data (the current read index),
		// so any non-start junk bytes before i are skipped along with
		// the frame itself rather than left to be rescanned forever.
		return env, end + 1
	}
	return nil, 0
}

// parseFrame decodes the fields of a complete, bounds-known frame
// (header-to-end-byte inclusive, exactly pkLen bytes, starting with
// StartByte). On any length field that would run past the frame, it
// returns ParseSuccess=false per spec.md §4.4.
func (c *Codec) parseFrame(frame []byte, pkLen int) *Envelope {
	env := &Envelope{}
	off := 1 + fieldWidth // skip start byte + pk_len

	readLenPrefixed := func() ([]byte, bool) {
		if off+fieldWidth > pkLen-1 {
			return nil, false
		}
		n := int(binary.BigEndian.Uint32(frame[off : off+fieldWidth]))
		off += fieldWidth
		if n < 0 || off+n > pkLen-1 {
			return nil, false
		}
		b := frame[off : off+n]
		off += n
		return b, true
	}

	reqID, ok := readLenPrefixed()
	if !ok {
		c.Log.Errorf("wire: decode: req_id field out of bounds")
		return env
	}
	env.MsgID = string(reqID)

	method, ok := readLenPrefixed()
	if !ok {
		c.Log.Errorf("wire: decode: method_name field out of bounds")
		return env
	}
	env.MethodName = string(method)

	if off+fieldWidth > pkLen-1 {
		c.Log.Errorf("wire: decode: err_code field out of bounds")
		return env
	}
	env.ErrCode = int32(binary.BigEndian.Uint32(frame[off : off+fieldWidth]))
	off += fieldWidth

	errInfo, ok := readLenPrefixed()
	if !ok {
		c.Log.Errorf("wire: decode: err_info field out of bounds")
		return env
	}
	env.ErrInfo = string(errInfo)

	// payload runs from here to pkLen - fieldWidth(checksum) - 1(end byte)
	payloadEnd := pkLen - fieldWidth - 1
	if payloadEnd < off {
		c.Log.Errorf("wire: decode: payload region negative")
		return env
	}
	payload := make([]byte, payloadEnd-off)
	copy(payload, frame[off:payloadEnd])
	env.Payload = payload
	off = payloadEnd

	checksum := binary.BigEndian.Uint32(frame[off : off+fieldWidth])
	if c.Checksum == ChecksumCRC32 {
		want := crc32.ChecksumIEEE(frame[5:off])
		if checksum != want {
			c.Log.Errorf("wire: decode: checksum mismatch msg_id=%s", env.MsgID)
			return env
		}
	}

	env.ParseSuccess = true
	return env
}

func putU32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}
