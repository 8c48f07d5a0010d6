package wire

import (
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/a2535171138/rpcgo/buffer"
	"github.com/a2535171138/rpcgo/metrics"
)

func roundTrip(t *testing.T, env *Envelope) *Envelope {
	t.Helper()
	c := NewCodec(ChecksumCompat, nil, nil)
	out := buffer.New(64)
	c.Encode(env, out)
	got := c.Decode(out)
	if len(got) != 1 {
		t.Fatalf("decode returned %d envelopes, want 1", len(got))
	}
	return got[0]
}

func TestFramingRoundTrip(t *testing.T) {
	env := &Envelope{MsgID: "00000000000000000001", MethodName: "Order.makeOrder", ErrCode: 0, ErrInfo: "", Payload: []byte(`{"price":100}`)}
	got := roundTrip(t, env)
	if got.MsgID != env.MsgID || got.MethodName != env.MethodName || got.ErrCode != env.ErrCode || string(got.Payload) != string(env.Payload) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, env)
	}
	if !got.ParseSuccess {
		t.Fatal("expected ParseSuccess")
	}
}

func TestFramingRoundTripEmptyFields(t *testing.T) {
	env := &Envelope{}
	got := roundTrip(t, env)
	if !got.ParseSuccess || got.MsgID != "" || got.MethodName != "" || len(got.Payload) != 0 {
		t.Fatalf("empty-field round trip failed: %+v", got)
	}
}

func TestDecodeAcrossChunkedReads(t *testing.T) {
	c := NewCodec(ChecksumCompat, nil, nil)
	staging := buffer.New(8)
	env1 := &Envelope{MsgID: "1", MethodName: "A.b", Payload: []byte("hello")}
	env2 := &Envelope{MsgID: "2", MethodName: "A.c", Payload: []byte("world!!")}
	c.Encode(env1, staging)
	c.Encode(env2, staging)
	whole := append([]byte{}, staging.Bytes()...)

	// Feed the concatenated bytes into a fresh buffer in arbitrary chunk
	// sizes, and confirm the same two envelopes are decoded regardless of
	// chunking, per spec.md §8.
	for _, chunkSize := range []int{1, 3, 7, 1000} {
		in := buffer.New(4)
		var all []*Envelope
		for off := 0; off < len(whole); off += chunkSize {
			end := off + chunkSize
			if end > len(whole) {
				end = len(whole)
			}
			in.Write(whole[off:end])
			all = append(all, c.Decode(in)...)
		}
		if len(all) != 2 {
			t.Fatalf("chunkSize=%d: got %d envelopes, want 2", chunkSize, len(all))
		}
		if all[0].MsgID != "1" || all[1].MsgID != "2" {
			t.Fatalf("chunkSize=%d: wrong order/ids: %+v", chunkSize, all)
		}
	}
}

func TestFrameResyncSkipsJunkBeforeStart(t *testing.T) {
	collect := metrics.New(prometheus.NewRegistry())
	c := NewCodec(ChecksumCompat, nil, collect)
	staging := buffer.New(8)
	c.Encode(&Envelope{MsgID: "x", MethodName: "A.b", Payload: []byte("hi")}, staging)
	frame := append([]byte{}, staging.Bytes()...)

	in := buffer.New(8)
	in.Write([]byte{0x01, 0x05, 0x09}) // junk, no start byte
	in.Write(frame)

	got := c.Decode(in)
	if len(got) != 1 || got[0].MsgID != "x" {
		t.Fatalf("got %+v", got)
	}
	if in.ReadableBytes() != 0 {
		t.Fatalf("expected buffer fully drained, %d bytes remain", in.ReadableBytes())
	}
	if n := testutil.ToFloat64(collect.FramesResynced); n != 1 {
		t.Fatalf("FramesResynced = %v, want 1", n)
	}
}

func TestFrameResyncSpuriousStartByteNotConsumedPastItself(t *testing.T) {
	c := NewCodec(ChecksumCompat, nil, nil)
	in := buffer.New(32)
	// A spurious start byte whose length field does not land on 0x03.
	spurious := []byte{StartByte, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'} // byte at offset 4 (the length's low byte, 5) != 0x03
	in.Write(spurious)

	got := c.Decode(in)
	if len(got) != 0 {
		t.Fatalf("expected no envelopes from spurious frame, got %+v", got)
	}
	// nothing should have been consumed: the whole buffer is still there,
	// waiting for either more bytes or a correct resync.
	if in.ReadableBytes() != len(spurious) {
		t.Fatalf("expected %d bytes still buffered, got %d", len(spurious), in.ReadableBytes())
	}
}

func TestDecodeIncompleteFrameWaits(t *testing.T) {
	c := NewCodec(ChecksumCompat, nil, nil)
	staging := buffer.New(8)
	c.Encode(&Envelope{MsgID: "z", MethodName: "A.b", Payload: []byte("partial")}, staging)
	full := append([]byte{}, staging.Bytes()...)

	in := buffer.New(8)
	in.Write(full[:len(full)-3])
	if got := c.Decode(in); len(got) != 0 {
		t.Fatalf("expected no envelope from incomplete frame, got %+v", got)
	}
	in.Write(full[len(full)-3:])
	got := c.Decode(in)
	if len(got) != 1 || got[0].MsgID != "z" {
		t.Fatalf("got %+v after completing frame", got)
	}
}

func TestChecksumCRC32RoundTrip(t *testing.T) {
	c := NewCodec(ChecksumCRC32, nil, nil)
	out := buffer.New(32)
	env := &Envelope{MsgID: "1", MethodName: "A.b", Payload: []byte("payload")}
	c.Encode(env, out)
	got := c.Decode(out)
	if len(got) != 1 || !got[0].ParseSuccess {
		t.Fatalf("crc32 round trip failed: %+v", got)
	}
}

func TestChecksumCRC32DetectsCorruption(t *testing.T) {
	c := NewCodec(ChecksumCRC32, nil, nil)
	out := buffer.New(32)
	c.Encode(&Envelope{MsgID: "1", MethodName: "A.b", Payload: []byte("payload")}, out)
	raw := out.Bytes()
	raw[len(raw)-6] ^= 0xFF // corrupt a payload byte just before checksum+end
	got := c.Decode(out)
	if len(got) != 1 || got[0].ParseSuccess {
		t.Fatalf("expected ParseSuccess=false on corrupted payload, got %+v", got)
	}
}

func TestRandomPayloadsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := NewCodec(ChecksumCompat, nil, nil)
	for i := 0; i < 200; i++ {
		n := rng.Intn(256)
		payload := make([]byte, n)
		rng.Read(payload)
		env := &Envelope{MsgID: "m", MethodName: "S.m", Payload: payload}
		got := roundTrip(t, env)
		if string(got.Payload) != string(payload) {
			t.Fatalf("payload mismatch at n=%d", n)
		}
	}
}
