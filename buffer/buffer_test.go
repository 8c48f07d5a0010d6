package buffer

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(8)
	b.Write([]byte("hello"))
	if b.ReadableBytes() != 5 {
		t.Fatalf("readable = %d, want 5", b.ReadableBytes())
	}
	dst := make([]byte, 5)
	n := b.Read(dst, 5)
	if n != 5 || string(dst) != "hello" {
		t.Fatalf("read = %d %q", n, dst)
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("readable after full read = %d", b.ReadableBytes())
	}
}

func TestGrowsOnOverflow(t *testing.T) {
	b := New(4)
	payload := bytes.Repeat([]byte("x"), 100)
	b.Write(payload)
	if b.ReadableBytes() != len(payload) {
		t.Fatalf("readable = %d, want %d", b.ReadableBytes(), len(payload))
	}
	if b.Capacity() < len(payload) {
		t.Fatalf("capacity %d did not grow to fit %d", b.Capacity(), len(payload))
	}
}

func TestCompactionThreshold(t *testing.T) {
	b := New(30)
	b.Write(bytes.Repeat([]byte("a"), 20))
	dst := make([]byte, 11)
	b.Read(dst, 11) // readIndex=11 >= 30/3=10 -> compacts
	if b.ReadIndex() != 0 {
		t.Fatalf("expected compaction to reset read index, got %d", b.ReadIndex())
	}
	if b.ReadableBytes() != 9 {
		t.Fatalf("readable after compaction = %d, want 9", b.ReadableBytes())
	}
}

func TestMoveIndicesBoundsChecked(t *testing.T) {
	b := New(4)
	if err := b.MoveWriteIndex(10); err == nil {
		t.Fatal("expected out-of-range MoveWriteIndex to error")
	}
	if err := b.MoveReadIndex(-1); err == nil {
		t.Fatal("expected negative MoveReadIndex to error")
	}
}

// TestInvariantsUnderRandomOps exercises the testable property from
// spec.md §8: 0 <= readIndex <= writeIndex <= capacity, and
// sum(writes) - sum(reads) == readable, across arbitrary op sequences.
func TestInvariantsUnderRandomOps(t *testing.T) {
	b := New(16)
	var written, read int
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		switch rng.Intn(3) {
		case 0:
			n := rng.Intn(50) + 1
			b.Write(bytes.Repeat([]byte{byte(n)}, n))
			written += n
		case 1:
			n := rng.Intn(50) + 1
			dst := make([]byte, n)
			got := b.Read(dst, n)
			read += got
		case 2:
			b.EnsureWritable(rng.Intn(64))
		}
		if b.ReadIndex() < 0 || b.ReadIndex() > b.WriteIndex() || b.WriteIndex() > b.Capacity() {
			t.Fatalf("invariant violated: read=%d write=%d cap=%d", b.ReadIndex(), b.WriteIndex(), b.Capacity())
		}
		if written-read != b.ReadableBytes() {
			t.Fatalf("written-read=%d readable=%d mismatch", written-read, b.ReadableBytes())
		}
	}
}
