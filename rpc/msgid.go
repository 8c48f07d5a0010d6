//go:build linux

package rpc

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// msgIDLength is the fixed decimal-digit block length, per spec.md
// §4.8.
const msgIDLength = 20

// idGenState is one OS thread's message-identifier generator state:
// the current identifier and the block's maximum (all-nines), per
// spec.md §4.8.
type idGenState struct {
	current [msgIDLength]byte
	max     [msgIDLength]byte
}

var (
	idGenMu     sync.Mutex
	idGenStates = map[int]*idGenState{}
)

// NextMsgID returns the next message identifier for the calling OS
// thread, per spec.md §4.8: on first use, or once the current block is
// exhausted, a fresh 20-digit block is sampled from an entropy source;
// otherwise the current identifier is incremented lexically (trailing
// '9's carry to '0', the first non-'9' digit is bumped).
//
// Entropy is sourced via google/uuid rather than opening /dev/urandom
// directly (DESIGN.md), since uuid.New already wraps crypto/rand with
// the corpus's preferred entropy library.
func NextMsgID() string {
	tid := unix.Gettid()

	idGenMu.Lock()
	defer idGenMu.Unlock()

	st, ok := idGenStates[tid]
	if !ok {
		st = &idGenState{}
		seedBlock(st)
		idGenStates[tid] = st
		return string(st.current[:])
	}
	if st.current == st.max {
		seedBlock(st)
		return string(st.current[:])
	}
	incrementBlock(&st.current)
	return string(st.current[:])
}

// seedBlock draws msgIDLength bytes of entropy (two UUIDs concatenated,
// truncated), maps each byte modulo 10 to an ASCII digit, and sets the
// block's maximum to all-nines.
func seedBlock(st *idGenState) {
	var entropy [32]byte
	a := uuid.New()
	b := uuid.New()
	copy(entropy[0:16], a[:])
	copy(entropy[16:32], b[:])

	for i := 0; i < msgIDLength; i++ {
		st.current[i] = '0' + entropy[i]%10
		st.max[i] = '9'
	}
}

// incrementBlock adds one to the decimal digit string in place,
// carrying trailing '9's to '0' and bumping the first non-'9' digit
// from the right.
func incrementBlock(id *[msgIDLength]byte) {
	for i := msgIDLength - 1; i >= 0; i-- {
		if id[i] != '9' {
			id[i]++
			return
		}
		id[i] = '0'
	}
}
