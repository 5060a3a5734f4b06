package crypto

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// secureEraseNoop keeps the compiler from proving the cleared buffer unused.
var secureEraseNoop atomic.Uint64

// SecureErase overwrites b with zeros.
//
// Remnants of the data may still exist in registers, caches or swap; this
// only guarantees the slice itself is cleared.
func SecureErase(b []byte) {
	if len(b) == 0 {
		return
	}

	p := unsafe.Pointer(&b[0])
	for i := 0; i < len(b); i++ {
		*(*byte)(unsafe.Add(p, i)) = 0
	}
	runtime.KeepAlive(b)

	var sum uint64
	for _, v := range b {
		sum += uint64(v)
	}
	secureEraseNoop.Add(sum)
}

// SecretKey owns secret key material (an x25519 scalar or a derived shared
// secret) and erases it on Close.
type SecretKey struct {
	data   []byte
	closed bool
}

// NewSecretKey takes ownership of data; the slice is cleared on Close.
func NewSecretKey(data []byte) *SecretKey {
	return &SecretKey{data: data}
}

// NewSecretKeyWithCopy wraps a private copy of data.
func NewSecretKeyWithCopy(data []byte) *SecretKey {
	copied := make([]byte, len(data))
	copy(copied, data)
	return &SecretKey{data: copied}
}

// Data returns the key bytes, or nil once closed.
func (sk *SecretKey) Data() []byte {
	if sk.IsClosed() {
		return nil
	}
	return sk.data
}

// Len returns the key length, or 0 once closed.
func (sk *SecretKey) Len() int {
	if sk.IsClosed() {
		return 0
	}
	return len(sk.data)
}

// Close erases the key. It is safe to call more than once.
func (sk *SecretKey) Close() {
	if sk.IsClosed() {
		return
	}
	SecureErase(sk.data)
	sk.data = nil
	sk.closed = true
}

// IsClosed reports whether the key has been erased.
func (sk *SecretKey) IsClosed() bool {
	return sk == nil || sk.closed
}
