// Package frame provides the append-only, cursor-free byte buffer that the
// inbound protocol handlers use to accumulate client bytes and peel off
// complete frames as they arrive.
package frame

import "bytes"

// Buffer accumulates bytes appended by repeated Conn.Read calls and lets a
// handshake parser peek at or consume a prefix without copying the
// unconsumed remainder on every call. It is a grow-only store with a
// consumed-prefix index rather than a ring: handshake payloads are a few
// hundred bytes at most, so the occasional compaction in Consume is cheap
// and a GC-friendly slice beats pointer bookkeeping for this size.
//
// A Buffer is owned by exactly one connection's goroutine and is not safe
// for concurrent use.
type Buffer struct {
	data []byte
	off  int // index of the first unconsumed byte
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds p to the end of the unconsumed data. The passed slice is
// copied; callers may reuse it immediately.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.data = append(b.data, p...)
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.off
}

// Peek returns the first n unconsumed bytes without removing them. The
// second return value is false if fewer than n bytes are currently
// buffered; callers should wait for more data and retry. The returned
// slice aliases the buffer's storage and is only valid until the next
// Append or Consume call.
func (b *Buffer) Peek(n int) ([]byte, bool) {
	if n < 0 {
		return nil, false
	}
	if b.Len() < n {
		return nil, false
	}
	return b.data[b.off : b.off+n], true
}

// Consume discards the first n unconsumed bytes. It panics if n exceeds
// Len, which would indicate a parser bug (consuming bytes it was never
// shown via Peek).
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic("frame: Consume past end of buffer")
	}
	b.off += n
	// Compact once everything is consumed or the consumed prefix exceeds
	// 4096 bytes, so the backing array
	// doesn't grow unboundedly across a long-lived connection that never
	// reaches splice mode.
	if b.off > 0 && (b.off == len(b.data) || b.off > 4096) {
		remaining := len(b.data) - b.off
		copy(b.data, b.data[b.off:])
		b.data = b.data[:remaining]
		b.off = 0
	}
}

// Find returns the index of the first occurrence of delim within the
// unconsumed data, or -1 if delim has not fully arrived yet.
func (b *Buffer) Find(delim []byte) int {
	return bytes.Index(b.data[b.off:], delim)
}

// SplitAt returns the unconsumed data split into a head of length n and
// the remaining tail, without consuming either. n must not exceed Len.
func (b *Buffer) SplitAt(n int) (head, tail []byte) {
	if n < 0 || n > b.Len() {
		panic("frame: SplitAt past end of buffer")
	}
	start := b.off
	return b.data[start : start+n], b.data[start+n:]
}

// Bytes returns all unconsumed bytes. The returned slice aliases the
// buffer's storage and is only valid until the next Append or Consume.
func (b *Buffer) Bytes() []byte {
	return b.data[b.off:]
}

// Drain returns a copy of all unconsumed bytes and empties the buffer.
// Used when a handler hands its backlog to the outbound side and wants to
// stop holding onto it.
func (b *Buffer) Drain() []byte {
	if b.Len() == 0 {
		b.data = nil
		b.off = 0
		return nil
	}
	out := make([]byte, b.Len())
	copy(out, b.data[b.off:])
	b.data = nil
	b.off = 0
	return out
}
