package zloop

import (
	"bytes"
	"encoding/binary"

	"github.com/bytedance/gopkg/lang/mcache"
	"golang.org/x/sys/unix"
)

const (
	// CheapPrepend is the reserve kept in front of the readable region.
	CheapPrepend = 8
	// InitialSize is the default writable size of a new Buffer.
	InitialSize = 1024

	extraBufSize = 64 * 1024
)

var crlf = []byte("\r\n")

// Buffer is a growable byte container with cheap prepend.
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	|                   |     (CONTENT)    |                  |
//	+-------------------+------------------+------------------+
//	|                   |                  |                  |
//	0      <=      readerIndex   <=   writerIndex    <=     len(buf)
//
// A Buffer is not safe for concurrent use, it belongs to the loop of its connection.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

func NewBuffer() *Buffer {
	return NewBufferSize(InitialSize)
}

func NewBufferSize(initialSize int) *Buffer {
	return &Buffer{
		buf:         mcache.Malloc(CheapPrepend + initialSize),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

func (b *Buffer) ReadableBytes() int {
	return b.writerIndex - b.readerIndex
}

func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writerIndex
}

func (b *Buffer) PrependableBytes() int {
	return b.readerIndex
}

// Cap returns the size of the backing storage.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Peek returns the readable region without consuming it.
// The slice is only valid until the next mutation of b.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// FindCRLF returns the offset of the first "\r\n" in the readable region, or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindEOL returns the offset of the first '\n' in the readable region, or -1.
func (b *Buffer) FindEOL() int {
	return bytes.IndexByte(b.Peek(), '\n')
}

func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsBytes consumes n bytes and returns a copy of them.
func (b *Buffer) RetrieveAsBytes(n int) []byte {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	p := make([]byte, n)
	copy(p, b.buf[b.readerIndex:])
	b.Retrieve(n)
	return p
}

func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	b.writerIndex += copy(b.buf[b.writerIndex:], p)
}

func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.writerIndex += copy(b.buf[b.writerIndex:], s)
}

// AppendInt32 appends x in network byte order.
func (b *Buffer) AppendInt32(x int32) {
	b.EnsureWritable(4)
	binary.BigEndian.PutUint32(b.buf[b.writerIndex:], uint32(x))
	b.writerIndex += 4
}

// PeekInt32 reads a network byte order int32 without consuming it.
// Requires ReadableBytes() >= 4.
func (b *Buffer) PeekInt32() int32 {
	return int32(binary.BigEndian.Uint32(b.buf[b.readerIndex:]))
}

func (b *Buffer) ReadInt32() int32 {
	x := b.PeekInt32()
	b.Retrieve(4)
	return x
}

// Prepend writes p just in front of the readable region.
// It panics if p does not fit in the prependable area.
func (b *Buffer) Prepend(p []byte) {
	if len(p) > b.PrependableBytes() {
		panic("zloop: prepend exceeds reserved space")
	}
	b.readerIndex -= len(p)
	copy(b.buf[b.readerIndex:], p)
}

func (b *Buffer) PrependInt32(x int32) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(x))
	b.Prepend(hdr[:])
}

func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// Shrink reallocates the backing storage to hold the readable bytes plus reserve extra bytes.
func (b *Buffer) Shrink(reserve int) {
	nb := mcache.Malloc(CheapPrepend + b.ReadableBytes() + reserve)
	n := copy(nb[CheapPrepend:], b.Peek())
	b.free()
	b.buf = nb
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend + n
}

// Release returns the backing storage to the allocator. The Buffer stays usable.
func (b *Buffer) Release() {
	b.free()
	b.buf = nil
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

// ReadFd reads from fd directly into the buffer with a single readv(2).
// Data that does not fit the writable tail lands in a 64KiB scratch area and is appended.
func (b *Buffer) ReadFd(fd int) (n int, err error) {
	b.EnsureWritable(0)
	writable := b.WritableBytes()
	iovs := [][]byte{b.buf[b.writerIndex:]}
	var extra []byte
	if writable < extraBufSize {
		extra = mcache.Malloc(extraBufSize)
		defer mcache.Free(extra)
		iovs = append(iovs, extra)
	}
	n, err = unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

func (b *Buffer) makeSpace(n int) {
	if b.buf == nil {
		b.buf = mcache.Malloc(CheapPrepend + max(n, InitialSize))
		return
	}
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		nb := mcache.Malloc(b.writerIndex + n)
		copy(nb, b.buf[:b.writerIndex])
		b.free()
		b.buf = nb
		return
	}
	// move readable data to the front
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = CheapPrepend
	b.writerIndex = b.readerIndex + readable
}

func (b *Buffer) free() {
	if cap(b.buf) > 0 {
		mcache.Free(b.buf)
	}
}
