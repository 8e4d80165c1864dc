package zloop

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBufferAppendRetrieve(t *testing.T) {
	buf := NewBuffer()
	assert.Equal(t, 0, buf.ReadableBytes())
	assert.Equal(t, InitialSize, buf.WritableBytes())
	assert.Equal(t, CheapPrepend, buf.PrependableBytes())

	str := strings.Repeat("x", 200)
	buf.AppendString(str)
	assert.Equal(t, len(str), buf.ReadableBytes())
	assert.Equal(t, InitialSize-len(str), buf.WritableBytes())
	assert.Equal(t, CheapPrepend, buf.PrependableBytes())

	str2 := buf.RetrieveAsString(50)
	assert.Equal(t, 50, len(str2))
	assert.Equal(t, len(str)-len(str2), buf.ReadableBytes())
	assert.Equal(t, InitialSize-len(str), buf.WritableBytes())
	assert.Equal(t, CheapPrepend+len(str2), buf.PrependableBytes())

	buf.AppendString(str)
	assert.Equal(t, 2*len(str)-len(str2), buf.ReadableBytes())
	assert.Equal(t, InitialSize-2*len(str), buf.WritableBytes())

	str3 := buf.RetrieveAllAsString()
	assert.Equal(t, 350, len(str3))
	assert.Equal(t, 0, buf.ReadableBytes())
	assert.Equal(t, InitialSize, buf.WritableBytes())
	assert.Equal(t, CheapPrepend, buf.PrependableBytes())
}

func TestBufferGrow(t *testing.T) {
	buf := NewBuffer()
	buf.AppendString(strings.Repeat("y", 400))
	assert.Equal(t, 400, buf.ReadableBytes())
	assert.Equal(t, InitialSize-400, buf.WritableBytes())

	buf.Retrieve(50)
	assert.Equal(t, 350, buf.ReadableBytes())

	buf.AppendString(strings.Repeat("z", 1000))
	assert.Equal(t, 1350, buf.ReadableBytes())
	assert.Equal(t, CheapPrepend+50, buf.PrependableBytes())
	assert.GreaterOrEqual(t, buf.WritableBytes(), 0)

	buf.RetrieveAll()
	assert.Equal(t, 0, buf.ReadableBytes())
	assert.Equal(t, CheapPrepend, buf.PrependableBytes())
}

func TestBufferInsideGrow(t *testing.T) {
	buf := NewBuffer()
	buf.AppendString(strings.Repeat("y", 800))
	buf.Retrieve(500)
	assert.Equal(t, 300, buf.ReadableBytes())
	assert.Equal(t, InitialSize-800, buf.WritableBytes())
	assert.Equal(t, CheapPrepend+500, buf.PrependableBytes())

	// compaction reuses the consumed front instead of reallocating
	buf.AppendString(strings.Repeat("z", 300))
	assert.Equal(t, 600, buf.ReadableBytes())
	assert.Equal(t, InitialSize-600, buf.WritableBytes())
	assert.Equal(t, CheapPrepend, buf.PrependableBytes())
	assert.Equal(t, strings.Repeat("y", 300)+strings.Repeat("z", 300), string(buf.Peek()))
}

func TestBufferShrink(t *testing.T) {
	buf := NewBuffer()
	buf.AppendString(strings.Repeat("y", 2000))
	buf.Retrieve(1500)
	buf.Shrink(0)
	assert.Equal(t, 500, buf.ReadableBytes())
	assert.Equal(t, CheapPrepend, buf.PrependableBytes())
	assert.Equal(t, strings.Repeat("y", 500), buf.RetrieveAllAsString())
}

func TestBufferPrepend(t *testing.T) {
	buf := NewBuffer()
	buf.AppendString(strings.Repeat("y", 200))
	buf.PrependInt32(200)
	assert.Equal(t, 204, buf.ReadableBytes())
	assert.Equal(t, CheapPrepend-4, buf.PrependableBytes())
	assert.Equal(t, int32(200), buf.ReadInt32())
	assert.Equal(t, 200, buf.ReadableBytes())

	assert.Panics(t, func() { buf.Prepend(make([]byte, CheapPrepend+1)) })
}

func TestBufferInt32(t *testing.T) {
	buf := NewBuffer()
	buf.AppendInt32(-1)
	buf.AppendInt32(65536)
	assert.Equal(t, 8, buf.ReadableBytes())
	assert.Equal(t, int32(-1), buf.ReadInt32())
	assert.Equal(t, int32(65536), buf.PeekInt32())
	assert.Equal(t, []byte{0, 1, 0, 0}, buf.RetrieveAsBytes(4))
}

func TestBufferFindEOL(t *testing.T) {
	buf := NewBuffer()
	buf.AppendString("GET / HTTP/1.1\r\nHost: x\n")
	assert.Equal(t, 14, buf.FindCRLF())
	assert.Equal(t, 15, buf.FindEOL())
	buf.Retrieve(16)
	assert.Equal(t, -1, buf.FindCRLF())
	assert.Equal(t, 7, buf.FindEOL())
}

func TestBufferRelease(t *testing.T) {
	buf := NewBuffer()
	buf.AppendString("hello")
	buf.Release()
	assert.Equal(t, 0, buf.ReadableBytes())
	buf.AppendString("world")
	assert.Equal(t, "world", buf.RetrieveAllAsString())
}

func TestBufferReadFd(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload := []byte(strings.Repeat("a", 3000))
	n, err := unix.Write(fds[1], payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := NewBuffer()
	n, err = buf.ReadFd(fds[0])
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, string(payload), string(buf.Peek()))

	_, err = buf.ReadFd(fds[0])
	assert.ErrorIs(t, err, unix.EAGAIN)
}
