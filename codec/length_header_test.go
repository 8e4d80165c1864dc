package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhihanii/zloop"
)

type fakeConn struct {
	sent     []string
	shutdown int
}

func (f *fakeConn) Name() string { return "fake" }

func (f *fakeConn) SendBuffer(buf *zloop.Buffer) {
	f.sent = append(f.sent, buf.RetrieveAllAsString())
}

func (f *fakeConn) Shutdown() { f.shutdown++ }

func TestDecodeFrames(t *testing.T) {
	var got []string
	c := NewLengthHeaderCodec(func(conn Conn, message string, receiveTime time.Time) {
		got = append(got, message)
	})
	conn := &fakeConn{}

	buf := zloop.NewBuffer()
	buf.AppendInt32(5)
	buf.AppendString("hello")
	buf.AppendInt32(0)
	buf.AppendInt32(5)
	buf.AppendString("wor")

	c.decode(conn, buf, time.Now())
	assert.Equal(t, []string{"hello", ""}, got)
	assert.Equal(t, 7, buf.ReadableBytes())

	buf.AppendString("ld")
	c.decode(conn, buf, time.Now())
	assert.Equal(t, []string{"hello", "", "world"}, got)
	assert.Equal(t, 0, buf.ReadableBytes())
	assert.Equal(t, 0, conn.shutdown)
}

func TestDecodeRejectsInvalidLength(t *testing.T) {
	for _, length := range []int32{MaxMessageLen + 1, 100000, -1} {
		called := false
		c := NewLengthHeaderCodec(func(Conn, string, time.Time) { called = true })
		conn := &fakeConn{}

		buf := zloop.NewBuffer()
		buf.AppendInt32(length)
		buf.AppendString("payload")

		c.decode(conn, buf, time.Now())
		assert.False(t, called, "length %d", length)
		assert.Equal(t, 1, conn.shutdown, "length %d", length)
	}
}

func TestDecodeMaxLength(t *testing.T) {
	var got string
	c := NewLengthHeaderCodec(func(conn Conn, message string, receiveTime time.Time) { got = message })
	conn := &fakeConn{}

	payload := make([]byte, MaxMessageLen)
	buf := zloop.NewBuffer()
	buf.AppendInt32(MaxMessageLen)
	buf.Append(payload)

	c.decode(conn, buf, time.Now())
	assert.Equal(t, MaxMessageLen, len(got))
	assert.Equal(t, 0, conn.shutdown)
}

func TestSend(t *testing.T) {
	c := NewLengthHeaderCodec(nil)
	conn := &fakeConn{}
	c.Send(conn, "hi")
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "\x00\x00\x00\x02hi", conn.sent[0])

	assert.ErrorIs(t, checkLength(-5), ErrInvalidLength)
	assert.NoError(t, checkLength(MaxMessageLen))
}
