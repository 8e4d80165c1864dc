// Package codec frames messages on a zloop connection with a 4-byte length header.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/zhihanii/zlog"
	"github.com/zhihanii/zloop"
)

const (
	HeaderLen     = 4
	MaxMessageLen = 64 * 1024
)

var ErrInvalidLength = errors.New("codec: invalid length")

// Conn is the part of *zloop.TcpConnection the codec needs.
type Conn interface {
	Name() string
	SendBuffer(buf *zloop.Buffer)
	Shutdown()
}

type StringMessageCallback func(conn Conn, message string, receiveTime time.Time)

// LengthHeaderCodec decodes [int32 big-endian length][payload] frames.
type LengthHeaderCodec struct {
	messageCallback StringMessageCallback
}

func NewLengthHeaderCodec(cb StringMessageCallback) *LengthHeaderCodec {
	return &LengthHeaderCodec{messageCallback: cb}
}

// OnMessage is a zloop.MessageCallback.
func (c *LengthHeaderCodec) OnMessage(conn *zloop.TcpConnection, buf *zloop.Buffer, receiveTime time.Time) {
	c.decode(conn, buf, receiveTime)
}

func (c *LengthHeaderCodec) decode(conn Conn, buf *zloop.Buffer, receiveTime time.Time) {
	for buf.ReadableBytes() >= HeaderLen {
		length := buf.PeekInt32()
		if err := checkLength(length); err != nil {
			zlog.Errorf("%s: %v", conn.Name(), err)
			conn.Shutdown()
			break
		}
		if buf.ReadableBytes() < HeaderLen+int(length) {
			break
		}
		buf.Retrieve(HeaderLen)
		message := buf.RetrieveAsString(int(length))
		c.messageCallback(conn, message, receiveTime)
	}
}

// Send frames message and sends it on conn.
func (c *LengthHeaderCodec) Send(conn Conn, message string) {
	conn.SendBuffer(Encode(message))
}

// Encode returns a buffer holding the framed message.
func Encode(message string) *zloop.Buffer {
	buf := zloop.NewBuffer()
	buf.AppendString(message)
	buf.PrependInt32(int32(len(message)))
	return buf
}

func checkLength(length int32) error {
	if length < 0 || length > MaxMessageLen {
		return fmt.Errorf("%w %d", ErrInvalidLength, length)
	}
	return nil
}
