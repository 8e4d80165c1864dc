package zloop

import (
	"time"

	"github.com/zhihanii/zlog"
)

type ConnectionCallback func(conn *TcpConnection)
type CloseCallback func(conn *TcpConnection)
type WriteCompleteCallback func(conn *TcpConnection)
type HighWaterMarkCallback func(conn *TcpConnection, size int)

// MessageCallback is invoked with the input buffer after data arrives.
// Consumed bytes must be retrieved from buf.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTime time.Time)

// ConnectErrorCallback reports a connect attempt that will not be retried.
type ConnectErrorCallback func(err error)

type ThreadInitCallback func(loop *EventLoop)

func DefaultConnectionCallback(conn *TcpConnection) {
	state := "DOWN"
	if conn.Connected() {
		state = "UP"
	}
	zlog.Infof("%s -> %s is %s", conn.LocalAddr(), conn.PeerAddr(), state)
}

func DefaultMessageCallback(conn *TcpConnection, buf *Buffer, receiveTime time.Time) {
	buf.RetrieveAll()
}
