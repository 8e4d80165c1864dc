package zloop

import "sync/atomic"

type connState int32

/* State Diagram
+--------------+  ConnectEstablished  +--------------+
|  connecting  |--------------------->|  connected   |
+--------------+                      +-------+------+
                                              |  Shutdown / ForceClose
                                              v
+--------------+      handleClose     +--------------+
| disconnected |<---------------------| disconnecting|
+--------------+                      +--------------+

- connected can also go straight to disconnected when the peer closes.
- only disconnected is terminal, ConnectDestroyed runs one task turn later.
*/

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	default:
		return "unknown state"
	}
}

// stateKeeper is read from any goroutine, written on the loop goroutine
// except for the connected -> disconnecting step of Shutdown and ForceClose.
type stateKeeper struct {
	state int32
}

func (k *stateKeeper) getState() connState {
	return connState(atomic.LoadInt32(&k.state))
}

func (k *stateKeeper) setState(s connState) {
	atomic.StoreInt32(&k.state, int32(s))
}

func (k *stateKeeper) casState(old, new connState) bool {
	return atomic.CompareAndSwapInt32(&k.state, int32(old), int32(new))
}
