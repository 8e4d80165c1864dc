package zloop

import (
	"sync/atomic"
)

type loadBalancer interface {
	Pick() *EventLoop
	PickByHash(hash uint64) *EventLoop
}

func newRoundRobinLoadBalancer(loops []*EventLoop) loadBalancer {
	return &roundRobinLoadBalancer{
		loops: loops,
		size:  len(loops),
	}
}

// roundRobinLoadBalancer hands out loops in creation order.
type roundRobinLoadBalancer struct {
	loops []*EventLoop
	cur   uint32
	size  int
}

func (b *roundRobinLoadBalancer) Pick() (loop *EventLoop) {
	idx := int(atomic.AddUint32(&b.cur, 1)-1) % b.size
	return b.loops[idx]
}

func (b *roundRobinLoadBalancer) PickByHash(hash uint64) *EventLoop {
	return b.loops[hash%uint64(b.size)]
}
