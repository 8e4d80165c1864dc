package zloop

import (
	"fmt"

	"github.com/zhihanii/zlog"
)

// EventLoopThreadPool owns a fixed set of io loops fed by a base loop.
// Start, GetNextLoop, GetLoopForHash and AllLoops run on the base loop goroutine.
type EventLoopThreadPool struct {
	baseLoop   *EventLoop
	name       string
	started    bool
	numThreads int
	opts       []Option
	threads    []*EventLoopThread
	loops      []*EventLoop
	balancer   loadBalancer
}

func NewEventLoopThreadPool(baseLoop *EventLoop, name string, opts ...Option) *EventLoopThreadPool {
	return &EventLoopThreadPool{
		baseLoop: baseLoop,
		name:     name,
		opts:     opts,
	}
}

func (p *EventLoopThreadPool) SetNumThreads(numThreads int) error {
	if p.started {
		return fmt.Errorf("set numThreads[%d] on started pool %s", numThreads, p.name)
	}
	if numThreads < 0 {
		return fmt.Errorf("set invalid numThreads[%d]", numThreads)
	}
	p.numThreads = numThreads
	return nil
}

func (p *EventLoopThreadPool) Start(cb ThreadInitCallback) {
	if p.started {
		logFatalf("EventLoopThreadPool %s started twice", p.name)
	}
	p.baseLoop.AssertInLoopThread()
	p.started = true

	for i := 0; i < p.numThreads; i++ {
		t := NewEventLoopThread(cb, fmt.Sprintf("%s%d", p.name, i), p.opts...)
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}
	if p.numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
	if len(p.loops) > 0 {
		p.balancer = newRoundRobinLoadBalancer(p.loops)
	}
	zlog.Infof("EventLoopThreadPool %s started with %d threads", p.name, p.numThreads)
}

// GetNextLoop returns the io loops round-robin, or the base loop when there are none.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if p.balancer == nil {
		return p.baseLoop
	}
	return p.balancer.Pick()
}

// GetLoopForHash always returns the same loop for the same hash.
func (p *EventLoopThreadPool) GetLoopForHash(hash uint64) *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if p.balancer == nil {
		return p.baseLoop
	}
	return p.balancer.PickByHash(hash)
}

func (p *EventLoopThreadPool) AllLoops() []*EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return append([]*EventLoop(nil), p.loops...)
}

func (p *EventLoopThreadPool) Started() bool {
	return p.started
}

func (p *EventLoopThreadPool) Name() string {
	return p.name
}

// Stop quits every io loop and waits for their goroutines.
func (p *EventLoopThreadPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
	p.threads = nil
	p.loops = nil
	p.balancer = nil
}
