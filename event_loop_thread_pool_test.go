package zloop

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolWithoutThreadsUsesBaseLoop(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()

	var inits atomic.Int32
	pool := NewEventLoopThreadPool(base, "none")
	pool.Start(func(loop *EventLoop) {
		assert.Same(t, base, loop)
		inits.Add(1)
	})
	defer pool.Stop()

	assert.Equal(t, int32(1), inits.Load())
	assert.Same(t, base, pool.GetNextLoop())
	assert.Same(t, base, pool.GetNextLoop())
	assert.Same(t, base, pool.GetLoopForHash(42))
	assert.Equal(t, []*EventLoop{base}, pool.AllLoops())
}

func TestPoolRoundRobin(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()

	var inits atomic.Int32
	pool := NewEventLoopThreadPool(base, "rr")
	require.NoError(t, pool.SetNumThreads(3))
	pool.Start(func(loop *EventLoop) { inits.Add(1) })
	defer pool.Stop()

	assert.True(t, pool.Started())
	assert.Equal(t, int32(3), inits.Load())
	assert.Error(t, pool.SetNumThreads(1))

	loops := pool.AllLoops()
	require.Len(t, loops, 3)
	for _, l := range loops {
		assert.NotSame(t, base, l)
	}
	for i := 0; i < 7; i++ {
		assert.Same(t, loops[i%3], pool.GetNextLoop())
	}
	assert.Same(t, pool.GetLoopForHash(5), pool.GetLoopForHash(5))
	assert.Same(t, loops[2], pool.GetLoopForHash(5))
}

func TestPoolRejectsNegativeThreads(t *testing.T) {
	base := NewEventLoop()
	defer base.Close()
	pool := NewEventLoopThreadPool(base, "neg")
	assert.Error(t, pool.SetNumThreads(-1))
}
