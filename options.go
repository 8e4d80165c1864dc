package zloop

import "time"

const (
	defaultPollTimeout    = 10 * time.Second
	defaultHighWaterMark  = 64 * 1024 * 1024
	defaultInitRetryDelay = 500 * time.Millisecond
	defaultMaxRetryDelay  = 30 * time.Second
)

type Option func(o *options)

type options struct {
	pollTimeout time.Duration

	numThreads int
	threadInit ThreadInitCallback

	reusePort  bool
	tcpNoDelay bool
	// keep-alive idle seconds, 0 keeps the system default
	keepAlive int

	highWaterMark int

	initRetryDelay time.Duration
	maxRetryDelay  time.Duration
}

func newOptions(opts ...Option) *options {
	o := &options{
		pollTimeout:    defaultPollTimeout,
		highWaterMark:  defaultHighWaterMark,
		initRetryDelay: defaultInitRetryDelay,
		maxRetryDelay:  defaultMaxRetryDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithPollTimeout bounds how long a loop blocks in epoll_wait.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// WithNumThreads sets the number of io loops of a TcpServer.
// 0 means all I/O happens on the accepting loop.
func WithNumThreads(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.numThreads = n
		}
	}
}

func WithThreadInitCallback(cb ThreadInitCallback) Option {
	return func(o *options) {
		o.threadInit = cb
	}
}

func WithReusePort(on bool) Option {
	return func(o *options) {
		o.reusePort = on
	}
}

func WithTCPNoDelay(on bool) Option {
	return func(o *options) {
		o.tcpNoDelay = on
	}
}

// WithKeepAlive tunes TCP keep-alive idle and interval. SO_KEEPALIVE is always on.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.keepAlive = int(d.Seconds())
	}
}

func WithHighWaterMark(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.highWaterMark = n
		}
	}
}

// WithRetryDelay sets the initial and maximum reconnect backoff.
func WithRetryDelay(init, max time.Duration) Option {
	return func(o *options) {
		if init > 0 {
			o.initRetryDelay = init
		}
		if max >= o.initRetryDelay {
			o.maxRetryDelay = max
		}
	}
}
