package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/zhihanii/taskpool"
	"github.com/zhihanii/zlog"
	"github.com/zhihanii/zloop"
	"gopkg.in/yaml.v3"
)

type config struct {
	Addr          string        `yaml:"addr"`
	Threads       int           `yaml:"threads"`
	Offload       bool          `yaml:"offload"`
	HighWaterMark int           `yaml:"high_water_mark"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

var (
	addr       = pflag.String("addr", "127.0.0.1:2007", "listen address")
	threads    = pflag.Int("threads", 0, "number of io loops")
	configPath = pflag.String("config", "", "yaml config file")
	offload    = pflag.Bool("offload", false, "echo from the task pool")
)

func loadConfig() (*config, error) {
	cfg := &config{
		Addr:          *addr,
		Threads:       *threads,
		Offload:       *offload,
		HighWaterMark: 64 * 1024 * 1024,
	}
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", *configPath, err)
		}
	}
	// flags given on the command line win over the file
	if pflag.CommandLine.Changed("addr") {
		cfg.Addr = *addr
	}
	if pflag.CommandLine.Changed("threads") {
		cfg.Threads = *threads
	}
	if pflag.CommandLine.Changed("offload") {
		cfg.Offload = *offload
	}
	return cfg, nil
}

// session lives in the connection context, only touched on the connection's loop.
type session struct {
	lastActive time.Time
	idleTimer  zloop.TimerID
}

type echoServer struct {
	cfg *config
	srv *zloop.TcpServer
	ctx context.Context
}

func (e *echoServer) onConnection(conn *zloop.TcpConnection) {
	zloop.DefaultConnectionCallback(conn)
	if e.cfg.IdleTimeout <= 0 {
		return
	}
	if conn.Connected() {
		s := &session{lastActive: time.Now()}
		s.idleTimer = conn.Loop().RunEvery(e.cfg.IdleTimeout/2, func() {
			if time.Since(s.lastActive) > e.cfg.IdleTimeout {
				zlog.Infof("%s idle, closing", conn.Name())
				conn.ForceClose()
			}
		})
		conn.SetContext(s)
	} else if s, ok := conn.Context().(*session); ok {
		conn.Loop().Cancel(s.idleTimer)
	}
}

func (e *echoServer) onMessage(conn *zloop.TcpConnection, buf *zloop.Buffer, receiveTime time.Time) {
	if s, ok := conn.Context().(*session); ok {
		s.lastActive = receiveTime
	}
	msg := buf.RetrieveAsBytes(buf.ReadableBytes())
	if !e.cfg.Offload {
		conn.Send(msg)
		return
	}
	taskpool.Submit(e.ctx, func() {
		conn.Send(msg)
	})
}

func (e *echoServer) onHighWaterMark(conn *zloop.TcpConnection, size int) {
	zlog.Infof("%s output buffer %d bytes, pausing reads", conn.Name(), size)
	conn.StopRead()
}

func (e *echoServer) onWriteComplete(conn *zloop.TcpConnection) {
	if !conn.IsReading() {
		conn.StartRead()
	}
}

func main() {
	pflag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		zlog.Errorf("load config: %v", err)
		os.Exit(1)
	}
	listenAddr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		zlog.Errorf("resolve %s: %v", cfg.Addr, err)
		os.Exit(1)
	}

	loop := zloop.NewEventLoop()
	defer loop.Close()

	srv, err := zloop.NewTcpServer(loop, listenAddr, "echo",
		zloop.WithNumThreads(cfg.Threads),
		zloop.WithHighWaterMark(cfg.HighWaterMark),
		zloop.WithTCPNoDelay(true),
	)
	if err != nil {
		zlog.Errorf("%v", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := &echoServer{cfg: cfg, srv: srv, ctx: ctx}
	srv.SetConnectionCallback(e.onConnection)
	srv.SetMessageCallback(e.onMessage)
	srv.SetWriteCompleteCallback(e.onWriteComplete)
	srv.SetHighWaterMarkCallback(e.onHighWaterMark, cfg.HighWaterMark)
	if err = srv.Start(); err != nil {
		zlog.Errorf("start: %v", err)
		os.Exit(1)
	}
	zlog.Infof("echo listening on %s, io loops %d, offload %v", srv.Addr(), cfg.Threads, cfg.Offload)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		loop.Quit()
	}()

	loop.Loop()
	srv.Stop()
}
