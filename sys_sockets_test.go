package zloop

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSockaddrConversion(t *testing.T) {
	cases := []*net.TCPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 8080},
		{IP: net.IPv6loopback, Port: 443},
	}
	for _, addr := range cases {
		sa, family, err := tcpAddrToSockaddr(addr)
		require.NoError(t, err)
		got := sockaddrToTCPAddr(sa)
		assert.True(t, addr.IP.Equal(got.IP), addr.String())
		assert.Equal(t, addr.Port, got.Port)
		if addr.IP.To4() != nil {
			assert.Equal(t, unix.AF_INET, family)
		} else {
			assert.Equal(t, unix.AF_INET6, family)
		}
	}

	_, family, err := tcpAddrToSockaddr(&net.TCPAddr{Port: 1})
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, family)

	_, _, err = tcpAddrToSockaddr(nil)
	assert.ErrorIs(t, err, ErrUnsupportedAddress)
}

func TestAcceptorAcceptsOnLoop(t *testing.T) {
	loop := startLoop(t)

	peers := make(chan *net.TCPAddr, 1)
	var a *Acceptor
	var err error
	runSync(t, loop, func() {
		a, err = NewAcceptor(loop, loopbackAddr(), false)
		if err != nil {
			return
		}
		a.SetNewConnectionCallback(func(fd int, peerAddr *net.TCPAddr) {
			assert.False(t, isSelfConnect(fd))
			closeFd(fd)
			peers <- peerAddr
		})
		err = a.Listen()
	})
	require.NoError(t, err)
	defer runSync(t, loop, a.Close)

	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	peer := <-peers
	assert.Equal(t, conn.LocalAddr().(*net.TCPAddr).Port, peer.Port)
	runSync(t, loop, func() { assert.True(t, a.Listening()) })
}
