package pima

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	tr, err := TCP(host, port)(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	server := <-accepted
	t.Cleanup(func() { _ = server.Close() })

	buf := make([]byte, 16)

	t.Run("nothing to read", func(t *testing.T) {
		start := time.Now()
		n, err := tr.ReadTimeout(buf, 20*time.Millisecond)
		require.NoError(t, err)
		require.Zero(t, n)
		require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("round trip", func(t *testing.T) {
		_, err := tr.Write([]byte{0x04, 0x0d})
		require.NoError(t, err)
		got := make([]byte, 2)
		_, err = server.Read(got)
		require.NoError(t, err)
		require.Equal(t, []byte{0x04, 0x0d}, got)

		_, err = server.Write([]byte{0x01, 0x02, 0x03})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			n, err := tr.ReadTimeout(buf, 10*time.Millisecond)
			return err == nil && n > 0
		}, time.Second, time.Millisecond)
	})

	t.Run("closed by the panel", func(t *testing.T) {
		require.NoError(t, server.Close())
		_, err := tr.ReadTimeout(buf, time.Second)
		require.Error(t, err)
	})
}

func TestTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	_, err = TCP(host, port)(context.Background())
	require.Error(t, err)
}

func TestMacAddress(t *testing.T) {
	host := os.Getenv("PIMA_HOST")
	if host == "" || os.Getenv("CI") != "" {
		t.Skip("needs a panel on the local network")
	}
	hw, err := MacAddress(host)
	require.NoError(t, err)
	require.NotEmpty(t, hw)
}
