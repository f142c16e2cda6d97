package main

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawUDPEcho echoes every datagram back to its sender.
func rawUDPEcho(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, maxMessageSize)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			pc.WriteTo(buf[:n], addr)
		}
	}()
	return pc.LocalAddr().String()
}

// rawTCPEcho accepts connections, reads one length-prefixed message, and
// echoes it back framed the same way.
func rawTCPEcho(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()

				var hdr [2]byte
				if _, err := io.ReadFull(conn, hdr[:]); err != nil {
					return
				}
				msg := make([]byte, binary.BigEndian.Uint16(hdr[:]))
				if _, err := io.ReadFull(conn, msg); err != nil {
					return
				}
				conn.Write(hdr[:])
				conn.Write(msg)
			}(conn)
		}
	}()
	return l.Addr().String()
}

func awaitEvent(t *testing.T, tr Transport) transportEvent {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return transportEvent{}
	}
}

func TestUDPTransportRoundTrip(t *testing.T) {
	addr := rawUDPEcho(t)

	tr, err := dialUDPTransport(addr)
	require.NoError(t, err)
	defer tr.Close()

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	handle, err := tr.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, udpSocketHandle, handle)

	ev := awaitEvent(t, tr)
	assert.Equal(t, udpSocketHandle, ev.handle)
	assert.Equal(t, payload, ev.payload)
}

func TestUDPTransportBadTarget(t *testing.T) {
	_, err := dialUDPTransport("not-a-real-host.invalid.:53")
	assert.Error(t, err)
}

func TestTCPTransportRoundTrip(t *testing.T) {
	addr := rawTCPEcho(t)

	tr := newTCPTransport(addr, 2*time.Second)
	defer tr.Close()

	payload := []byte{0x01, 0x02, 0x03}
	h1, err := tr.Send(payload)
	require.NoError(t, err)
	h2, err := tr.Send(payload)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	seen := map[uint64][]byte{}
	for range 2 {
		ev := awaitEvent(t, tr)
		seen[ev.handle] = ev.payload
	}
	assert.Equal(t, payload, seen[h1])
	assert.Equal(t, payload, seen[h2])
}

// An abandoned handle tears the connection down and never produces an event.
func TestTCPTransportAbandon(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr := newTCPTransport(l.Addr().String(), 5*time.Second)
	defer tr.Close()

	handle, err := tr.Send([]byte{0x00})
	require.NoError(t, err)

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("stub listener never saw a connection")
	}

	tr.Abandon(handle)

	select {
	case <-tr.Events():
		t.Fatal("abandoned handle produced an event")
	case <-time.After(200 * time.Millisecond):
	}
}
