package main

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startStubServer runs an in-process DNS server with the given handler and
// returns its address. The server is shut down when the test ends.
func startStubServer(t *testing.T, network string, handler dns.Handler) string {
	t.Helper()

	var srv *dns.Server
	var addr string
	switch network {
	case "udp":
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		srv = &dns.Server{PacketConn: pc, Handler: handler}
		addr = pc.LocalAddr().String()
	case "tcp":
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		srv = &dns.Server{Listener: l, Handler: handler}
		addr = l.Addr().String()
	default:
		t.Fatalf("unsupported network %q", network)
	}

	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return addr
}

// echoHandler replies immediately with the given rcode.
func echoHandler(rcode int) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, rcode)
		w.WriteMsg(m)
	}
}
