package main

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// maxMessageSize bounds a single DNS response on either transport.
const maxMessageSize = 65535

// udpSocketHandle is the sentinel handle for the shared UDP socket.
const udpSocketHandle uint64 = 0

// transportEvent is one complete response delivered by a transport.
type transportEvent struct {
	handle  uint64
	payload []byte
}

// Transport sends wire-format queries and delivers complete responses as
// events. Send never blocks on the network; responses arrive on Events.
type Transport interface {
	// Send transmits one query and returns the handle under which its
	// response, if any, will be delivered.
	Send(payload []byte) (uint64, error)

	// Events delivers responses. The channel is never closed; callers
	// stop reading when their own deadlines expire.
	Events() <-chan transportEvent

	// Abandon releases any per-query resources held for a handle whose
	// query timed out.
	Abandon(handle uint64)

	Close() error
}

// udpTransport is a single connected UDP socket shared by all queries of
// one worker. Connecting the socket lets ICMP errors surface on read and
// write instead of being dropped by the kernel.
type udpTransport struct {
	conn   *net.UDPConn
	events chan transportEvent
	done   chan struct{}
}

func dialUDPTransport(target string) (*udpTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("connecting UDP socket to %s: %w", target, err)
	}

	t := &udpTransport{
		conn:   conn,
		events: make(chan transportEvent, defaultMaxOutstanding),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *udpTransport) readLoop() {
	buf := make([]byte, maxMessageSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP-surfaced errors on single datagrams are transient;
			// the affected query is reaped by the timeout sweep.
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case t.events <- transportEvent{handle: udpSocketHandle, payload: payload}:
		case <-t.done:
			return
		}
	}
}

func (t *udpTransport) Send(payload []byte) (uint64, error) {
	if _, err := t.conn.Write(payload); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, fmt.Errorf("UDP socket closed: %w", err)
		}
		// Transient send errors leave the query to the timeout sweep.
	}
	return udpSocketHandle, nil
}

func (t *udpTransport) Events() <-chan transportEvent { return t.events }

func (t *udpTransport) Abandon(uint64) {}

func (t *udpTransport) Close() error {
	close(t.done)
	return t.conn.Close()
}

// tcpTransport opens one short-lived connection per query. The query is
// written with the standard 2-byte length prefix, the write side is
// half-closed, and the connection is torn down once the length-prefixed
// response has been read.
type tcpTransport struct {
	target  string
	timeout time.Duration
	events  chan transportEvent
	done    chan struct{}

	mu     sync.Mutex
	conns  map[uint64]net.Conn
	next   uint64
	closed bool
}

func newTCPTransport(target string, timeout time.Duration) *tcpTransport {
	return &tcpTransport{
		target:  target,
		timeout: timeout,
		events:  make(chan transportEvent, defaultMaxOutstanding),
		done:    make(chan struct{}),
		conns:   make(map[uint64]net.Conn),
	}
}

func (t *tcpTransport) Send(payload []byte) (uint64, error) {
	t.mu.Lock()
	t.next++
	handle := t.next
	t.mu.Unlock()

	go t.exchange(handle, payload)
	return handle, nil
}

// exchange runs one query/response round trip. Dial and read failures,
// including establishment timeouts, produce no event; the dispatcher's
// timeout sweep accounts for the query.
func (t *tcpTransport) exchange(handle uint64, payload []byte) {
	conn, err := net.DialTimeout("tcp", t.target, t.timeout)
	if err != nil {
		return
	}
	if !t.register(handle, conn) {
		conn.Close()
		return
	}
	defer t.unregister(handle)

	conn.SetDeadline(time.Now().Add(t.timeout))

	co := &dns.Conn{Conn: conn}
	if _, err := co.Write(payload); err != nil {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	buf := make([]byte, maxMessageSize)
	n, err := co.Read(buf)
	if err != nil {
		return
	}

	payload = make([]byte, n)
	copy(payload, buf[:n])
	select {
	case t.events <- transportEvent{handle: handle, payload: payload}:
	case <-t.done:
	}
}

func (t *tcpTransport) register(handle uint64, conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[handle] = conn
	return true
}

func (t *tcpTransport) unregister(handle uint64) {
	t.mu.Lock()
	conn := t.conns[handle]
	delete(t.conns, handle)
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (t *tcpTransport) Events() <-chan transportEvent { return t.events }

func (t *tcpTransport) Abandon(handle uint64) {
	t.unregister(handle)
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conns := t.conns
	t.conns = make(map[uint64]net.Conn)
	t.mu.Unlock()

	close(t.done)
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
