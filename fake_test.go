package aresgo

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// fakeConn is a minimal in-memory Conn used by the engine tests below. It
// records every frame written to it and lets a test queue up response
// frames to be handed back through Read, without touching a real socket.
type fakeConn struct {
	mu      sync.Mutex
	framed  bool // true: queued bytes already carry their own length prefix (TCP-like); false: one queued packet per Read call (datagram)
	written [][]byte
	pending [][]byte
	closed  bool
	writeErr error
}

func newFakeConn(framed bool) *fakeConn {
	return &fakeConn{framed: framed}
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := append([]byte(nil), b...)
	f.written = append(f.written, cp)
	return len(b), nil
}

func (f *fakeConn) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, timeoutError{}
	}
	chunk := f.pending[0]
	f.pending = f.pending[1:]
	n := copy(b, chunk)
	return n, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

// queueResponse makes resp available to the next readConn pass, framed
// according to f.framed (matching readConnPackets' TCP vs. datagram split).
func (f *fakeConn) queueResponse(resp *dns.Msg) {
	raw, err := resp.Pack()
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.framed {
		out := make([]byte, 2+len(raw))
		binary.BigEndian.PutUint16(out, uint16(len(raw)))
		copy(out[2:], raw)
		f.pending = append(f.pending, out)
	} else {
		f.pending = append(f.pending, raw)
	}
}

// lastQuery unpacks the most recent write (skipping its length prefix when
// f.framed), for a test to read the qid/question the engine actually sent.
func (f *fakeConn) lastQuery() *dns.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	raw := f.written[len(f.written)-1]
	if f.framed {
		raw = raw[2:]
	}
	m := new(dns.Msg)
	if err := m.Unpack(raw); err != nil {
		panic(err)
	}
	return m
}

// fakeDialer hands out fakeConns, one per Dial call, and can be told to
// fail the next N dials to simulate connection-refused/server-down.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failNext  int
	dialErr   error
}

func (d *fakeDialer) Dial(server *Server, useTCP bool) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return nil, wrapErr(StatusConnRefused, d.dialErr)
	}
	framed := useTCP || !server.Transport.isDatagram()
	c := newFakeConn(framed)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fixedRandSource is a deterministic RandSource for tests that need to pin
// the failover-retry coin flip or DNS-0x20 casing.
type fixedRandSource struct {
	b byte
	u uint16
}

func (f fixedRandSource) Byte() byte    { return f.b }
func (f fixedRandSource) Uint16() uint16 { return f.u }

// result collects a Channel.Send callback's outcome for a test to await.
type result struct {
	resp *dns.Msg
	err  error
}

func awaitResult(ch chan result) result {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		panic("test: timed out waiting for query completion")
	}
}
