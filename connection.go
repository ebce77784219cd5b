package aresgo

import (
	"bytes"
	"container/list"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

// Conn is the I/O collaborator spec.md §6 calls conn_read/conn_flush: a
// single transport-level connection to one server. The default
// implementations in transport.go wrap net.Conn (plain UDP/TCP),
// crypto/tls (DoT), quic-go (DoQ), pion/dtls (DTLS), and net/http (DoH).
//
// Go has no portable non-blocking Read the way BSD sockets do; the
// WOULDBLOCK classification spec.md's read loop relies on is emulated with
// a short read deadline (SPEC_FULL.md §6 NEW) — a timeout is treated
// exactly like WOULDBLOCK, any other error is critical.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// ErrWouldBlock-equivalent classification: ares_conn_read returns one of
// SUCCESS, WOULDBLOCK, OTHER. We classify net.Error.Timeout() as the
// WOULDBLOCK case.
func isWouldBlock(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}

// pollInterval is the read deadline used to probe "is there more queued
// data right now" without blocking indefinitely, per the Conn doc comment
// above.
const pollInterval = time.Millisecond

// Connection is a single UDP or TCP (or DoT/DoQ/DTLS/DoH) socket to one
// server, per spec.md §3. Lifecycle: opened by the dispatcher (C7), closed
// by the error handler (C9) or the idle/limit reaper.
type Connection struct {
	server    *Server
	transport Transport
	netConn   Conn

	tfoInitial bool
	connected  bool

	inBuf  bytes.Buffer
	outBuf bytes.Buffer

	// queriesToConn holds *Query in the order they were sent on this
	// connection. Invariant: every query here has query.conn == this
	// connection (spec.md §3 invariant, Connection doc).
	queriesToConn *list.List
	totalQueries  uint64

	lastActivity time.Time
	closed       bool
}

func newConnection(server *Server, transport Transport, nc Conn, tfoInitial bool, now time.Time) *Connection {
	return &Connection{
		server:        server,
		transport:     transport,
		netConn:       nc,
		tfoInitial:    tfoInitial,
		queriesToConn: list.New(),
		lastActivity:  now,
	}
}

func (c *Connection) isTCPFramed() bool { return !c.transport.isDatagram() }

// fetchConnection implements spec.md §4.3: for a TCP-style query return the
// server's single tracked TCP connection (may be nil); for UDP, return the
// first entry of the connection list if it is a UDP connection under the
// configured per-connection query limit, else nil (meaning "dispatcher must
// open a new connection").
func (c *Channel) fetchConnection(server *Server, q *Query) *Connection {
	if q.usingTCP {
		return server.tcpConn
	}
	if len(server.connections) == 0 {
		return nil
	}
	conn := server.connections[0]
	if conn.isTCPFramed() {
		return nil
	}
	if c.opts.UDPMaxQueries > 0 && conn.totalQueries >= uint64(c.opts.UDPMaxQueries) {
		return nil
	}
	return conn
}

// registerConnection links a newly opened connection into its server and
// the channel's socket snapshot.
func (c *Channel) registerConnection(server *Server, conn *Connection) {
	server.connections = append([]*Connection{conn}, server.connections...)
	if conn.isTCPFramed() {
		server.tcpConn = conn
	}
	c.conns = append(c.conns, conn)
}

// notifyWrite implements spec.md §4.3 notify_write: mark CONNECTED unless
// still in the TFO-initial state, then flush pending output.
func (c *Channel) notifyWrite(conn *Connection, now time.Time) {
	if !conn.tfoInitial {
		conn.connected = true
	}
	if err := c.flushConn(conn); err != nil {
		c.handleConnError(conn, true, err, now)
	}
}

// flushConn writes out_buf to the wire, per ares__conn_flush. Datagram
// transports get one write per message, with its length prefix stripped.
func (c *Channel) flushConn(conn *Connection) error {
	if conn.outBuf.Len() == 0 {
		return nil
	}
	if !conn.isTCPFramed() {
		for conn.outBuf.Len() >= 2 {
			raw := conn.outBuf.Bytes()
			msgLen := int(binary.BigEndian.Uint16(raw[:2]))
			if len(raw)-2 < msgLen {
				break
			}
			if _, err := conn.netConn.Write(raw[2 : 2+msgLen]); err != nil {
				return err
			}
			conn.outBuf.Next(2 + msgLen)
		}
		return nil
	}
	n, err := conn.netConn.Write(conn.outBuf.Bytes())
	if err != nil {
		return err
	}
	conn.outBuf.Next(n)
	return nil
}

// closeConnection tears down conn and requeues every query still linked to
// it with status, per spec.md §6 close_connection / §4.9 handle_conn_error.
func (c *Channel) closeConnection(conn *Connection, status Status, now time.Time) {
	if conn.closed {
		return
	}
	conn.closed = true
	_ = conn.netConn.Close()

	if conn.server.tcpConn == conn {
		conn.server.tcpConn = nil
	}
	for i, cand := range conn.server.connections {
		if cand == conn {
			conn.server.connections = append(conn.server.connections[:i], conn.server.connections[i+1:]...)
			break
		}
	}
	for i, cand := range c.conns {
		if cand == conn {
			c.conns = append(c.conns[:i], c.conns[i+1:]...)
			break
		}
	}

	// Walk queriesToConn and requeue each; detach clears the list as we go.
	for e := conn.queriesToConn.Front(); e != nil; e = conn.queriesToConn.Front() {
		q := e.Value.(*Query)
		c.requeueQuery(q, now, status, nil)
	}
}

// handleConnError implements spec.md §4.9: if critical, bump the server's
// failure counter BEFORE closing the connection so the very queries being
// requeued are unlikely to land back on the same server.
func (c *Channel) handleConnError(conn *Connection, critical bool, failure error, now time.Time) {
	if critical {
		c.incrementFailures(conn.server, conn.isTCPFramed(), now)
	}
	status := StatusConnRefused
	var s Status
	if errors.As(failure, &s) {
		status = s
	}
	c.closeConnection(conn, status, now)
}

// drainIdleConnections reaps connections with no outstanding queries that
// have been idle past idleTimeout, matching "idle/closed connections are
// reaped" in spec.md §2 control flow.
func (c *Channel) drainIdleConnections(now time.Time) {
	if c.opts.IdleTimeout <= 0 {
		return
	}
	for _, conn := range append([]*Connection(nil), c.conns...) {
		if conn.queriesToConn.Len() != 0 {
			continue
		}
		if now.Sub(conn.lastActivity) >= c.opts.IdleTimeout {
			c.closeConnection(conn, StatusSuccess, now)
		}
	}
}

var errShortRead = errors.New("aresgo: short read")

// readConnPackets implements spec.md §4.4 read_conn_packets.
func readConnPackets(conn *Connection) error {
	for {
		startLen := conn.inBuf.Len()
		if conn.isTCPFramed() {
			buf := make([]byte, 65535)
			_ = conn.netConn.SetReadDeadline(time.Now().Add(pollInterval))
			n, err := conn.netConn.Read(buf)
			if n > 0 {
				conn.inBuf.Write(buf[:n])
			}
			if err != nil {
				if isWouldBlock(err) {
					return nil
				}
				return err
			}
			if n < len(buf) {
				return nil
			}
			continue
		}

		// Datagram transport: reserve a 2-byte length placeholder, read
		// one datagram, back-patch the length.
		var lenPrefix [2]byte
		conn.inBuf.Write(lenPrefix[:])
		buf := make([]byte, 65535)
		_ = conn.netConn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.netConn.Read(buf)
		if err != nil {
			conn.inBuf.Truncate(startLen)
			if isWouldBlock(err) {
				return nil
			}
			return err
		}
		raw := conn.inBuf.Bytes()
		binary.BigEndian.PutUint16(raw[startLen:startLen+2], uint16(n))
		conn.inBuf.Write(buf[:n])
	}
}

// readAnswers implements spec.md §4.4 read_answers: repeatedly frame a
// length-prefixed message out of in_buf and hand it to the response
// handler, stopping when the buffer is drained or the handler asks for the
// connection to be torn down.
func (c *Channel) readAnswers(conn *Connection, now time.Time) {
	for {
		raw := conn.inBuf.Bytes()
		if len(raw) < 2 {
			break
		}
		dnsLen := int(binary.BigEndian.Uint16(raw[:2]))
		if len(raw)-2 < dnsLen {
			break
		}
		payload := append([]byte(nil), raw[2:2+dnsLen]...)
		conn.inBuf.Next(2 + dnsLen)

		if err := c.processAnswer(conn, payload, now); err != nil {
			var s Status
			if !errors.As(err, &s) {
				s = StatusBadResp
			}
			c.handleConnError(conn, true, s, now)
			return
		}
	}
}

// readConn implements spec.md §4.4 (named read_conn in the original
// design): pull bytes off the wire then frame/process whatever is
// complete.
func (c *Channel) readConn(conn *Connection, now time.Time) {
	if err := readConnPackets(conn); err != nil {
		var s Status
		if errors.As(err, &s) {
			c.handleConnError(conn, true, s, now)
		} else {
			c.handleConnError(conn, true, StatusConnRefused, now)
		}
		return
	}
	conn.lastActivity = now
	c.readAnswers(conn, now)
}

var _ io.Closer = (*Connection)(nil)

// Close releases the underlying socket. Exposed for callers that hold a
// *Connection outside the channel (e.g. tests).
func (conn *Connection) Close() error {
	return conn.netConn.Close()
}
