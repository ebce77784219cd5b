package aresgo

import (
	"time"

	"github.com/miekg/dns"
)

// Dialer is the transport-opening collaborator spec.md §6 calls
// open_connection: given a server and whether the caller wants a
// stream-framed (TCP-like) connection, return a live Conn. StdDialer in
// transport.go provides the concrete UDP/TCP/DoT/DoQ/DTLS/DoH
// implementations; tests supply fakes.
type Dialer interface {
	Dial(server *Server, useTCP bool) (Conn, error)
}

// applyDNS0x20 case-randomizes the owner name of msg's question in place,
// per spec.md §4.1's optional spoof-resistance measure.
func applyDNS0x20(msg *dns.Msg, rnd RandSource) {
	for i := range msg.Question {
		name := []byte(msg.Question[i].Name)
		for j, b := range name {
			if b < 'a' || b > 'z' {
				continue
			}
			if rnd.Byte()&1 == 1 {
				name[j] = b - ('a' - 'A')
			}
		}
		msg.Question[i].Name = string(name)
	}
}

// pickServer implements spec.md §4.7's dispatch policy. Rotate draws one
// uniform-random server per call (ares__random_server): every server is
// equally likely regardless of failure history, and the same server can
// legally come up twice in a row. Failover instead prefers the best-ranked
// (registry-first, i.e. fewest consecutive failures) server, falling back
// with some probability to a failed-but-timed-out server so it eventually
// gets retried (ares__failover_server).
func (c *Channel) pickServer(now time.Time) *Server {
	if c.opts.Rotate {
		return c.randomServer()
	}
	return c.failoverServer(now)
}

// randomServer implements ares__random_server: a single uniform draw mod
// the server count, independent of failure state.
func (c *Channel) randomServer() *Server {
	n := c.servers.len()
	if n == 0 {
		return nil
	}
	idx := int(c.randSrc.Byte()) % n
	return c.servers.at(idx)
}

// failoverServer implements ares__failover_server: prefer the first
// (best-ranked) server unless the worst-ranked server still has failures,
// in which case a single dice roll decides whether to instead hunt for a
// failed server whose retry-after window has elapsed.
func (c *Channel) failoverServer(now time.Time) *Server {
	first := c.servers.first()
	if first == nil {
		return nil
	}
	last := c.servers.last()
	if last != nil && last.consecFailures == 0 {
		return first
	}
	if c.opts.RetryChance == 0 {
		return first
	}
	if c.randSrc == nil || float64(c.randSrc.Uint16())/65535.0 >= c.opts.RetryChance {
		return first
	}
	for i := 0; i < c.servers.len(); i++ {
		s := c.servers.at(i)
		if s.consecFailures > 0 && !s.nextRetryTime.After(now) {
			return s
		}
	}
	return first
}

// dispatchLocked implements spec.md §4.2/§4.3: pick a server, pick or open
// a connection to it, frame and queue the outgoing message, arm its
// timeout, and flush. Always called with c.mu held.
func (c *Channel) dispatchLocked(q *Query, now time.Time) {
	server := c.pickServer(now)
	if server == nil {
		c.endQuery(q, now, nil, wrapErr(StatusNoServer, errNoServers))
		return
	}
	c.assignFreshQID(q)
	q.server = server
	q.usingTCP = q.usingTCP || server.Transport == TransportTCP || server.Transport == TransportDoT ||
		server.Transport == TransportDoQ || server.Transport == TransportDoH

	conn := c.fetchConnection(server, q)
	if conn == nil {
		var err error
		conn, err = c.openConnectionLocked(server, q.usingTCP, now)
		if err != nil {
			c.incrementFailures(server, q.usingTCP, now)
			c.requeueQuery(q, now, StatusConnRefused, nil)
			return
		}
	}

	if err := c.queueOnConn(conn, q, now); err != nil {
		// Link q first so closing conn requeues it along with the rest.
		attachToConn(q, conn)
		c.handleConnError(conn, true, err, now)
		return
	}

	attachToConn(q, conn)
	q.timeout = calcQueryTimeout(c.opts, q, now)
	q.timeoutElem = c.queries.insertByDeadline(q)

	if err := c.flushConn(conn); err != nil {
		c.handleConnError(conn, true, err, now)
	}
}

var errNoServers = wrapErr(StatusNoServer, nil)

// openConnectionLocked implements spec.md §6 open_connection: dial the
// server, wrap the result in a Connection, and register it.
func (c *Channel) openConnectionLocked(server *Server, useTCP bool, now time.Time) (*Connection, error) {
	if c.opts.Dialer == nil {
		return nil, wrapErr(StatusNoServer, errNoDialer)
	}
	nc, err := c.opts.Dialer.Dial(server, useTCP)
	if err != nil {
		return nil, err
	}
	transport := server.Transport
	if useTCP && transport == TransportUDP {
		transport = TransportTCP
	}
	conn := newConnection(server, transport, nc, false, now)
	c.registerConnection(server, conn)
	return conn, nil
}

var errNoDialer = wrapErr(StatusNoServer, nil)

// queueOnConn applies cookies, packs q.msg with a 2-byte length prefix
// (spec.md §4.4's wire framing, used uniformly here so UDP and stream
// transports share one write path; flushConn strips it for datagrams), and
// appends it to conn's outgoing buffer. The EDNS OPT record is added once,
// in sendLocked, so a query whose OPT was stripped is resent without one.
func (c *Channel) queueOnConn(conn *Connection, q *Query, now time.Time) error {
	if c.cookies != nil {
		if err := c.cookies.Apply(conn, now, q.msg); err != nil {
			return err
		}
	}

	raw, err := c.codec.PackTCP(q.msg)
	if err != nil {
		return wrapErr(StatusFormErr, err)
	}
	conn.outBuf.Write(raw)
	return nil
}
