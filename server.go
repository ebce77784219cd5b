package aresgo

import (
	"fmt"
	"sort"
	"time"
)

// Transport identifies the protocol used to reach a Server. UDP and TCP
// are the minimum set spec.md requires (§1); the rest are this module's
// domain-stack expansion (SPEC_FULL.md DOMAIN STACK).
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportDoT
	TransportDoQ
	TransportDTLS
	TransportDoH
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	case TransportDoT:
		return "dot"
	case TransportDoQ:
		return "doq"
	case TransportDTLS:
		return "dtls"
	case TransportDoH:
		return "doh"
	default:
		return "unknown"
	}
}

// isDatagram reports whether a transport preserves datagram semantics (one
// message per read), as opposed to a byte stream that needs length-prefix
// framing (spec.md §4.4).
func (t Transport) isDatagram() bool {
	return t == TransportUDP || t == TransportDTLS
}

// Server is one upstream DNS endpoint with its health counters, per
// spec.md §3. Sort key in the registry is (consecFailures ASC, index
// ASC). The ServerStateFunc type is defined in channel.go and called from
// invokeServerState below.
type Server struct {
	channel *Channel
	addr    string
	index   int // priority, lower sorts first on a failure tie
	Transport Transport

	consecFailures uint32
	nextRetryTime  time.Time

	// connections is ordered with the most-recently-opened connection
	// first, matching fetch_connection's "examine the first entry"
	// contract in spec.md §4.3: once a UDP connection is retired (limit
	// reached) a fresh one is prepended and becomes the new "first".
	connections []*Connection
	tcpConn     *Connection // invariant: non-nil iff present in connections
}

// key returns a stable identity string for metrics/logging.
func (s *Server) key() string { return s.addr }

func (s *Server) String() string {
	return fmt.Sprintf("%s(%s)", s.Transport, s.addr)
}

// serverRegistry is the channel's ordered set of servers (spec.md §3 "Ordered
// set of servers with failure counters and retry-after times; re-sort on
// mutation", §2 C2).
type serverRegistry struct {
	servers []*Server
}

func newServerRegistry() *serverRegistry {
	return &serverRegistry{}
}

func (r *serverRegistry) add(s *Server) {
	r.servers = append(r.servers, s)
	r.sort()
}

func (r *serverRegistry) len() int { return len(r.servers) }

func (r *serverRegistry) first() *Server {
	if len(r.servers) == 0 {
		return nil
	}
	return r.servers[0]
}

func (r *serverRegistry) last() *Server {
	if len(r.servers) == 0 {
		return nil
	}
	return r.servers[len(r.servers)-1]
}

func (r *serverRegistry) at(i int) *Server {
	if i < 0 || i >= len(r.servers) {
		return nil
	}
	return r.servers[i]
}

// sort restores the (consecFailures ASC, index ASC) ordering invariant
// (spec.md §3 invariant 4). Stable so servers with equal keys keep their
// relative order beyond the explicit index tiebreak.
func (r *serverRegistry) sort() {
	sort.SliceStable(r.servers, func(i, j int) bool {
		a, b := r.servers[i], r.servers[j]
		if a.consecFailures != b.consecFailures {
			return a.consecFailures < b.consecFailures
		}
		return a.index < b.index
	})
}

// contains reports whether s is still registered (it may have been removed
// concurrently, per spec.md §4.2's "no-ops if the server has been removed
// concurrently").
func (r *serverRegistry) contains(s *Server) bool {
	for _, cand := range r.servers {
		if cand == s {
			return true
		}
	}
	return false
}

// incrementFailures bumps s's consecutive-failure counter, re-sorts the
// registry, arms the retry-after timer, and notifies the server-state
// callback. Mirrors server_increment_failures in the original design.
func (c *Channel) incrementFailures(s *Server, usedTCP bool, now time.Time) {
	if !c.servers.contains(s) {
		return
	}
	s.consecFailures++
	c.servers.sort()
	s.nextRetryTime = addMillis(now, c.opts.ServerRetryDelay.Milliseconds())
	c.invokeServerState(s, false, usedTCP)
}

// setGood resets s's failure counter to zero (if nonzero), re-sorts, and
// clears the retry-after timer. Mirrors server_set_good.
func (c *Channel) setGood(s *Server, usedTCP bool) {
	if !c.servers.contains(s) {
		return
	}
	if s.consecFailures > 0 {
		s.consecFailures = 0
		c.servers.sort()
	}
	s.nextRetryTime = time.Time{}
	c.invokeServerState(s, true, usedTCP)
}

func (c *Channel) invokeServerState(s *Server, success, usedTCP bool) {
	if c.opts.ServerStateFunc == nil {
		return
	}
	c.opts.ServerStateFunc(s.String(), success, s.Transport, usedTCP)
}
