package aresgo

import "time"

// Socket identifies one open connection to a caller driving its own
// readiness loop (epoll/kqueue/select), matching spec.md §9's fd-set
// interface. Go has no portable numeric fd for every transport this
// module supports (DoQ runs over a quic-go session, DoH over net/http),
// so a Socket is the Connection itself rather than an OS file descriptor
// (SPEC_FULL.md §6 NEW, documented Open Question resolution).
type Socket = *Connection

// Sockets returns a snapshot of every currently open connection, for a
// caller that wants to build its own poll set (spec.md §9
// ares_getsock-equivalent).
func (c *Channel) Sockets() []Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Socket, len(c.conns))
	copy(out, c.conns)
	return out
}

// Process implements spec.md §9's ares_process: given the subset of
// Sockets that are readable and the subset that are writable, read and
// frame whatever is waiting on each, run the timeout engine, flush pending
// writes, then reap idle connections — all under one acquisition of the
// channel lock, so no other call can interleave partway through (spec.md
// §5: "reads precede timeouts precede writes precede reaps"). Connections
// not present in either slice are neither read nor flushed this pass, but
// idle reaping still applies to them.
func (c *Channel) Process(readReady, writeReady []Socket, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make(map[*Connection]bool, len(c.conns))
	for _, conn := range c.conns {
		live[conn] = true
	}

	for _, s := range readReady {
		if live[s] {
			c.readConn(s, now)
		}
	}
	c.processTimeoutsLocked(now)
	for _, s := range writeReady {
		if live[s] {
			c.notifyWrite(s, now)
		}
	}
	c.drainIdleConnections(now)
}

// ProcessFD is the single-socket convenience form of Process, for a
// caller whose event loop reports one ready descriptor at a time.
func (c *Channel) ProcessFD(readReady, writeReady Socket, now time.Time) {
	var r, w []Socket
	if readReady != nil {
		r = []Socket{readReady}
	}
	if writeReady != nil {
		w = []Socket{writeReady}
	}
	c.Process(r, w, now)
}

// ProcessReady is the idiomatic-Go production entry point: it blocks on
// ready, reading and framing each Socket received there, and runs the
// timeout engine at every tick, until stop fires or ready is closed. The
// caller publishes readable sockets on ready; nothing in this package
// does.
func (c *Channel) ProcessReady(stop <-chan struct{}, ready <-chan Socket, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case s, ok := <-ready:
			if !ok {
				return
			}
			c.Process([]Socket{s}, nil, time.Now())
		case now := <-ticker.C:
			c.ProcessTimeouts(now)
		}
	}
}

// Close tears down every open connection and fails every in-flight query
// with StatusCancelled, matching ares_destroy's shutdown semantics.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	now := time.Now()
	for _, conn := range append([]*Connection(nil), c.conns...) {
		c.closeConnection(conn, StatusCancelled, now)
	}
	for _, q := range append([]*Query(nil), allQueries(c.queries)...) {
		c.endQuery(q, now, nil, StatusCancelled)
	}
}

func allQueries(r *queryRegistry) []*Query {
	out := make([]*Query, 0, len(r.byQID))
	for _, q := range r.byQID {
		out = append(out, q)
	}
	return out
}
