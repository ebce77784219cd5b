package aresgo

import "time"

// calcQueryTimeout implements spec.md §4.8's per-attempt timeout formula
// (ares__calc_query_timeout): rounds = try_count / num_servers, so the
// configured base timeout doubles once per full trip through the server
// list (not on every single retransmit), capped at MaxTimeout, then
// jittered by up to +/-10% so that many simultaneously-dispatched queries
// don't all retransmit in lockstep.
func calcQueryTimeout(opts ChannelOptions, q *Query, now time.Time) time.Time {
	base := opts.Timeout
	numServers := 1
	if q.server != nil && q.server.channel != nil {
		if n := q.server.channel.servers.len(); n > 0 {
			numServers = n
		}
		if q.server.channel.metrics != nil {
			if ms := q.server.channel.metrics.ServerTimeout(q.server, now); ms > 0 {
				base = time.Duration(ms) * time.Millisecond
			}
		}
	}
	for i := 0; i < q.attempt/numServers; i++ {
		base *= 2
		if base > opts.MaxTimeout {
			base = opts.MaxTimeout
			break
		}
	}

	jitterRange := int64(base) / 10
	jitter := int64(0)
	if jitterRange > 0 && q.server != nil && q.server.channel != nil && q.server.channel.randSrc != nil {
		// Scale a uint16 draw onto [-jitterRange, +jitterRange]; jitterRange
		// is a nanosecond count and routinely dwarfs 65535, so drawing
		// straight into it (rather than scaling) would leave the roll
		// always landing in the low end of the range.
		roll := int64(q.server.channel.randSrc.Uint16())
		jitter = roll*2*jitterRange/65536 - jitterRange
	}
	return now.Add(base + time.Duration(jitter))
}

// ProcessTimeouts implements spec.md §4.8's timeout engine entry point:
// pop every query whose deadline has elapsed and either retry it against
// the next server or fail it permanently, returning the next deadline the
// caller should wait on (for an event loop driving select/epoll timeouts
// itself).
func (c *Channel) ProcessTimeouts(now time.Time) (nextDeadline time.Time, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processTimeoutsLocked(now)
}

// processTimeoutsLocked is ProcessTimeouts' body, callable from Process
// while c.mu is already held so the two stay part of one atomic pass
// (spec.md §5's ordering law).
func (c *Channel) processTimeoutsLocked(now time.Time) (nextDeadline time.Time, hasMore bool) {
	for _, q := range c.queries.popTimedOut(now) {
		c.incrementFailures(q.server, q.usingTCP, now)
		c.requeueQuery(q, now, StatusTimeout, nil)
	}
	return c.queries.earliestDeadline()
}
