package aresgo

import (
	"time"

	"github.com/miekg/dns"
)

// processAnswer implements spec.md §4.5/§4.6: unpack one framed message
// read off conn, match it to an in-flight query, validate it, and either
// complete the query, upgrade it to TCP on truncation, or drop it.
//
// A non-nil return means the connection itself is unusable and must be
// torn down (handled by the caller, readAnswers); a dropped/invalid
// response that doesn't indicate connection corruption returns nil so the
// read loop keeps framing whatever else is buffered.
func (c *Channel) processAnswer(conn *Connection, raw []byte, now time.Time) error {
	resp, err := c.codec.Unpack(raw)
	if err != nil {
		// A single garbled datagram on an otherwise-fine UDP socket isn't
		// fatal; a garbled length-prefixed stream message means framing
		// is desynced and the connection must be dropped (spec.md §4.4).
		if conn.isTCPFramed() {
			return wrapErr(StatusBadResp, err)
		}
		return nil
	}

	q, ok := c.queries.byQid(resp.Id)
	if !ok || q.conn != conn {
		// Late or spoofed response: qid unknown, or answered on a
		// different connection than the one it was sent on. Drop
		// silently (spec.md §4.6 edge case).
		return nil
	}

	if !sameQuestions(q.msg, resp, q.dns0x20, q.usingTCP) {
		return nil
	}

	if !c.cookies.Validate(conn, now, q, resp) {
		return nil
	}

	// A FORMERR to a query carrying EDNS, where the response itself has
	// no OPT, is a signal the server doesn't understand EDNS: strip the
	// OPT record from the outgoing query and resend directly, without
	// touching the retry budget or the server's failure count (spec.md
	// §4.5 step 7, §8 scenario 5 — mirrors rewrite_without_edns followed
	// by a direct send_query, not requeue_query).
	if resp.Rcode == dns.RcodeFormatError && hasOPT(q.msg) && !hasOPT(resp) {
		stripOPT(q.msg)
		c.resendLocked(q, now)
		return nil
	}

	if resp.Truncated && !q.usingTCP {
		// Upgrade to TCP and retry directly; not counted as a server
		// failure or against the retry budget (spec.md §4.5 step 8).
		q.usingTCP = true
		c.resendLocked(q, now)
		return nil
	}

	// SERVFAIL, NOTIMP, and REFUSED are treated as server-level failures
	// and trigger failover to the next server rather than being handed to
	// the caller, unless the caller has opted out (spec.md §4.5 step 9,
	// §7 error table, §8 scenario 3).
	if !c.opts.NoCheckResp {
		var status Status
		switch resp.Rcode {
		case dns.RcodeServerFailure:
			status = StatusServFail
		case dns.RcodeNotImplemented:
			status = StatusNotImp
		case dns.RcodeRefused:
			status = StatusRefused
		}
		if status != 0 {
			c.incrementFailures(q.server, q.usingTCP, now)
			if c.metrics != nil {
				c.metrics.Record(q, q.server, status)
			}
			c.requeueQuery(q, now, status, nil)
			return nil
		}
	}

	c.setGood(q.server, q.usingTCP)
	if c.metrics != nil {
		c.metrics.Record(q, q.server, statusFromRcode(resp))
	}
	c.endQuery(q, now, resp, nil)
	return nil
}

// statusFromRcode classifies a validated response's RCODE into the Status
// taxonomy used for metrics/caching decisions (spec.md §4.6).
func statusFromRcode(resp *dns.Msg) Status {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		return StatusSuccess
	case dns.RcodeServerFailure:
		return StatusServFail
	case dns.RcodeNotImplemented:
		return StatusNotImp
	case dns.RcodeRefused:
		return StatusRefused
	case dns.RcodeFormatError:
		return StatusFormErr
	default:
		return StatusSuccess
	}
}
