package aresgo

import (
	"container/list"
	"time"

	"github.com/miekg/dns"
)

// Query is one in-flight question, per spec.md §3. It is indexed three
// ways by the channel: by qid, by timeout deadline, and (while assigned)
// by owning connection — see queryRegistry.byQID / byDeadline and
// Connection.queriesToConn.
type Query struct {
	qid uint16
	msg *dns.Msg

	server *Server
	conn   *Connection

	usingTCP bool
	dns0x20  bool

	sentAt  time.Time
	timeout time.Time
	attempt int // ares_query try_count: bumped by requeueQuery, not by a direct resend

	timeoutElem *list.Element // position in the by-deadline list
	connElem    *list.Element // position in conn.queriesToConn

	onComplete func(resp *dns.Msg, err error)

	cancelled bool
}

// qidKey identifies a query by the 16-bit id miekg/dns exposes as Msg.Id.
type qidKey = uint16

// queryRegistry tracks every in-flight query three ways (spec.md §2 C4):
// by qid for response matching, by timeout deadline for the timer engine,
// and (indirectly, via Query.conn) by owning connection.
type queryRegistry struct {
	byQID      map[qidKey]*Query
	byDeadline *list.List // sorted ascending by (Query.timeout, Query.qid)
}

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{
		byQID:      make(map[qidKey]*Query),
		byDeadline: list.New(),
	}
}

// rekey drops q's current by-qid entry (if any) and reinserts it under
// newQID. Used by the dispatcher to give every dispatch attempt, not only
// the first, a fresh qid (spec.md §8 scenario 6): a response addressed to
// an earlier, now-abandoned attempt can then never match the retry.
func (r *queryRegistry) rekey(q *Query, newQID uint16) {
	if existing, ok := r.byQID[q.qid]; ok && existing == q {
		delete(r.byQID, q.qid)
	}
	q.qid = newQID
	r.byQID[newQID] = q
}

// insertByDeadline keeps byDeadline sorted ascending by q.timeout, with
// q.qid breaking ties, matching spec.md §3's "Queries indexed ... by
// timeout deadline (sorted)".
func (r *queryRegistry) insertByDeadline(q *Query) *list.Element {
	for e := r.byDeadline.Back(); e != nil; e = e.Prev() {
		p := e.Value.(*Query)
		if p.timeout.Before(q.timeout) || (p.timeout.Equal(q.timeout) && p.qid <= q.qid) {
			return r.byDeadline.InsertAfter(q, e)
		}
	}
	return r.byDeadline.PushFront(q)
}

func (r *queryRegistry) byQid(qid uint16) (*Query, bool) {
	q, ok := r.byQID[qid]
	return q, ok
}

func (r *queryRegistry) remove(q *Query) {
	delete(r.byQID, q.qid)
	if q.timeoutElem != nil {
		r.byDeadline.Remove(q.timeoutElem)
		q.timeoutElem = nil
	}
	if q.conn != nil && q.connElem != nil {
		q.conn.queriesToConn.Remove(q.connElem)
		q.connElem = nil
		q.conn = nil
	}
}

// earliestDeadline returns the soonest timeout among all in-flight
// queries, or the zero Time if none are outstanding.
func (r *queryRegistry) earliestDeadline() (time.Time, bool) {
	front := r.byDeadline.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(*Query).timeout, true
}

// popTimedOut removes and returns every query whose deadline is <= now,
// in deadline order, for the timeout engine (spec.md §4.8).
func (r *queryRegistry) popTimedOut(now time.Time) []*Query {
	var out []*Query
	for e := r.byDeadline.Front(); e != nil; {
		q := e.Value.(*Query)
		if !timedOut(now, q.timeout) {
			break
		}
		next := e.Next()
		r.remove(q)
		out = append(out, q)
		e = next
	}
	return out
}

func (r *queryRegistry) len() int { return len(r.byQID) }

// nextQID picks a free qid via randSrc, matching spec.md §4.2's "generate
// a random qid, retry on collision" rule. Collisions are vanishingly rare
// with 65536 slots, so the loop is bounded defensively.
func (c *Channel) nextQID() uint16 {
	for i := 0; i < 16; i++ {
		qid := c.randSrc.Uint16()
		if _, exists := c.queries.byQid(qid); !exists {
			return qid
		}
	}
	// Fall back to a linear scan; only reachable with thousands of
	// simultaneous in-flight queries against the same channel.
	for qid := uint16(0); ; qid++ {
		if _, exists := c.queries.byQid(qid); !exists {
			return qid
		}
	}
}

// attachToConn links q to conn, appending it to conn's query list and
// bumping its total-queries counter (spec.md §3 Connection invariant).
func attachToConn(q *Query, conn *Connection) {
	q.conn = conn
	q.connElem = conn.queriesToConn.PushBack(q)
	conn.totalQueries++
}

// detachFromConn implements ares_detach_query: unlink q from whichever
// connection it is currently assigned to, if any, without touching the
// registry's by-qid/by-deadline indices.
func detachFromConn(q *Query) {
	if q.conn == nil {
		return
	}
	if q.connElem != nil {
		q.conn.queriesToConn.Remove(q.connElem)
		q.connElem = nil
	}
	q.conn = nil
}
