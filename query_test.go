package aresgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRegistryDeadlineOrdering(t *testing.T) {
	r := newQueryRegistry()
	base := time.Now()

	q1 := &Query{qid: 1, timeout: base.Add(3 * time.Second)}
	q2 := &Query{qid: 2, timeout: base.Add(1 * time.Second)}
	q3 := &Query{qid: 3, timeout: base.Add(2 * time.Second)}

	for _, q := range []*Query{q1, q2, q3} {
		r.byQID[q.qid] = q
		q.timeoutElem = r.insertByDeadline(q)
	}

	deadline, ok := r.earliestDeadline()
	require.True(t, ok)
	assert.Equal(t, q2.timeout, deadline)

	popped := r.popTimedOut(base.Add(2500 * time.Millisecond))
	require.Len(t, popped, 2)
	assert.Equal(t, q2, popped[0])
	assert.Equal(t, q3, popped[1])
	assert.Equal(t, 1, r.len())
}

func TestQueryRegistryRemoveDetachesFromConn(t *testing.T) {
	r := newQueryRegistry()
	conn := newConnection(nil, TransportUDP, nil, false, time.Now())
	q := &Query{qid: 42}
	r.byQID[q.qid] = q
	attachToConn(q, conn)

	r.remove(q)

	_, ok := r.byQid(42)
	assert.False(t, ok)
	assert.Nil(t, q.conn)
	assert.Equal(t, 0, conn.queriesToConn.Len())
}

func TestDetachFromConnIsIdempotent(t *testing.T) {
	conn := newConnection(nil, TransportUDP, nil, false, time.Now())
	q := &Query{qid: 1}
	attachToConn(q, conn)

	detachFromConn(q)
	assert.Nil(t, q.conn)
	assert.Equal(t, 0, conn.queriesToConn.Len())

	// calling twice must be a no-op, not a panic.
	detachFromConn(q)
	assert.Nil(t, q.conn)
}

func TestRekeyMovesQueryToNewQID(t *testing.T) {
	r := newQueryRegistry()
	q := &Query{qid: 7}
	r.byQID[7] = q

	r.rekey(q, 99)

	_, stillThere := r.byQid(7)
	assert.False(t, stillThere)
	got, ok := r.byQid(99)
	assert.True(t, ok)
	assert.Same(t, q, got)
	assert.Equal(t, uint16(99), q.qid)
}
