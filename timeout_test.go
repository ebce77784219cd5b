package aresgo

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcQueryTimeoutDoublesPerRotationAndCaps(t *testing.T) {
	ch := NewChannel(ChannelOptions{
		Timeout:    100 * time.Millisecond,
		MaxTimeout: 300 * time.Millisecond,
		RandSrc:    fixedRandSource{u: 32768}, // midpoint draw nets zero jitter
	})
	s := ch.AddServer("10.0.0.1:53", TransportUDP, 0)
	now := time.Now()

	// A single server means rounds == attempt (try_count / num_servers
	// with num_servers == 1).
	q := &Query{server: s}
	q.attempt = 0
	d0 := calcQueryTimeout(ch.opts, q, now).Sub(now)
	assert.Equal(t, 100*time.Millisecond, d0)

	q.attempt = 1
	d1 := calcQueryTimeout(ch.opts, q, now).Sub(now)
	assert.Equal(t, 200*time.Millisecond, d1)

	q.attempt = 3
	d3 := calcQueryTimeout(ch.opts, q, now).Sub(now)
	assert.Equal(t, 300*time.Millisecond, d3, "backoff must cap at MaxTimeout")
}

func TestCalcQueryTimeoutRoundsDivideByServerCount(t *testing.T) {
	ch := NewChannel(ChannelOptions{
		Timeout:    100 * time.Millisecond,
		MaxTimeout: time.Second,
		RandSrc:    fixedRandSource{u: 32768},
	})
	s0 := ch.AddServer("10.0.0.1:53", TransportUDP, 0)
	ch.AddServer("10.0.0.2:53", TransportUDP, 1)
	now := time.Now()

	q := &Query{server: s0}
	// With 2 servers, one retry (attempt=1) is still within the first
	// round (1/2 == 0 rounds): the timeout must not have doubled yet.
	q.attempt = 1
	assert.Equal(t, 100*time.Millisecond, calcQueryTimeout(ch.opts, q, now).Sub(now))

	// A full second trip through both servers (attempt=2) starts round 1.
	q.attempt = 2
	assert.Equal(t, 200*time.Millisecond, calcQueryTimeout(ch.opts, q, now).Sub(now))
}

func TestCalcQueryTimeoutUsesServerMetrics(t *testing.T) {
	metrics := NewEWMAMetrics("test-metrics", 50*time.Millisecond)
	ch := NewChannel(ChannelOptions{
		Timeout: 999 * time.Second, // would dominate if metrics weren't consulted
		Metrics: metrics,
		RandSrc: fixedRandSource{u: 32768},
	})
	s := ch.AddServer("10.0.0.1:53", TransportUDP, 0)
	now := time.Now()

	q := &Query{server: s}
	d := calcQueryTimeout(ch.opts, q, now).Sub(now)
	assert.Equal(t, 50*time.Millisecond, d)
}

func TestProcessTimeoutsReturnsNextDeadline(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(ChannelOptions{Timeout: 50 * time.Millisecond, Dialer: dialer, RandSrc: fixedRandSource{}})
	ch.AddServer("10.0.0.1:53", TransportUDP, 0)

	now := time.Now()
	ch.Send(now, newTestQuestion(), func(resp *dns.Msg, err error) {})

	deadline, hasMore := ch.ProcessTimeouts(now)
	require.True(t, hasMore)
	assert.True(t, deadline.After(now))
}
