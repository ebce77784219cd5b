package aresgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerRegistrySortsByFailuresThenIndex(t *testing.T) {
	r := newServerRegistry()
	s0 := &Server{addr: "a", index: 0}
	s1 := &Server{addr: "b", index: 1}
	s2 := &Server{addr: "c", index: 2}
	r.add(s2)
	r.add(s0)
	r.add(s1)

	assert.Equal(t, s0, r.first())
	assert.Equal(t, s2, r.last())

	s0.consecFailures = 2
	r.sort()
	assert.Equal(t, s1, r.first(), "server with fewer failures sorts first")
	assert.Equal(t, s0, r.last(), "most-failed server sorts last")
}

func TestIncrementFailuresArmsRetryTimer(t *testing.T) {
	ch := NewChannel(ChannelOptions{ServerRetryDelay: 5 * time.Second})
	s := ch.AddServer("10.0.0.1:53", TransportUDP, 0)

	now := time.Now()
	ch.incrementFailures(s, false, now)
	assert.Equal(t, uint32(1), s.consecFailures)
	assert.True(t, s.nextRetryTime.After(now))
}

func TestSetGoodClearsFailuresAndRetryTimer(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	s := ch.AddServer("10.0.0.1:53", TransportUDP, 0)

	now := time.Now()
	ch.incrementFailures(s, false, now)
	ch.setGood(s, false)

	assert.Equal(t, uint32(0), s.consecFailures)
	assert.True(t, s.nextRetryTime.IsZero())
}

func TestIncrementFailuresNoopsOnRemovedServer(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	s := &Server{channel: ch, addr: "10.0.0.1:53", index: 0}

	ch.incrementFailures(s, false, time.Now())
	assert.Equal(t, uint32(0), s.consecFailures, "a server no longer in the registry must not be mutated")
}

func TestInvokeServerStateCallback(t *testing.T) {
	var gotServer string
	var gotSuccess bool
	ch := NewChannel(ChannelOptions{
		ServerStateFunc: func(server string, success bool, transport Transport, usedTCP bool) {
			gotServer = server
			gotSuccess = success
		},
	})
	s := ch.AddServer("10.0.0.1:53", TransportUDP, 0)

	ch.setGood(s, false)
	assert.Equal(t, s.String(), gotServer)
	assert.True(t, gotSuccess)
}
