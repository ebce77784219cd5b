package aresgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPickServerFailoverPrefersHealthiest(t *testing.T) {
	ch := NewChannel(ChannelOptions{RandSrc: fixedRandSource{u: 65535}}) // never take the retry-chance roll
	s0 := ch.AddServer("10.0.0.1:53", TransportUDP, 0)
	s1 := ch.AddServer("10.0.0.2:53", TransportUDP, 1)

	now := time.Now()
	assert.Same(t, s0, ch.pickServer(now), "failover must prefer the first healthy server")

	ch.incrementFailures(s0, false, now)
	assert.Same(t, s1, ch.pickServer(now), "a failed server must be skipped for a healthy one")
}

func TestPickServerRotateDrawsUniformlyByByteModCount(t *testing.T) {
	ch := NewChannel(ChannelOptions{Rotate: true, RandSrc: fixedRandSource{b: 0}})
	s0 := ch.AddServer("10.0.0.1:53", TransportUDP, 0)
	s1 := ch.AddServer("10.0.0.2:53", TransportUDP, 1)

	now := time.Now()
	// b=0 always selects index 0 regardless of failure state or how many
	// times pickServer has already been called: Rotate is a single
	// stateless dice roll, not a round-robin cursor.
	assert.Same(t, s0, ch.pickServer(now))
	assert.Same(t, s0, ch.pickServer(now))

	ch.randSrc = fixedRandSource{b: 1}
	assert.Same(t, s1, ch.pickServer(now))

	ch.randSrc = fixedRandSource{b: 2}
	assert.Same(t, s0, ch.pickServer(now), "the draw wraps mod server count")
}

func TestPickServerFallsBackToFailedServerWhenNoneAreHealthy(t *testing.T) {
	ch := NewChannel(ChannelOptions{
		RetryChance:      0, // zero falls back to the default chance; the roll never picks a server inside its window
		ServerRetryDelay: time.Minute,
		RandSrc:          fixedRandSource{b: 255},
	})
	s0 := ch.AddServer("10.0.0.1:53", TransportUDP, 0)

	now := time.Now()
	ch.incrementFailures(s0, false, now)

	// s0 is still inside its retry-after window and is the only server;
	// pickServer must fall back to it rather than return nil.
	assert.Same(t, s0, ch.pickServer(now))
}

func TestPickServerRetryChanceGivesFailedServerAnotherChance(t *testing.T) {
	ch := NewChannel(ChannelOptions{
		RetryChance:      1.0, // always take the chance
		ServerRetryDelay: time.Minute,
		RandSrc:          fixedRandSource{b: 0},
	})
	s0 := ch.AddServer("10.0.0.1:53", TransportUDP, 0)
	ch.AddServer("10.0.0.2:53", TransportUDP, 1)

	now := time.Now()
	ch.incrementFailures(s0, false, now)
	// past its retry-after window, and the roll always succeeds: the failed
	// s0 is picked over the healthy s1.
	assert.Same(t, s0, ch.pickServer(now.Add(2*time.Minute)))
}

func TestPickServerReturnsNilWithNoServers(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	assert.Nil(t, ch.pickServer(time.Now()))
}
