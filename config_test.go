package aresgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportFromString(t *testing.T) {
	cases := map[string]Transport{
		"tcp":  TransportTCP,
		"dot":  TransportDoT,
		"doq":  TransportDoQ,
		"dtls": TransportDTLS,
		"doh":  TransportDoH,
		"udp":  TransportUDP,
		"":     TransportUDP,
		"huh":  TransportUDP,
	}
	for in, want := range cases {
		assert.Equal(t, want, transportFromString(in), "protocol %q", in)
	}
}

func TestIndexOrDefault(t *testing.T) {
	assert.Equal(t, 3, indexOrDefault(3, 7))
	assert.Equal(t, 7, indexOrDefault(0, 7))
}

func TestNewChannelFromConfigRegistersUpstreams(t *testing.T) {
	cfg := &Config{
		Options: ChannelConfigOpts{
			TimeoutMS: 500,
			Retries:   2,
		},
		Upstream: []UpstreamConfig{
			{Address: "1.1.1.1:53", Protocol: "udp"},
			{Address: "9.9.9.9:853", Protocol: "dot"},
		},
	}

	ch := NewChannelFromConfig(cfg)
	assert.Equal(t, 2, ch.servers.len())
	assert.Equal(t, TransportDoT, ch.servers.at(1).Transport)
}
