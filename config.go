package aresgo

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk shape of a channel's configuration, grounded on
// cmd/routedns/config.go's TOML layout. Load with LoadConfig, then turn
// into a running Channel with NewChannelFromConfig.
type Config struct {
	Listener ListenerConfig    `toml:"listener"`
	Upstream []UpstreamConfig  `toml:"upstream"`
	Options  ChannelConfigOpts `toml:"options"`
}

// ListenerConfig is reserved for a future downstream-facing listener; the
// engine itself only dispatches upstream, per spec.md's Non-goals.
type ListenerConfig struct {
	Address string `toml:"address"`
}

// UpstreamConfig describes one [[upstream]] TOML table.
type UpstreamConfig struct {
	Address   string `toml:"address"`
	Protocol  string `toml:"protocol"` // udp, tcp, dot, doq, dtls, doh
	Priority  int    `toml:"priority"`
	ServerCA  string `toml:"ca-file"`
}

// ChannelConfigOpts maps 1:1 onto the fields of ChannelOptions that make
// sense to expose on disk.
type ChannelConfigOpts struct {
	TimeoutMS         int64   `toml:"timeout-ms"`
	MaxTimeoutMS      int64   `toml:"max-timeout-ms"`
	Retries           int     `toml:"retries"`
	Rotate            bool    `toml:"rotate"`
	ServerRetryDelayMS int64  `toml:"server-retry-delay-ms"`
	RetryChance       float64 `toml:"retry-chance"`
	UDPMaxQueries     int     `toml:"udp-max-queries"`
	IdleTimeoutMS     int64   `toml:"idle-timeout-ms"`
	EDNSPacketSize    uint16  `toml:"edns-packet-size"`
	DNS0x20           bool    `toml:"dns-0x20"`
	CacheCapacity     int     `toml:"cache-capacity"`
}

// LoadConfig parses a TOML config file at path, matching the teacher's
// cmd/routedns BurntSushi/toml-based loader.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, wrapErr(StatusFormErr, err)
	}
	return &cfg, nil
}

// transportFromString maps a TOML protocol name onto a Transport.
func transportFromString(s string) Transport {
	switch s {
	case "tcp":
		return TransportTCP
	case "dot":
		return TransportDoT
	case "doq":
		return TransportDoQ
	case "dtls":
		return TransportDTLS
	case "doh":
		return TransportDoH
	default:
		return TransportUDP
	}
}

// NewChannelFromConfig builds a Channel and registers every configured
// upstream server.
func NewChannelFromConfig(cfg *Config) *Channel {
	opts := ChannelOptions{
		Timeout:          time.Duration(cfg.Options.TimeoutMS) * time.Millisecond,
		MaxTimeout:       time.Duration(cfg.Options.MaxTimeoutMS) * time.Millisecond,
		Retries:          cfg.Options.Retries,
		Rotate:           cfg.Options.Rotate,
		ServerRetryDelay: time.Duration(cfg.Options.ServerRetryDelayMS) * time.Millisecond,
		RetryChance:      cfg.Options.RetryChance,
		UDPMaxQueries:    cfg.Options.UDPMaxQueries,
		IdleTimeout:      time.Duration(cfg.Options.IdleTimeoutMS) * time.Millisecond,
		EDNSPacketSize:   cfg.Options.EDNSPacketSize,
		DNS0x20:          cfg.Options.DNS0x20,
		Dialer:           &StdDialer{},
	}
	if cfg.Options.CacheCapacity > 0 {
		opts.Cache = NewMemoryCache(cfg.Options.CacheCapacity)
	}

	c := NewChannel(opts)
	for i, up := range cfg.Upstream {
		c.AddServer(up.Address, transportFromString(up.Protocol), indexOrDefault(up.Priority, i))
	}
	return c
}

func indexOrDefault(priority, fallback int) int {
	if priority != 0 {
		return priority
	}
	return fallback
}
