// Command aresgo-dig sends a single query through an aresgo.Channel and
// prints the answer, exercising the dispatch/response core from the
// command line the way dig exercises a resolver.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aresgo/aresgo"
)

type options struct {
	server    string
	transport string
	timeout   time.Duration
	retries   int
	rotate    bool
	dns0x20   bool
	logLevel  uint32
	syslogTag string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "aresgo-dig <name> [<type>]",
		Short: "Send a single DNS query through the aresgo dispatch engine",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&opt.server, "server", "s", "127.0.0.1:53", "upstream server address")
	cmd.Flags().StringVarP(&opt.transport, "transport", "t", "udp", "udp, tcp, dot, doq, dtls, or doh")
	cmd.Flags().DurationVar(&opt.timeout, "timeout", 2*time.Second, "base per-attempt timeout")
	cmd.Flags().IntVar(&opt.retries, "retries", 3, "retries across the server rotation")
	cmd.Flags().BoolVar(&opt.rotate, "rotate", false, "pick a random server per attempt instead of failover")
	cmd.Flags().BoolVar(&opt.dns0x20, "dns-0x20", false, "randomize query name case for spoof resistance")
	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", uint32(logrus.WarnLevel), "log level; 0=Panic .. 6=Trace")
	cmd.Flags().StringVar(&opt.syslogTag, "syslog-tag", "", "if set, send the aresgo library logger's output to syslog under this tag")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options, args []string) error {
	logrus.SetLevel(logrus.Level(opt.logLevel))
	if opt.syslogTag != "" {
		handler, err := aresgo.NewSyslogHandler(opt.syslogTag, nil)
		if err != nil {
			return fmt.Errorf("failed to attach syslog: %w", err)
		}
		aresgo.Log = slog.New(handler)
	}

	qtype := dns.TypeA
	if len(args) == 2 {
		t, ok := dns.StringToType[args[1]]
		if !ok {
			return fmt.Errorf("unknown query type %q", args[1])
		}
		qtype = t
	}

	channel := aresgo.NewChannel(aresgo.ChannelOptions{
		Timeout:     opt.timeout,
		Retries:     opt.retries,
		Rotate:      opt.rotate,
		DNS0x20:     opt.dns0x20,
		Dialer:      &aresgo.StdDialer{},
		ServerStateFunc: func(server string, success bool, transport aresgo.Transport, usedTCP bool) {
			logrus.WithFields(logrus.Fields{
				"server": server, "success": success, "transport": transport.String(), "tcp": usedTCP,
			}).Debug("server state change")
		},
	})
	channel.AddServer(opt.server, transportFromFlag(opt.transport), 0)

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(args[0]), qtype)

	type result struct {
		resp *dns.Msg
		err  error
	}
	done := make(chan result, 1)
	channel.Send(time.Now(), q, func(resp *dns.Msg, err error) {
		done <- result{resp, err}
	})

	stop := make(chan struct{})
	ready := make(chan aresgo.Socket, 1)
	go channel.ProcessReady(stop, ready, 50*time.Millisecond)
	defer close(stop)

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		fmt.Println(r.resp.String())
		return nil
	case <-time.After(opt.timeout * time.Duration(opt.retries+2)):
		return fmt.Errorf("timed out waiting for a response")
	}
}

func transportFromFlag(s string) aresgo.Transport {
	switch s {
	case "tcp":
		return aresgo.TransportTCP
	case "dot":
		return aresgo.TransportDoT
	case "doq":
		return aresgo.TransportDoQ
	case "dtls":
		return aresgo.TransportDTLS
	case "doh":
		return aresgo.TransportDoH
	default:
		return aresgo.TransportUDP
	}
}
