package aresgo

import (
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// ServerStateFunc is invoked on every failure and every success recorded
// against a server, per spec.md §6's server-state callback collaborator.
type ServerStateFunc func(server string, success bool, transport Transport, usedTCP bool)

// ChannelOptions configures a Channel. Zero-value fields fall back to the
// defaults applied in NewChannel, matching the teacher's options-struct
// convention (see dnsclient.go/pipeline.go NewPipeline argument shape).
type ChannelOptions struct {
	// Timeout is the base per-attempt timeout before the exponential
	// backoff in calc_query_timeout (spec.md §4.8) is applied.
	Timeout time.Duration
	// MaxTimeout caps the backed-off per-attempt timeout.
	MaxTimeout time.Duration
	// Retries is the number of tries allotted per server; the overall
	// retry budget for a query is len(servers) * Retries (spec.md §4.6
	// "rounds = try_count / num_servers", §4.8 edge case) before it is
	// failed with the status of its last failed attempt (StatusTimeout
	// when that attempt timed out).
	Retries int
	// Rotate selects a uniform-random server per dispatch when true
	// (ares__random_server: one dice roll mod server count, independent
	// of failure history), and failover (always prefer servers.first(),
	// with a probabilistic chance to retry a failed server) when false,
	// matching spec.md §4.7's two named dispatch policies.
	Rotate bool
	// ServerRetryDelay is how long a failed server is skipped before it
	// is given another chance (spec.md §4.2, §4.7).
	ServerRetryDelay time.Duration
	// RetryChance is the probability ([0,1]) that failover dispatch looks
	// for a failed server whose retry-delay window has elapsed instead of
	// taking the best-ranked server (spec.md §4.7 "probabilistic give
	// failed server another chance"). A server still inside its window is
	// never picked this way.
	RetryChance float64
	// UDPMaxQueries bounds how many queries may share one UDP
	// connection before a fresh one is opened (0 = unbounded).
	UDPMaxQueries int
	// IdleTimeout is how long an otherwise-unused connection is kept
	// open before being reaped by drainIdleConnections (0 disables
	// reaping).
	IdleTimeout time.Duration
	// EDNSPacketSize is advertised via OPT on outgoing queries when > 0.
	EDNSPacketSize uint16
	// DNS0x20 enables case-randomization of outgoing query names as an
	// additional spoof-resistance measure (spec.md §4.1/§4.5).
	DNS0x20 bool
	// NoCheckResp disables SERVFAIL-triggered failover when set, matching
	// spec.md §8 scenario 3's "channel flag NOCHECKRESP not set" guard: a
	// SERVFAIL is then delivered to the caller like any other response
	// instead of being retried against the next server.
	NoCheckResp bool

	ServerStateFunc ServerStateFunc

	Dialer   Dialer
	Codec    MessageCodec
	Cache    QueryCache
	Cookies  CookieValidator
	Metrics  ServerMetrics
	RandSrc  RandSource
}

// Channel is the asynchronous resolver engine itself: it owns the server
// registry (C2), the connection set (C3), the query registry (C4), and
// drives the read path, response handling, dispatch, and timeout engine
// (C5-C8) behind a single mutex (spec.md §2, §7 concurrency model).
type Channel struct {
	opts ChannelOptions

	mu sync.Mutex

	servers *serverRegistry
	conns   []*Connection
	queries *queryRegistry

	randSrc RandSource
	codec   MessageCodec
	cache   QueryCache
	cookies CookieValidator
	metrics ServerMetrics

	closed bool
}

func applyDefaults(opts ChannelOptions) ChannelOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 5 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.ServerRetryDelay <= 0 {
		opts.ServerRetryDelay = 5 * time.Second
	}
	if opts.RetryChance <= 0 {
		opts.RetryChance = 0.10
	}
	if opts.Codec == nil {
		opts.Codec = DefaultMessageCodec
	}
	if opts.Cache == nil {
		opts.Cache = NopCache{}
	}
	if opts.Cookies == nil {
		opts.Cookies = NopCookieJar{}
	}
	if opts.RandSrc == nil {
		opts.RandSrc = NewRandSource()
	}
	return opts
}

// NewChannel constructs a Channel with no servers registered yet; callers
// add servers with AddServer before sending queries, mirroring
// ares_init_options + ares_set_servers in the original design.
func NewChannel(opts ChannelOptions) *Channel {
	opts = applyDefaults(opts)
	return &Channel{
		opts:    opts,
		servers: newServerRegistry(),
		queries: newQueryRegistry(),
		randSrc: opts.RandSrc,
		codec:   opts.Codec,
		cache:   opts.Cache,
		cookies: opts.Cookies,
		metrics: opts.Metrics,
	}
}

// AddServer registers a new upstream server. index determines priority
// ordering on failure-count ties (lower sorts first), per spec.md §3.
func (c *Channel) AddServer(addr string, transport Transport, index int) *Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Server{channel: c, addr: addr, Transport: transport, index: index}
	c.servers.add(s)
	return s
}

// Send implements spec.md §4.1 ares_send: validate the question, assign a
// fresh qid, consult the cache, and kick off the first dispatch attempt.
// onComplete is invoked exactly once, either synchronously (cache hit,
// immediate validation failure) or later from Process*/Timeouts.
func (c *Channel) Send(now time.Time, q *dns.Msg, onComplete func(resp *dns.Msg, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(now, q, onComplete)
}

func (c *Channel) sendLocked(now time.Time, msg *dns.Msg, onComplete func(resp *dns.Msg, err error)) {
	if len(msg.Question) == 0 {
		onComplete(nil, wrapErr(StatusFormErr, errors.New("no question section")))
		return
	}
	if cached, ok := c.cache.(interface {
		Lookup(time.Time, *dns.Msg) (*dns.Msg, bool)
	}); ok {
		if resp, found := cached.Lookup(now, msg); found {
			onComplete(resp.Copy(), nil)
			return
		}
	}

	q := &Query{
		msg:        msg.Copy(),
		dns0x20:    c.opts.DNS0x20,
		sentAt:     now,
		onComplete: onComplete,
	}
	if c.opts.DNS0x20 {
		applyDNS0x20(q.msg, c.randSrc)
	}
	if c.opts.EDNSPacketSize > 0 && !hasOPT(q.msg) {
		q.msg.SetEdns0(c.opts.EDNSPacketSize, false)
	}
	c.dispatchLocked(q, now)
}

// assignFreshQID gives q a new qid, rekeying the by-qid index. Called at
// the start of every dispatch attempt, not only the first, so a response
// to an earlier attempt (already abandoned to a timeout or failover) can
// never be mistaken for the query's current attempt (spec.md §8 scenario
// 6's "new qid" requirement). On a retry the previous attempt's qid stays
// reserved while the new one is drawn, so the draw cannot hand it back.
func (c *Channel) assignFreshQID(q *Query) {
	if _, taken := c.queries.byQID[q.qid]; !taken && q.server != nil {
		c.queries.byQID[q.qid] = q
	}
	qid := c.nextQID()
	c.queries.rekey(q, qid)
	q.msg.Id = qid
}

// endQuery implements ares_detach_query + invoking the completion
// callback exactly once (spec.md §4.1, §4.6, §4.8). It is always called
// with c.mu held.
func (c *Channel) endQuery(q *Query, now time.Time, resp *dns.Msg, err error) {
	if q.cancelled {
		return
	}
	q.cancelled = true
	c.queries.remove(q)
	detachFromConn(q)

	if err == nil && resp != nil && c.cache != nil {
		c.cache.Insert(now, q.msg, resp)
	}
	cb := q.onComplete
	if cb != nil {
		cb(resp, err)
	}
}

// detachForRetry implements the common prefix of ares__requeue_query and a
// direct ares__send_query retry: pull q off its current connection and out
// of the by-deadline index, then report whether the channel is still
// accepting dispatches.
func (c *Channel) detachForRetry(q *Query, now time.Time) (live bool) {
	detachFromConn(q)
	if q.timeoutElem != nil {
		c.queries.byDeadline.Remove(q.timeoutElem)
		q.timeoutElem = nil
	}
	if c.closed {
		c.endQuery(q, now, nil, StatusCancelled)
		return false
	}
	return true
}

// resendLocked implements a direct ares__send_query retry, as used for the
// truncation-to-TCP upgrade and the EDNS-strip-and-resend path (spec.md
// §4.5 steps 7-8): neither counts against the retry budget or bumps the
// per-round backoff, unlike every other retry path which goes through
// requeueQuery.
func (c *Channel) resendLocked(q *Query, now time.Time) {
	if !c.detachForRetry(q, now) {
		return
	}
	c.dispatchLocked(q, now)
}

// requeueQuery implements ares__requeue_query: detach q from its current
// connection (if any) and either retry it against the next server or fail
// it permanently once the retry budget is exhausted (spec.md §4.8). The
// retry budget is num_servers * Retries, spread across as many trips
// through the server list as that allows (spec.md §4.6/§4.8).
func (c *Channel) requeueQuery(q *Query, now time.Time, status Status, respForCache *dns.Msg) {
	if q.cancelled {
		return
	}
	if !c.detachForRetry(q, now) {
		return
	}

	q.attempt++
	maxTries := c.servers.len() * c.opts.Retries
	if maxTries <= 0 {
		maxTries = c.opts.Retries
	}
	if q.attempt >= maxTries {
		if c.metrics != nil && q.server != nil {
			c.metrics.Record(q, q.server, status)
		}
		var cause error
		if status == StatusTimeout {
			cause = &QueryTimeoutError{QID: q.qid}
		}
		c.endQuery(q, now, nil, wrapErr(status, cause))
		return
	}

	c.dispatchLocked(q, now)
}
