package aresgo

import (
	"time"

	"github.com/miekg/dns"
)

// QueryCache is the cache collaborator spec.md places out of scope for the
// engine (§1, §6: "the query-level result cache" is an external
// collaborator referenced only through ares_qcache_insert). The response
// handler (C6) calls Insert and, if it returns true, treats the cache as
// having taken ownership of the response record (spec.md §4.5 step 10).
type QueryCache interface {
	// Insert offers a successfully-answered response to the cache.
	// Returns true if the cache took ownership of resp.
	Insert(now time.Time, query, resp *dns.Msg) bool
}

// NopCache is the default QueryCache: it never retains anything, matching
// spec.md's framing of the cache as a purely external, optional
// collaborator.
type NopCache struct{}

func (NopCache) Insert(time.Time, *dns.Msg, *dns.Msg) bool { return false }

var _ QueryCache = NopCache{}
