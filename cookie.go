package aresgo

import (
	"time"

	"github.com/miekg/dns"
)

// CookieValidator is the DNS-cookie collaborator spec.md places out of
// scope for the engine (§1, §6): cookie generation/validation is
// implemented elsewhere. Apply attaches a cookie to an outgoing query;
// Validate offers an incoming response to the validator, which may itself
// requeue the query (spec.md §4.5 step 5: "the validator is responsible
// for any necessary requeue").
type CookieValidator interface {
	Apply(conn *Connection, now time.Time, q *dns.Msg) error
	Validate(conn *Connection, now time.Time, query *Query, resp *dns.Msg) bool
}

// NopCookieJar is the default CookieValidator: it never mutates a query
// and always accepts a response, matching spec.md's framing of cookies as
// an optional external collaborator.
type NopCookieJar struct{}

func (NopCookieJar) Apply(*Connection, time.Time, *dns.Msg) error        { return nil }
func (NopCookieJar) Validate(*Connection, time.Time, *Query, *dns.Msg) bool { return true }

var _ CookieValidator = NopCookieJar{}
