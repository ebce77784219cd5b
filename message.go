package aresgo

import (
	"encoding/binary"
	"strings"

	"github.com/miekg/dns"
)

// MessageCodec is the parser/serializer collaborator spec.md places out of
// scope for the engine itself (§1, §6): "DNS message parsing/serialization"
// is implemented elsewhere and referenced only through this interface. The
// default implementation wraps github.com/miekg/dns, the codec the whole
// example corpus builds on.
type MessageCodec interface {
	// Unpack parses a raw DNS message.
	Unpack(b []byte) (*dns.Msg, error)

	// PackTCP serializes m in TCP length-prefixed wire form (a 2-byte
	// big-endian length followed by the message), per spec.md §6's wire
	// framing note: "We write using the TCP format even for UDP, we just
	// strip the length before putting on the wire" (ares__conn_query_write).
	PackTCP(m *dns.Msg) ([]byte, error)
}

type defaultCodec struct{}

// DefaultMessageCodec is the miekg/dns-backed MessageCodec used when a
// Channel is not given an explicit override.
var DefaultMessageCodec MessageCodec = defaultCodec{}

func (defaultCodec) Unpack(b []byte) (*dns.Msg, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return nil, err
	}
	return m, nil
}

func (defaultCodec) PackTCP(m *dns.Msg) ([]byte, error) {
	raw, err := m.Pack()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(out, uint16(len(raw)))
	copy(out[2:], raw)
	return out, nil
}

// qName returns the name of the first question in a message, or "" if it
// has none.
func qName(m *dns.Msg) string {
	if len(m.Question) == 0 {
		return ""
	}
	return m.Question[0].Name
}

// sameQuestions validates that a response's question section matches the
// outgoing query byte-for-byte, per spec.md §4.5 step 4. Name comparison is
// case-sensitive when DNS 0x20 is enabled and the query went out over UDP,
// otherwise case-insensitive.
func sameQuestions(query, resp *dns.Msg, dns0x20, usingTCP bool) bool {
	if len(query.Question) != len(resp.Question) {
		return false
	}
	caseSensitive := dns0x20 && !usingTCP
	for i, q := range query.Question {
		a := resp.Question[i]
		if q.Qtype != a.Qtype || q.Qclass != a.Qclass {
			return false
		}
		if caseSensitive {
			if q.Name != a.Name {
				return false
			}
		} else if !strings.EqualFold(q.Name, a.Name) {
			return false
		}
	}
	return true
}

// hasOPT reports whether m carries an EDNS0 OPT pseudo-record.
func hasOPT(m *dns.Msg) bool {
	return m.IsEdns0() != nil
}

// stripOPT removes the OPT RR from the additional section of m, reporting
// whether one was found. Mirrors rewrite_without_edns in the original
// c-ares implementation: if no OPT RR is present this is a no-op failure.
func stripOPT(m *dns.Msg) bool {
	for i, rr := range m.Extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			m.Extra = append(m.Extra[:i:i], m.Extra[i+1:]...)
			return true
		}
	}
	return false
}
