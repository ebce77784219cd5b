package aresgo

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameQuestionsCaseSensitivity(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("Example.COM.", dns.TypeA)

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)

	assert.True(t, sameQuestions(query, resp, false, false), "case-insensitive match without DNS 0x20")
	assert.False(t, sameQuestions(query, resp, true, false), "case-sensitive match required over UDP with DNS 0x20")
	assert.True(t, sameQuestions(query, resp, true, true), "a TCP retransmit of a 0x20 query stays case-insensitive")
}

func TestSameQuestionsRejectsMismatch(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeAAAA)
	assert.False(t, sameQuestions(query, resp, false, false))

	resp2 := new(dns.Msg)
	resp2.SetQuestion("other.com.", dns.TypeA)
	assert.False(t, sameQuestions(query, resp2, false, false))
}

func TestHasOPTAndStripOPT(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	assert.False(t, hasOPT(m))

	m.SetEdns0(4096, false)
	assert.True(t, hasOPT(m))

	ok := stripOPT(m)
	assert.True(t, ok)
	assert.False(t, hasOPT(m))

	assert.False(t, stripOPT(m), "stripping an OPT-less message reports no-op")
}

func TestPackTCPRoundTrip(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Id = 0x1234

	raw, err := DefaultMessageCodec.PackTCP(m)
	require.NoError(t, err)
	require.True(t, len(raw) > 2)

	length := int(raw[0])<<8 | int(raw[1])
	assert.Equal(t, len(raw)-2, length)

	back, err := DefaultMessageCodec.Unpack(raw[2:])
	require.NoError(t, err)
	assert.Equal(t, m.Id, back.Id)
	assert.Equal(t, qName(m), qName(back))
}
