package aresgo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockedRandSourceConcurrentUse(t *testing.T) {
	src := NewRandSource()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = src.Byte()
			_ = src.Uint16()
		}()
	}
	wg.Wait()
}

func TestApplyDNS0x20OnlyTouchesLetters(t *testing.T) {
	m := newTestQuestion()
	original := m.Question[0].Name

	// a RandSource that always flips case.
	applyDNS0x20(m, fixedRandSource{b: 1})

	assert.Equal(t, len(original), len(m.Question[0].Name))
	assert.True(t, equalFold(original, m.Question[0].Name))
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
