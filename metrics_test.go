package aresgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEWMAMetricsDefaultsBeforeAnySample(t *testing.T) {
	m := NewEWMAMetrics("metrics-default", 250*time.Millisecond)
	s := &Server{addr: "10.0.0.1:53"}
	assert.Equal(t, int64(250), m.ServerTimeout(s, time.Now()))
}

func TestEWMAMetricsRecordTracksSuccessLatency(t *testing.T) {
	m := NewEWMAMetrics("metrics-record", 100*time.Millisecond)
	m.Alpha = 1 // fully weight the latest sample, for a deterministic assertion
	s := &Server{addr: "10.0.0.2:53"}

	q := &Query{sentAt: time.Now().Add(-40 * time.Millisecond)}
	m.Record(q, s, StatusSuccess)

	got := m.ServerTimeout(s, time.Now())
	assert.InDelta(t, 100, got, 20, "a fast sample must not be allowed to push the estimate below the configured floor")
}

func TestEWMAMetricsIgnoresNonSuccessForLatency(t *testing.T) {
	m := NewEWMAMetrics("metrics-ignore", 100*time.Millisecond)
	s := &Server{addr: "10.0.0.3:53"}

	q := &Query{sentAt: time.Now().Add(-5 * time.Second)}
	m.Record(q, s, StatusTimeout)

	assert.Equal(t, int64(100), m.ServerTimeout(s, time.Now()), "a timeout must not perturb the latency estimate")
}
