package main

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordResponseCounters(t *testing.T) {
	s := newWorkerStats(10, time.Second)

	s.recordResponse(dns.RcodeSuccess, 0.010)
	s.recordResponse(dns.RcodeNameError, 0.150)
	s.recordResponse(dns.RcodeServerFailure, 0.050)

	assert.EqualValues(t, 3, s.QueriesCompleted)
	assert.EqualValues(t, 1, s.Rcodes[dns.RcodeSuccess])
	assert.EqualValues(t, 1, s.Rcodes[dns.RcodeNameError])
	assert.EqualValues(t, 1, s.Rcodes[dns.RcodeServerFailure])

	assert.InDelta(t, 0.010, s.LatencyMin, 1e-9)
	assert.InDelta(t, 0.150, s.LatencyMax, 1e-9)
	assert.InDelta(t, 0.210, s.LatencySum, 1e-9)
}

func TestHistogramBucketing(t *testing.T) {
	s := newWorkerStats(10, time.Second)

	s.recordResponse(dns.RcodeSuccess, 0.0)       // bucket 0
	s.recordResponse(dns.RcodeSuccess, 0.05)      // bucket 0
	s.recordResponse(dns.RcodeNameError, 0.15)    // bucket 1
	s.recordResponse(dns.RcodeServerFailure, 0.95) // bucket 9
	s.recordResponse(dns.RcodeSuccess, 1.0)       // overflow
	s.recordResponse(dns.RcodeSuccess, 42.0)      // overflow
	s.recordResponse(dns.RcodeSuccess, -0.001)    // clamped to bucket 0

	assert.EqualValues(t, 3, s.Buckets[0].total())
	assert.EqualValues(t, 1, s.Buckets[1].total())
	assert.EqualValues(t, 1, s.Buckets[9].total())
	assert.EqualValues(t, 2, s.Buckets[10].total())

	// NOERROR and NXDOMAIN are successes, everything else is a failure.
	assert.EqualValues(t, 1, s.Buckets[1].categories[categorySuccess])
	assert.EqualValues(t, 1, s.Buckets[9].categories[categoryFailure])

	assert.Equal(t, s.QueriesCompleted, s.histogramTotal())
}

func TestHistogramDisabled(t *testing.T) {
	s := newWorkerStats(0, time.Second)
	s.recordResponse(dns.RcodeSuccess, 0.01)

	assert.Nil(t, s.Buckets)
	assert.EqualValues(t, 1, s.QueriesCompleted)
}

func sampleStats(sent, completed uint64, minLat, maxLat float64, start time.Time) workerStats {
	s := newWorkerStats(4, time.Second)
	s.Start = start
	s.End = start.Add(time.Second)
	s.QueriesSent = sent
	for i := uint64(0); i < completed; i++ {
		lat := minLat + (maxLat-minLat)*float64(i)/float64(completed)
		rcode := dns.RcodeSuccess
		if i%3 == 0 {
			rcode = dns.RcodeRefused
		}
		s.recordResponse(rcode, lat)
	}
	s.LatencyMin = minLat
	s.LatencyMax = maxLat
	return s
}

func TestMergeStatsCommutativeAssociative(t *testing.T) {
	base := time.Now()
	a := sampleStats(100, 80, 0.001, 0.2, base)
	b := sampleStats(50, 50, 0.0005, 0.9, base.Add(time.Millisecond))
	c := sampleStats(10, 0, 0, 0, base.Add(2*time.Millisecond))

	mergeAll := func(order ...workerStats) workerStats {
		merged := newWorkerStats(4, time.Second)
		for _, s := range order {
			mergeStats(&merged, s)
		}
		return merged
	}

	abc := mergeAll(a, b, c)
	cba := mergeAll(c, b, a)
	bac := mergeAll(b, a, c)
	assert.Equal(t, abc, cba)
	assert.Equal(t, abc, bac)

	// Nesting does not matter either.
	left := mergeAll(a, b)
	mergeStats(&left, c)
	right := newWorkerStats(4, time.Second)
	bc := mergeAll(b, c)
	mergeStats(&right, a)
	mergeStats(&right, bc)
	assert.Equal(t, left, right)

	assert.EqualValues(t, 160, abc.QueriesSent)
	assert.EqualValues(t, 130, abc.QueriesCompleted)
	assert.InDelta(t, 0.0005, abc.LatencyMin, 1e-9)
	assert.InDelta(t, 0.9, abc.LatencyMax, 1e-9)
	assert.Equal(t, abc.QueriesCompleted, abc.histogramTotal())
}

func TestMergeStatsEmptySides(t *testing.T) {
	base := time.Now()
	a := sampleStats(10, 8, 0.01, 0.02, base)

	merged := newWorkerStats(4, time.Second)
	mergeStats(&merged, newWorkerStats(4, time.Second))
	mergeStats(&merged, a)
	mergeStats(&merged, newWorkerStats(4, time.Second))

	assert.EqualValues(t, 10, merged.QueriesSent)
	assert.EqualValues(t, 8, merged.QueriesCompleted)
	assert.InDelta(t, 0.01, merged.LatencyMin, 1e-9)
	assert.InDelta(t, 0.02, merged.LatencyMax, 1e-9)
}

func TestWorkerQPS(t *testing.T) {
	s := newWorkerStats(0, time.Second)
	s.Start = time.Now()
	s.End = s.Start.Add(2 * time.Second)
	s.QueriesCompleted = 100
	assert.InDelta(t, 50.0, s.qps(), 1e-9)

	var empty workerStats
	require.Zero(t, empty.qps())
}
