package main

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// dispatcherConfig is the per-worker slice of the run configuration. It is
// read-only once the worker starts.
type dispatcherConfig struct {
	workerID       int
	protocol       string
	target         string
	qps            int
	duration       time.Duration
	timeout        time.Duration
	maxOutstanding int
	edns           bool
	dnssec         bool
	nbuckets       int
	window         time.Duration
	statsInterval  time.Duration
}

// dispatcher drives one worker: it paces sends from its query source,
// correlates responses through the in-flight table, and accumulates stats
// until the test duration expires. All bookkeeping happens on the
// worker's own goroutine; the transports only hand over complete responses.
type dispatcher struct {
	cfg    dispatcherConfig
	source QuerySource
}

func newDispatcher(cfg dispatcherConfig, source QuerySource) *dispatcher {
	return &dispatcher{cfg: cfg, source: source}
}

// run executes the send/receive loop until the test duration has elapsed,
// then drains outstanding queries for at most one query timeout. The
// returned stats are valid even when err is non-nil.
func (d *dispatcher) run() (workerStats, error) {
	stats := newWorkerStats(d.cfg.nbuckets, d.cfg.window)
	stats.Start = time.Now()
	stats.End = stats.Start

	var tr Transport
	switch d.cfg.protocol {
	case "tcp":
		tr = newTCPTransport(d.cfg.target, d.cfg.timeout)
	default:
		udp, err := dialUDPTransport(d.cfg.target)
		if err != nil {
			return stats, err
		}
		tr = udp
	}
	defer tr.Close()

	table := newInFlightTable(d.cfg.maxOutstanding)
	start := time.Now()
	stats.Start = start
	endAt := start.Add(d.cfg.duration)
	pc := newPacer(d.cfg.qps, start)

	inUse := func(uint16) bool { return false }
	if d.cfg.protocol == "udp" {
		// Over UDP the transaction ID is the correlation key and must be
		// unique among outstanding queries.
		inUse = table.xidInUse
	}

	var progress *rate.Limiter
	if d.cfg.statsInterval > 0 {
		progress = rate.NewLimiter(rate.Every(d.cfg.statsInterval), 1)
		progress.Allow()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	events := tr.Events()
	draining := false
	var drainUntil time.Time

	for {
		now := time.Now()
		if !draining && !now.Before(endAt) {
			draining = true
			drainUntil = now.Add(d.cfg.timeout)
		}
		if draining && (table.size() == 0 || !now.Before(drainUntil)) {
			break
		}

		// Sleep until the earliest of: next allowed send, oldest
		// outstanding timeout, end of the current phase.
		wakeAt := endAt
		if draining {
			wakeAt = drainUntil
		}
		if !draining && !table.full() {
			if sd := pc.nextDeadline(now); sd.Before(wakeAt) {
				wakeAt = sd
			}
		}
		if oldest, ok := table.oldestSent(); ok {
			if td := oldest.Add(d.cfg.timeout); td.Before(wakeAt) {
				wakeAt = td
			}
		}

		wait := time.Until(wakeAt)
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case ev := <-events:
			d.handleEvent(&stats, table, ev)
			// Drain the response backlog before sending or sweeping so
			// latency measurement stays ahead of rate fidelity.
		pending:
			for {
				select {
				case ev := <-events:
					d.handleEvent(&stats, table, ev)
				default:
					break pending
				}
			}
		case <-timer.C:
		}

		now = time.Now()
		if !draining {
			for !table.full() && now.Before(endAt) && !pc.nextDeadline(now).After(now) {
				if err := d.sendOne(&stats, table, tr, pc, inUse); err != nil {
					stats.End = time.Now()
					return stats, err
				}
				now = time.Now()
			}
		}

		for _, q := range table.expire(now, d.cfg.timeout) {
			tr.Abandon(q.handle)
		}

		if progress != nil && progress.Allow() {
			log.Printf("[Status] worker %d: sent=%d completed=%d inflight=%d",
				d.cfg.workerID, stats.QueriesSent, stats.QueriesCompleted, table.size())
		}
	}

	stats.End = time.Now()
	return stats, nil
}

// handleEvent correlates one response with its outstanding query. Unknown,
// malformed, and late responses are discarded silently.
func (d *dispatcher) handleEvent(stats *workerStats, table *inFlightTable, ev transportEvent) {
	now := time.Now()

	xid, rcode, err := parseResponse(ev.payload)
	if err != nil {
		return
	}

	key := ev.handle
	if d.cfg.protocol == "udp" {
		key = uint64(xid)
	}
	q, ok := table.lookup(key)
	if !ok || q.xid != xid {
		return
	}
	table.remove(key)

	latency := float64(now.Sub(q.sent).Microseconds()) / 1e6
	stats.recordResponse(rcode, latency)
}

// sendOne pulls the next record, builds and transmits the query, and
// registers it in the in-flight table before any response can arrive.
func (d *dispatcher) sendOne(stats *workerStats, table *inFlightTable, tr Transport, pc *pacer, inUse func(uint16) bool) error {
	rec, err := d.source.Next()
	if err != nil {
		return err
	}

	xid, wire, err := buildQuery(rec, d.cfg.edns, d.cfg.dnssec, inUse)
	if err != nil {
		return err
	}

	handle, err := tr.Send(wire)
	if err != nil {
		return fmt.Errorf("sending query for %s: %w", rec.Name, err)
	}

	key := handle
	if d.cfg.protocol == "udp" {
		key = uint64(xid)
	}
	table.insert(key, outstandingQuery{
		xid:    xid,
		qtype:  rec.Qtype,
		handle: handle,
		sent:   time.Now(),
	})
	pc.recordSend()
	stats.QueriesSent++
	return nil
}
