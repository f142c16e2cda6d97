package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// workerResult carries one worker's stats back to the pool by value.
// Partial stats are merged even when the worker failed.
type workerResult struct {
	id    int
	stats workerStats
	err   error
}

// buildSources opens one query source per worker. Every failure here is a
// configuration-stage error, surfaced before any worker starts.
func buildSources(opts *Options) ([]QuerySource, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	sources := make([]QuerySource, 0, opts.Workers)
	for range opts.Workers {
		var r io.Reader
		switch {
		case opts.QueryText != "":
			r = strings.NewReader(opts.QueryText)
		case opts.Datafile == "-":
			r = os.Stdin
		default:
			f, err := os.Open(opts.Datafile)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("opening query script: %w", err)
			}
			closers = append(closers, f)
			r = f
		}

		if opts.Preload {
			src, err := NewPreloadedSource(r, opts.ClassCode)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			sources = append(sources, src)
		} else {
			sources = append(sources, NewStreamingSource(r, opts.ClassCode))
		}
	}
	return sources, cleanup, nil
}

// runWorkers spawns one dispatcher per worker, joins them all, and returns
// the per-worker results in worker order. Worker failures are logged; their
// partial statistics still count. The returned wall-clock bounds span
// before-first-spawn to after-last-join.
func runWorkers(opts *Options) ([]workerResult, time.Time, time.Time, error) {
	sources, cleanup, err := buildSources(opts)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	defer cleanup()

	qps := perWorkerRate(opts.QPS, opts.Workers)
	results := make([]workerResult, opts.Workers)
	resCh := make(chan workerResult, opts.Workers)

	wallStart := time.Now()
	for i := range opts.Workers {
		disp := newDispatcher(dispatcherConfig{
			workerID:       i,
			protocol:       opts.Protocol,
			target:         opts.target(),
			qps:            qps,
			duration:       time.Duration(opts.Duration) * time.Second,
			timeout:        opts.Timeout,
			maxOutstanding: opts.MaxOutstanding,
			edns:           opts.ednsEnabled(),
			dnssec:         opts.dnssecEnabled(),
			nbuckets:       opts.Buckets,
			window:         time.Duration(opts.HistTime) * time.Second,
			statsInterval:  opts.StatsInterval,
		}, sources[i])

		go func(id int) {
			stats, err := disp.run()
			resCh <- workerResult{id: id, stats: stats, err: err}
		}(i)
	}

	for range opts.Workers {
		res := <-resCh
		if res.err != nil {
			log.Printf("Worker %d died unexpectedly: %v", res.id, res.err)
		}
		results[res.id] = res
	}
	wallEnd := time.Now()

	return results, wallStart, wallEnd, nil
}

// mergeResults folds all per-worker stats into one value.
func mergeResults(results []workerResult, opts *Options) workerStats {
	merged := newWorkerStats(opts.Buckets, time.Duration(opts.HistTime)*time.Second)
	for _, res := range results {
		mergeStats(&merged, res.stats)
	}
	return merged
}
