package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// categoryMarkers are the histogram bar glyphs, one per category.
var categoryMarkers = [categoryCount]string{"#", "-"}

const timestampLayout = "2006-01-02 15:04:05.000000"

func rcodeName(rcode int) string {
	if name, ok := dns.RcodeToString[rcode]; ok {
		return name
	}
	return fmt.Sprintf("RCODE%d", rcode)
}

// printReport writes the run summary: per-worker QPS, aggregate counters,
// completion percentages, wall-clock bounds, and the latency histogram.
func printReport(w io.Writer, results []workerResult, merged workerStats, wallStart, wallEnd time.Time, opts *Options) {
	fmt.Fprint(w, "\nStatistics:\n\n")

	var totalQPS float64
	for _, res := range results {
		qps := res.stats.qps()
		totalQPS += qps
		fmt.Fprintf(w, "  Queries per second #%d:  %f qps\n", res.id, qps)
	}
	if len(results) > 1 {
		fmt.Fprintf(w, "         Summarized QPS:  %f qps\n", totalQPS)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Queries sent:         %d queries\n", merged.QueriesSent)
	fmt.Fprintf(w, "  Queries completed:    %d queries\n", merged.QueriesCompleted)
	fmt.Fprintln(w)

	if opts.CountRcodes {
		for rcode, count := range merged.Rcodes {
			if count != 0 {
				fmt.Fprintf(w, "  Returned %-10s : %d\n", rcodeName(rcode), count)
			}
		}
		fmt.Fprintln(w)
	}

	if merged.QueriesSent > 0 {
		completed := 100 * float64(merged.QueriesCompleted) / float64(merged.QueriesSent)
		lost := 100 * float64(merged.QueriesSent-merged.QueriesCompleted) / float64(merged.QueriesSent)
		fmt.Fprintf(w, "  Percentage completed: %6.2f%%\n", completed)
		fmt.Fprintf(w, "  Percentage lost:      %6.2f%%\n", lost)
	} else {
		fmt.Fprintln(w, "  Percentage completed: N/A")
		fmt.Fprintln(w, "  Percentage lost:      N/A")
	}
	fmt.Fprintln(w)

	elapsed := wallEnd.Sub(wallStart).Seconds()
	fmt.Fprintf(w, "  Started at:           %s\n", wallStart.Format(timestampLayout))
	fmt.Fprintf(w, "  Finished at:          %s\n", wallEnd.Format(timestampLayout))
	fmt.Fprintf(w, "  Run for:              %f seconds\n", elapsed)
	fmt.Fprintln(w)

	var overallQPS float64
	if elapsed > 0 {
		overallQPS = float64(merged.QueriesCompleted) / elapsed
	}
	fmt.Fprintf(w, "  Queries per second:   %f qps\n\n", overallQPS)

	printHistogram(w, merged)
}

// printHistogram renders the two-category latency distribution with
// per-bucket counts, percentages, and bars scaled to the fullest bucket.
func printHistogram(w io.Writer, s workerStats) {
	if s.NBuckets == 0 || len(s.Buckets) == 0 {
		return
	}

	maxval := uint64(1)
	for _, b := range s.Buckets {
		if t := b.total(); t > maxval {
			maxval = t
		}
	}

	if s.QueriesCompleted > 0 {
		fmt.Fprintf(w, "\nAverage latency: %f s\n", s.LatencySum/float64(s.QueriesCompleted))
	}
	fmt.Fprintf(w, "\nResponse latency distribution (total %d responses):\n\n", s.QueriesCompleted)
	fmt.Fprintln(w, "    Latency    Success  %  Fail  % |")

	prec := int(math.Log10(float64(s.NBuckets)))
	width := s.Window.Seconds() / float64(s.NBuckets)
	for i, b := range s.Buckets {
		op := "< "
		upper := float64(i+1) * width
		if i == s.NBuckets {
			op = ">="
			upper = s.Window.Seconds()
		}
		fmt.Fprintf(w, "%s%8.*fs", op, prec, upper)

		total := b.total()
		for k := range b.categories {
			fmt.Fprintf(w, "%9d ", b.categories[k])
			if total != 0 {
				fmt.Fprintf(w, "%2d ", 100*b.categories[k]/total)
			} else {
				fmt.Fprint(w, " 0 ")
			}
		}
		fmt.Fprint(w, "|")

		for k := range b.categories {
			bars := int(60 * b.categories[k] / maxval)
			fmt.Fprint(w, strings.Repeat(categoryMarkers[k], bars))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprint(w, "\nLegend:\n\n")
	fmt.Fprintln(w, "##### = success responses (RCODE was NOERROR or NXDOMAIN)")
	fmt.Fprintln(w, "----- = failure responses (any other RCODE)")
}
