package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/miekg/dns"
)

type Options struct {
	QueryClass  string `short:"C" default:"IN" description:"Default query class for script records that omit it"`
	Datafile    string `short:"d" description:"Input query script file, '-' reads stdin (default: stdin)"`
	DNSSEC      string `short:"D" choice:"on" choice:"off" default:"on" description:"Set the EDNS DO bit"`
	EDNS        string `short:"e" choice:"on" choice:"off" default:"on" description:"Include the EDNS0 OPT record"`
	PrintArgs   bool   `short:"A" description:"Print command-line arguments after the run"`
	Duration    int    `short:"l" default:"30" description:"Test duration in seconds"`
	Preload     bool   `short:"L" description:"Preload the query script into memory"`
	Workers     int    `short:"n" default:"1" description:"Number of worker threads"`
	Port        int    `short:"p" default:"53" description:"Port on which to query the server"`
	Protocol    string `short:"P" choice:"udp" choice:"tcp" default:"udp" description:"Transport protocol for queries"`
	QueryText   string `short:"q" description:"Inline newline-separated query script"`
	QPS         int    `short:"Q" default:"0" description:"Global queries-per-second limit (0 = unlimited)"`
	Server      string `short:"s" default:"127.0.0.1" description:"Server to query"`
	CountRcodes bool   `short:"c" description:"Count rcode of each response"`
	Buckets     int    `short:"H" default:"200" description:"Latency histogram bucket count (0 = disable)"`
	HistTime    int    `short:"T" default:"1" description:"Latency histogram window in seconds"`

	Timeout        time.Duration `long:"timeout" default:"5s" description:"Timeout for query completion"`
	MaxOutstanding int           `long:"max-outstanding" default:"64" description:"Maximum queries in flight per worker"`
	StatsInterval  time.Duration `long:"stats-interval" default:"0s" description:"Print per-worker realtime statistics at this interval (0s = disable)"`

	FlushRedis    bool   `long:"flush-redis" description:"Flush the resolver's Redis cache before the run"`
	RedisAddr     string `long:"redis-addr" default:"localhost:6379" description:"Redis address for --flush-redis"`
	RedisDB       int    `long:"redis-db" default:"0" description:"Redis DB number for --flush-redis"`
	RedisPassword string `long:"redis-password" description:"Redis password for --flush-redis"`

	ClassCode uint16 `no-flag:"true"`
}

func loadOptions(args []string) (*Options, error) {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if opts.Datafile != "" && opts.QueryText != "" {
		return nil, fmt.Errorf("-d and -q cannot be specified at the same time")
	}
	if opts.Datafile == "" && opts.QueryText == "" {
		opts.Datafile = "-"
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("the number of worker threads must be at least 1")
	}
	if opts.Workers > 1 && opts.Datafile == "-" {
		return nil, fmt.Errorf("stdin can be used as input only with 1 thread")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("the test duration must be larger than 0 seconds")
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port number %d", opts.Port)
	}
	if opts.QPS < 0 {
		return nil, fmt.Errorf("the queries-per-second limit must not be negative")
	}
	if opts.Buckets < 0 {
		return nil, fmt.Errorf("the histogram bucket count must not be negative")
	}
	if opts.HistTime <= 0 {
		return nil, fmt.Errorf("must set seconds bigger than 0 for argument -T")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("the query timeout must be larger than 0")
	}
	if opts.MaxOutstanding < 1 {
		return nil, fmt.Errorf("the outstanding query limit must be at least 1")
	}

	qclass, ok := dns.StringToClass[strings.ToUpper(opts.QueryClass)]
	if !ok {
		return nil, fmt.Errorf("unsupported query class '%s'", opts.QueryClass)
	}
	opts.ClassCode = qclass

	if !opts.ednsEnabled() && opts.dnssecEnabled() {
		fmt.Fprintln(os.Stderr, "[WARN] EDNS is disabled but DNSSEC is enabled; EDNS will still be included.")
	}

	return &opts, nil
}

func (o *Options) ednsEnabled() bool   { return o.EDNS == "on" }
func (o *Options) dnssecEnabled() bool { return o.DNSSEC == "on" }

func (o *Options) target() string {
	return net.JoinHostPort(o.Server, strconv.Itoa(o.Port))
}
