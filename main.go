package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	opts, err := loadOptions(args)
	if err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) {
			if fe.Type == flags.ErrHelp {
				return 0
			}
			// go-flags already printed the parse error.
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if opts.FlushRedis {
		log.Printf("[Status] Flushing redis cache at %s", opts.RedisAddr)
		if err := flushRedisCache(context.Background(), opts.RedisAddr, opts.RedisPassword, opts.RedisDB); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	log.Printf("[Status] Processing input data")
	log.Printf("[Status] Sending queries to %s over %s, port %d", opts.Server, opts.Protocol, opts.Port)

	results, wallStart, wallEnd, err := runWorkers(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.Printf("[Status] Testing complete")

	if opts.PrintArgs {
		fmt.Printf("[Status] Arguments: %s\n", strings.Join(args, " "))
	}

	merged := mergeResults(results, opts)
	printReport(os.Stdout, results, merged, wallStart, wallEnd, opts)
	return 0
}
