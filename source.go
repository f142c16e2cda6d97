package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// QueryRecord is one entry of the query script: an owner name plus the
// query type and class to ask for. Records are immutable once parsed.
type QueryRecord struct {
	Name   string
	Qtype  uint16
	Qclass uint16
}

// QuerySource produces an infinite sequence of query records, restarting
// from the beginning of the script whenever the input is exhausted.
type QuerySource interface {
	Next() (QueryRecord, error)
}

// parseRecord parses a single script line of the form
// "<owner> [<qtype>] [<qclass>]". The caller has already stripped blank
// lines and comments.
func parseRecord(line string, defaultClass uint16) (QueryRecord, error) {
	parts := strings.Fields(line)
	if len(parts) > 3 {
		return QueryRecord{}, fmt.Errorf("expected 'owner [qtype] [qclass]', but was '%s'", line)
	}

	owner, err := idna.ToASCII(strings.TrimSuffix(parts[0], "."))
	if err != nil {
		return QueryRecord{}, fmt.Errorf("invalid owner name '%s': %w", parts[0], err)
	}
	if owner == "" {
		return QueryRecord{}, fmt.Errorf("empty owner name in line '%s'", line)
	}

	rec := QueryRecord{
		Name:   dns.Fqdn(owner),
		Qtype:  dns.TypeA,
		Qclass: defaultClass,
	}

	if len(parts) >= 2 {
		qtype, ok := dns.StringToType[strings.ToUpper(parts[1])]
		if !ok {
			return QueryRecord{}, fmt.Errorf("unsupported qtype '%s'", parts[1])
		}
		rec.Qtype = qtype
	}
	if len(parts) == 3 {
		qclass, ok := dns.StringToClass[strings.ToUpper(parts[2])]
		if !ok {
			return QueryRecord{}, fmt.Errorf("unsupported qclass '%s'", parts[2])
		}
		rec.Qclass = qclass
	}
	return rec, nil
}

func skippable(line string) bool {
	return line == "" || strings.HasPrefix(line, ";")
}

// StreamingSource lazily parses one record per call. Seekable inputs are
// rewound on exhaustion; for pipes and inline text the records seen during
// the first pass are replayed instead.
type StreamingSource struct {
	reader   io.Reader
	scanner  *bufio.Scanner
	defClass uint16
	lineno   int

	seekable  bool
	yielded   int
	seen      []QueryRecord
	replay    int
	replaying bool
}

func NewStreamingSource(r io.Reader, defaultClass uint16) *StreamingSource {
	seekable := false
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekCurrent); err == nil {
			seekable = true
		}
	}
	return &StreamingSource{
		reader:   r,
		scanner:  bufio.NewScanner(r),
		defClass: defaultClass,
		seekable: seekable,
	}
}

func (s *StreamingSource) Next() (QueryRecord, error) {
	if s.replaying {
		rec := s.seen[s.replay%len(s.seen)]
		s.replay++
		return rec, nil
	}

	for {
		for s.scanner.Scan() {
			s.lineno++
			line := strings.TrimSpace(s.scanner.Text())
			if skippable(line) {
				continue
			}

			rec, err := parseRecord(line, s.defClass)
			if err != nil {
				return QueryRecord{}, fmt.Errorf("query script line %d: %w", s.lineno, err)
			}
			if !s.seekable {
				s.seen = append(s.seen, rec)
			}
			s.yielded++
			return rec, nil
		}
		if err := s.scanner.Err(); err != nil {
			return QueryRecord{}, fmt.Errorf("reading query script: %w", err)
		}

		// Input exhausted. Rewind if we can, replay otherwise.
		if s.yielded == 0 {
			return QueryRecord{}, fmt.Errorf("query script contains no records")
		}
		if s.seekable {
			if _, err := s.reader.(io.Seeker).Seek(0, io.SeekStart); err != nil {
				return QueryRecord{}, fmt.Errorf("rewinding query script: %w", err)
			}
			s.scanner = bufio.NewScanner(s.reader)
			s.lineno = 0
			continue
		}
		s.replaying = true
		return s.Next()
	}
}

// PreloadedSource parses the whole script up front and cycles through the
// records. Construction fails on the first malformed record.
type PreloadedSource struct {
	records []QueryRecord
	next    int
}

func NewPreloadedSource(r io.Reader, defaultClass uint16) (*PreloadedSource, error) {
	var records []QueryRecord

	lineno := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if skippable(line) {
			continue
		}

		rec, err := parseRecord(line, defaultClass)
		if err != nil {
			return nil, fmt.Errorf("query script line %d: %w", lineno, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading query script: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("query script contains no records")
	}
	return &PreloadedSource{records: records}, nil
}

func (s *PreloadedSource) Next() (QueryRecord, error) {
	rec := s.records[s.next%len(s.records)]
	s.next++
	return rec, nil
}
