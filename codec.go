package main

import (
	"fmt"

	"github.com/miekg/dns"
)

// ednsBufferSize is the UDP payload size advertised in the OPT record.
const ednsBufferSize = 4096

// buildQuery renders a query record into wire format. The transaction ID is
// rejection-sampled until it is not claimed by inUse, so that it is unique
// among the worker's outstanding UDP queries at send time.
func buildQuery(rec QueryRecord, edns, dnssec bool, inUse func(uint16) bool) (uint16, []byte, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(rec.Name, rec.Qtype)
	msg.Question[0].Qclass = rec.Qclass
	msg.RecursionDesired = true

	// DO requires the OPT record, so EDNS stays on whenever DNSSEC is on.
	if edns || dnssec {
		msg.SetEdns0(ednsBufferSize, dnssec)
	}

	for inUse(msg.Id) {
		msg.Id = dns.Id()
	}

	wire, err := msg.Pack()
	if err != nil {
		return 0, nil, fmt.Errorf("packing query for %s: %w", rec.Name, err)
	}
	return msg.Id, wire, nil
}

// parseResponse extracts the transaction ID and response code from a wire
// format response.
func parseResponse(payload []byte) (uint16, int, error) {
	var msg dns.Msg
	if err := msg.Unpack(payload); err != nil {
		return 0, 0, fmt.Errorf("unpacking response: %w", err)
	}
	if !msg.Response {
		return 0, 0, fmt.Errorf("message is not a response")
	}
	return msg.Id, msg.Rcode, nil
}
