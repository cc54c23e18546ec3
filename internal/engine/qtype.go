package engine

import (
	"fmt"
	"strings"
)

// qtypeNames covers the record types internal/dns knows how to encode plus
// the handful of other common query types snd should be able to send even
// though it never has to parse their RDATA.
var qtypeNames = map[string]uint16{
	"A":     1,
	"NS":    2,
	"CNAME": 5,
	"SOA":   6,
	"PTR":   12,
	"MX":    15,
	"TXT":   16,
	"AAAA":  28,
	"SRV":   33,
	"ANY":   255,
}

// QTypeFromName resolves a query-type name (case-insensitive) or a bare
// numeric RRTYPE to its wire value.
func QTypeFromName(name string) (uint16, bool) {
	if v, ok := qtypeNames[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return v, true
	}
	return parseNumericQType(name)
}

// QTypeName renders a wire qtype as the name a report should show; falls
// back to a bare numeric string for types outside qtypeNames.
func QTypeName(qtype uint16) string {
	for name, v := range qtypeNames {
		if v == qtype {
			return name
		}
	}
	return fmt.Sprintf("TYPE%d", qtype)
}

var rcodeNames = map[uint8]string{
	0: "NOERROR",
	1: "FORMERR",
	2: "SERVFAIL",
	3: "NXDOMAIN",
	4: "NOTIMP",
	5: "REFUSED",
}

// RCodeName renders an RCODE as the name a report should show.
func RCodeName(rcode uint8) string {
	if name, ok := rcodeNames[rcode]; ok {
		return name
	}
	return fmt.Sprintf("RCODE%d", rcode)
}

func parseNumericQType(name string) (uint16, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	var v uint16
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint16(r-'0')
	}
	return v, true
}
