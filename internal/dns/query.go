package dns

// QueryOptions controls the header flags and EDNS pseudo-record attached to a
// query built by BuildQuery.
type QueryOptions struct {
	RD             bool   // Recursion Desired
	CD             bool   // Checking Disabled (DNSSEC)
	DNSSEC         bool   // DO flag: request DNSSEC records
	EDNS           bool   // attach an OPT additional record
	EDNSSize       int    // advertised UDP payload size when EDNS is set
	LengthPrefixed bool   // prepend a 2-byte big-endian length (TCP/DoT framing)
	FixedID        uint16 // written verbatim into the ID field before offsets are reported
}

// BuildQuery encodes a single-question DNS query for name/qtype and reports
// where its transaction-ID and qtype bytes live in the returned slice, so a
// caller can repeatedly overwrite just those bytes without re-encoding.
func BuildQuery(name string, qtype uint16, opts QueryOptions) (out []byte, idOffset int, qtypeOffset int, err error) {
	flags := uint16(0)
	if opts.RD {
		flags |= RDFlag
	}
	if opts.CD {
		flags |= CDFlag
	}

	p := Packet{
		Header:    Header{ID: opts.FixedID, Flags: flags},
		Questions: []Question{{Name: name, Type: qtype, Class: uint16(ClassIN)}},
	}
	if opts.EDNS {
		opt := CreateOPT(opts.EDNSSize)
		opt.DNSSECOk = opts.DNSSEC
		p.Additionals = append(p.Additionals, Record{
			Type:  uint16(TypeOPT),
			Class: opt.UDPPayloadSize,
			TTL:   packOPTTTL(opt.ExtendedRCode, opt.Version, opt.DNSSECOk),
			Data:  MarshalEDNSOptions(opt.Options),
		})
	}

	encoded, err := p.Marshal()
	if err != nil {
		return nil, 0, 0, err
	}

	encodedName, err := EncodeName(name)
	if err != nil {
		return nil, 0, 0, err
	}
	qtypeOffset = HeaderSize + len(encodedName)
	idOffset = 0

	if opts.LengthPrefixed {
		framed := make([]byte, 2+len(encoded))
		framed[0] = byte(len(encoded) >> 8)
		framed[1] = byte(len(encoded))
		copy(framed[2:], encoded)
		encoded = framed
		idOffset = 2
		qtypeOffset += 2
	}

	return encoded, idOffset, qtypeOffset, nil
}
