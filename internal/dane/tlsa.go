/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package dane implements verification of the server certificate chain
// against TLSA records (RFC 6698, RFC 7672).
package dane

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/exterrors"
)

// Entry is a usable TLSA record.
type Entry struct {
	// IsEndEntity is set for DANE-EE(3) records, DANE-TA(2) records match
	// any certificate except for the leaf.
	IsEndEntity bool
	// IsSPKI is set for SPKI(1) selector, full certificate is matched
	// otherwise.
	IsSPKI bool
	// IsSHA256 is set for SHA2-256(1) matching type. Otherwise, Data length
	// determines the algorithm: 64 bytes is SHA2-512, 20 bytes is SHA-1 and
	// anything else is compared as is.
	IsSHA256 bool
	Data     []byte
}

// Tlsa is a set of TLSA records for a single host.
type Tlsa struct {
	Entries          []Entry
	HasEndEntities   bool
	HasIntermediates bool

	// DNSSECValidated is set by LookupTLSA if the records were received
	// with the AD flag set.
	DNSSECValidated bool
}

// NewTlsa creates the Tlsa set, HasEndEntities and HasIntermediates are
// computed from entries.
func NewTlsa(entries []Entry) *Tlsa {
	t := &Tlsa{Entries: entries}
	for _, e := range entries {
		if e.IsEndEntity {
			t.HasEndEntities = true
		} else {
			t.HasIntermediates = true
		}
	}
	return t
}

// FromRecords converts TLSA resource records into the Tlsa set.
//
// Records with PKIX-TA(0) and PKIX-EE(1) usages, unknown selectors and
// matching types are not usable for SMTP and are ignored (RFC 7672 Section
// 3.1). Records with malformed association data cause an error.
func FromRecords(recs []dns.TLSA) (*Tlsa, error) {
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		var e Entry
		switch rec.Usage {
		case 2:
		case 3:
			e.IsEndEntity = true
		default:
			continue
		}
		switch rec.Selector {
		case 0:
		case 1:
			e.IsSPKI = true
		default:
			continue
		}

		switch rec.MatchingType {
		case 0, 1, 2:
		default:
			continue
		}

		data, err := hex.DecodeString(rec.Certificate)
		if err != nil {
			return nil, &Error{Kind: InvalidTlsa, Host: rec.Hdr.Name, Reason: "malformed association data", Err: err}
		}

		switch rec.MatchingType {
		case 1:
			if len(data) != 32 {
				return nil, &Error{Kind: InvalidTlsa, Host: rec.Hdr.Name,
					Reason: fmt.Sprintf("SHA2-256 association data length is %d", len(data))}
			}
			e.IsSHA256 = true
		case 2:
			if len(data) != 64 {
				return nil, &Error{Kind: InvalidTlsa, Host: rec.Hdr.Name,
					Reason: fmt.Sprintf("SHA2-512 association data length is %d", len(data))}
			}
		}
		e.Data = data

		entries = append(entries, e)
	}
	return NewTlsa(entries), nil
}

// TLSAResolver is implemented by dns.ExtResolver.
type TLSAResolver interface {
	AuthLookupTLSA(ctx context.Context, service, network, domain string) (ad bool, recs []dns.TLSA, err error)
}

// LookupTLSA looks up the TLSA records for SMTP server at host
// (_25._tcp.host). Records must be DNSSEC-authenticated.
func LookupTLSA(ctx context.Context, resolver TLSAResolver, host string) (*Tlsa, error) {
	aHost, err := dns.ToASCII(host)
	if err != nil {
		return nil, &Error{Kind: DNSLookup, Host: host, Err: err}
	}

	start := time.Now()
	ad, recs, err := resolver.AuthLookupTLSA(ctx, "25", "tcp", aHost)
	if err != nil {
		if dns.IsNotFound(err) {
			lookupsCnt.WithLabelValues("not_found").Inc()
			return nil, &Error{Kind: NoTlsaRecords, Host: aHost}
		}
		lookupsCnt.WithLabelValues("error").Inc()
		if exterrors.IsTimeout(err) {
			var limit time.Duration
			if deadline, ok := ctx.Deadline(); ok {
				limit = deadline.Sub(start)
			}
			return nil, &Error{Kind: Timeout, Host: aHost, Operation: "tlsa_lookup",
				Timeout: limit, Elapsed: time.Since(start), Err: err}
		}
		return nil, &Error{Kind: DNSLookup, Host: aHost, Err: err}
	}
	if len(recs) == 0 {
		lookupsCnt.WithLabelValues("not_found").Inc()
		return nil, &Error{Kind: NoTlsaRecords, Host: aHost}
	}
	if !ad {
		lookupsCnt.WithLabelValues("insecure").Inc()
		return nil, &Error{Kind: DNSSECValidation, Host: aHost, Reason: "TLSA records are not DNSSEC-authenticated"}
	}

	tlsa, err := FromRecords(recs)
	if err != nil {
		lookupsCnt.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if len(tlsa.Entries) == 0 {
		lookupsCnt.WithLabelValues("invalid").Inc()
		return nil, &Error{Kind: InvalidTlsa, Host: aHost, Reason: "no usable TLSA records"}
	}
	tlsa.DNSSECValidated = true

	lookupsCnt.WithLabelValues("ok").Inc()
	return tlsa, nil
}
