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

package dane

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/miekg/dns"
)

func tlsaRecord(usage, selector, matchType uint8, data string) dns.TLSA {
	return dns.TLSA{
		Hdr: dns.RR_Header{
			Name:   "_25._tcp.mx.example.org.",
			Class:  dns.ClassINET,
			Rrtype: dns.TypeTLSA,
			Ttl:    9999,
		},
		Usage:        usage,
		Selector:     selector,
		MatchingType: matchType,
		Certificate:  data,
	}
}

func TestFromRecords(t *testing.T) {
	sha256Hex := strings.Repeat("ab", 32)
	sha512Hex := strings.Repeat("cd", 64)
	sha256Data, _ := hex.DecodeString(sha256Hex)
	sha512Data, _ := hex.DecodeString(sha512Hex)

	tlsa, err := FromRecords([]dns.TLSA{
		tlsaRecord(3, 1, 1, sha256Hex),
		tlsaRecord(2, 0, 2, sha512Hex),
		tlsaRecord(3, 0, 0, "0102"),
		// Unusable for SMTP.
		tlsaRecord(0, 1, 1, sha256Hex),
		tlsaRecord(1, 1, 1, sha256Hex),
		tlsaRecord(4, 1, 1, sha256Hex),
		tlsaRecord(3, 2, 1, sha256Hex),
		tlsaRecord(3, 1, 5, "whatever"),
	})
	if err != nil {
		t.Fatal(err)
	}

	expected := &Tlsa{
		Entries: []Entry{
			{IsEndEntity: true, IsSPKI: true, IsSHA256: true, Data: sha256Data},
			{Data: sha512Data},
			{IsEndEntity: true, Data: []byte{1, 2}},
		},
		HasEndEntities:   true,
		HasIntermediates: true,
	}
	if !reflect.DeepEqual(tlsa, expected) {
		t.Errorf("wrong result\nwant %+v\ngot  %+v", expected, tlsa)
	}
}

func TestFromRecords_Invalid(t *testing.T) {
	for _, rec := range []dns.TLSA{
		tlsaRecord(3, 1, 1, "not hex"),
		tlsaRecord(3, 1, 1, "abcd"),
		tlsaRecord(2, 1, 2, strings.Repeat("ab", 32)),
	} {
		_, err := FromRecords([]dns.TLSA{rec})
		var daneErr *Error
		if !errors.As(err, &daneErr) || daneErr.Kind != InvalidTlsa {
			t.Errorf("%v: expected InvalidTlsa error, got %v", rec.String(), err)
		}
	}
}

type mockTLSAResolver struct {
	ad   bool
	recs []dns.TLSA
	err  error

	name string
}

func (r *mockTLSAResolver) AuthLookupTLSA(_ context.Context, service, network, domain string) (bool, []dns.TLSA, error) {
	name, err := dns.TLSAName(dns.Fqdn(domain), service, network)
	if err != nil {
		return false, nil, err
	}
	r.name = name
	return r.ad, r.recs, r.err
}

func TestLookupTLSA(t *testing.T) {
	res := &mockTLSAResolver{
		ad:   true,
		recs: []dns.TLSA{tlsaRecord(3, 1, 1, strings.Repeat("ab", 32))},
	}
	tlsa, err := LookupTLSA(context.Background(), res, "MX.example.org")
	if err != nil {
		t.Fatal(err)
	}
	if res.name != "_25._tcp.mx.example.org." {
		t.Errorf("wrong query name: %v", res.name)
	}
	if !tlsa.DNSSECValidated || !tlsa.HasEndEntities || len(tlsa.Entries) != 1 {
		t.Errorf("wrong result: %+v", tlsa)
	}
}

func TestLookupTLSA_Errors(t *testing.T) {
	cases := []struct {
		name      string
		res       *mockTLSAResolver
		kind      ErrorKind
		temporary bool
	}{
		{
			name: "not authenticated",
			res:  &mockTLSAResolver{recs: []dns.TLSA{tlsaRecord(3, 1, 1, strings.Repeat("ab", 32))}},
			kind: DNSSECValidation,
		},
		{
			name: "no records",
			res:  &mockTLSAResolver{ad: true},
			kind: NoTlsaRecords,
		},
		{
			name: "NXDOMAIN",
			res:  &mockTLSAResolver{err: &net.DNSError{Err: "no such host", IsNotFound: true}},
			kind: NoTlsaRecords,
		},
		{
			name: "no usable records",
			res:  &mockTLSAResolver{ad: true, recs: []dns.TLSA{tlsaRecord(1, 1, 1, strings.Repeat("ab", 32))}},
			kind: InvalidTlsa,
		},
		{
			name:      "SERVFAIL",
			res:       &mockTLSAResolver{err: &net.DNSError{Err: "server misbehaving", IsTemporary: true}},
			kind:      DNSLookup,
			temporary: true,
		},
		{
			name:      "timeout",
			res:       &mockTLSAResolver{err: &net.DNSError{Err: "i/o timeout", IsTimeout: true, IsTemporary: true}},
			kind:      Timeout,
			temporary: true,
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := LookupTLSA(context.Background(), c.res, "mx.example.org")
			var daneErr *Error
			if !errors.As(err, &daneErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if daneErr.Kind != c.kind {
				t.Errorf("wrong kind: want %v, got %v (%v)", c.kind, daneErr.Kind, err)
			}
			if daneErr.Temporary() != c.temporary {
				t.Errorf("wrong Temporary value: %v", daneErr.Temporary())
			}
		})
	}
}
